package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond, 0.5)
	require.True(t, cb.IsAvailable())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.IsAvailable())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, 0.5)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.True(t, cb.IsAvailable())
}

func TestCircuitBreaker_ClosesOnSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond, 0.5)
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.True(t, cb.CanExecute())
	require.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Call_SkipsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour, 0.5)
	calls := 0
	_ = cb.Call(func() error {
		calls++
		return errors.New("boom")
	})
	require.Equal(t, StateOpen, cb.GetState())

	err := cb.Call(func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreaker_Call_RecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour, 0.5)
	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Call(func() error { return errors.New("down") })
	assert.Equal(t, StateClosed, cb.GetState())
	_ = cb.Call(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour, 0.5)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.True(t, cb.IsAvailable())
}
