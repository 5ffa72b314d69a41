package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(_ context.Context) error { return f.err }

type fakeKVChecker struct{ available bool }

func (f fakeKVChecker) IsAvailable() bool { return f.available }

func TestBuildReadinessChecks_CatalogUp(t *testing.T) {
	catalogCheck, _ := BuildReadinessChecks(fakePinger{}, fakeKVChecker{available: true})
	require.NoError(t, catalogCheck(context.Background()))
}

func TestBuildReadinessChecks_CatalogDown(t *testing.T) {
	catalogCheck, _ := BuildReadinessChecks(fakePinger{err: errors.New("connection refused")}, fakeKVChecker{available: true})
	require.Error(t, catalogCheck(context.Background()))
}

func TestBuildReadinessChecks_CatalogNilPool(t *testing.T) {
	catalogCheck, _ := BuildReadinessChecks(nil, fakeKVChecker{available: true})
	require.Error(t, catalogCheck(context.Background()))
}

func TestBuildReadinessChecks_KVAvailable(t *testing.T) {
	_, kvCheck := BuildReadinessChecks(fakePinger{}, fakeKVChecker{available: true})
	require.NoError(t, kvCheck(context.Background()))
}

func TestBuildReadinessChecks_KVCircuitOpen(t *testing.T) {
	_, kvCheck := BuildReadinessChecks(fakePinger{}, fakeKVChecker{available: false})
	require.Error(t, kvCheck(context.Background()))
}

func TestBuildReadinessChecks_KVNil(t *testing.T) {
	_, kvCheck := BuildReadinessChecks(fakePinger{}, nil)
	require.Error(t, kvCheck(context.Background()))
}
