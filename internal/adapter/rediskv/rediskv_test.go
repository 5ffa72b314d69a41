package rediskv_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaybank/adserve/internal/adapter/rediskv"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

func newTestStore(t *testing.T) (*rediskv.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg, err := config.Load()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := rediskv.NewWithClient(client, cfg)

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return store, cleanup
}

func TestGetSetWithTTL_RoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "k1", "v1", 60))
	value, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", value)
}

func TestGet_MissReturnsFalse(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelete_RemovesKey(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "k2", "v2", 60))
	require.NoError(t, store.Delete(ctx, "k2"))
	_, ok, err := store.Get(ctx, "k2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimitAdmit_CardinalityGrowsWithinWindow(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	card1, err := store.RateLimitAdmit(ctx, "ratelimit:ip:1.2.3.4:/serve", now, 60, "m1")
	require.NoError(t, err)
	require.Equal(t, int64(1), card1)

	card2, err := store.RateLimitAdmit(ctx, "ratelimit:ip:1.2.3.4:/serve", now.Add(time.Second), 60, "m2")
	require.NoError(t, err)
	require.Equal(t, int64(2), card2)
}

func TestRateLimitAdmit_PrunesOutsideWindow(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	_, err := store.RateLimitAdmit(ctx, "ratelimit:ip:1.2.3.4:/serve", now, 1, "m1")
	require.NoError(t, err)

	card, err := store.RateLimitAdmit(ctx, "ratelimit:ip:1.2.3.4:/serve", now.Add(2*time.Second), 1, "m2")
	require.NoError(t, err)
	require.Equal(t, int64(1), card, "the first member should have aged out of the 1-second window")
}

func TestScan_FindsMatchingKeys(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "ad:mass:ATM:cust-1", "v", 60))
	require.NoError(t, store.SetWithTTL(ctx, "ad:mass:ATM:cust-2", "v", 60))
	require.NoError(t, store.SetWithTTL(ctx, "ad:hnw:web:cust-3", "v", 60))

	var found []string
	cursor := uint64(0)
	for {
		next, keys, err := store.Scan(ctx, cursor, "ad:mass:ATM:*", 10)
		require.NoError(t, err)
		found = append(found, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	require.Len(t, found, 2)
}

func TestSortedSetAdd_RemoveRange_Cardinality(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SortedSetAdd(ctx, "zs", domain.SortedSetMember{Score: 1, Member: "a"}))
	require.NoError(t, store.SortedSetAdd(ctx, "zs", domain.SortedSetMember{Score: 2, Member: "b"}))

	card, err := store.SortedSetCardinality(ctx, "zs")
	require.NoError(t, err)
	require.Equal(t, int64(2), card)

	require.NoError(t, store.SortedSetRemoveRange(ctx, "zs", 0, 1))
	card, err = store.SortedSetCardinality(ctx, "zs")
	require.NoError(t, err)
	require.Equal(t, int64(1), card)
}

func TestIsAvailable_TrueWhenHealthy(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	require.True(t, store.IsAvailable())
}
