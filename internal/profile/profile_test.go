package profile

import (
	"context"
	"testing"
	"time"

	"github.com/relaybank/adserve/internal/adapter/memkv"
	"github.com/relaybank/adserve/internal/config"
	"github.com/stretchr/testify/require"
)

func TestGetUserProfile_MissReturnsEmpty(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	store := New(memkv.New(), cfg)

	p := store.GetUserProfile(context.Background(), "cust1")
	require.Equal(t, "cust1", p.CustomerID)
	require.Empty(t, p.Impressions)
}

func TestRecordImpression_ThenGet(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	store := New(memkv.New(), cfg)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	store.RecordImpression(context.Background(), "cust1", "ad1", now)
	p := store.GetUserProfile(context.Background(), "cust1")

	require.Len(t, p.Impressions, 1)
	require.Equal(t, "ad1", p.Impressions[0].AdID)
}

func TestRecordImpression_DropsEntriesOutsideRetention(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	store := New(memkv.New(), cfg)
	start := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	store.RecordImpression(context.Background(), "cust1", "old-ad", start)
	later := start.Add(25 * time.Hour)
	store.RecordImpression(context.Background(), "cust1", "new-ad", later)

	p := store.GetUserProfile(context.Background(), "cust1")
	require.Len(t, p.Impressions, 1)
	require.Equal(t, "new-ad", p.Impressions[0].AdID)
}

func TestGetUserProfile_AfterDeleteReturnsEmpty(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	kv := memkv.New()
	store := New(kv, cfg)

	store.RecordImpression(context.Background(), "cust1", "ad1", time.Now())
	require.NoError(t, kv.Delete(context.Background(), "profile:cust1"))

	p := store.GetUserProfile(context.Background(), "cust1")
	require.Empty(t, p.Impressions)
}
