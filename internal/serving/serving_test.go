package serving

import (
	"context"
	"testing"
	"time"

	"github.com/relaybank/adserve/internal/adapter/memcatalog"
	"github.com/relaybank/adserve/internal/adapter/memkv"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestServe_ReturnsHighestScoringEligibleAd(t *testing.T) {
	cfg := testConfig(t)
	catalog := memcatalog.New()
	kv := memkv.New()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })

	catalog.Seed(
		domain.Ad{ID: "low-priority", Status: domain.AdStatusActive, Segments: []domain.Segment{domain.SegmentMass}, Channels: []domain.Channel{domain.ChannelMobile}, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Priority: 1},
		domain.Ad{ID: "high-priority", Status: domain.AdStatusActive, Segments: []domain.Segment{domain.SegmentMass}, Channels: []domain.Channel{domain.ChannelMobile}, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Priority: 9},
	)

	o := New(catalog, kv, cfg, nil)
	resp, err := o.Serve(context.Background(), domain.ServeRequest{Balance: 60000, Channel: domain.ChannelMobile, CustomerID: "cust-1"}, now)
	require.NoError(t, err)
	require.Equal(t, "high-priority", resp.AdID)
	require.Equal(t, domain.SegmentMass, resp.Segment)
	require.False(t, resp.Fallback)
}

func TestServe_ValidationErrorOnEmptyCustomerID(t *testing.T) {
	cfg := testConfig(t)
	o := New(memcatalog.New(), memkv.New(), cfg, nil)
	_, err := o.Serve(context.Background(), domain.ServeRequest{Balance: 1000, CustomerID: "  "}, time.Now())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestServe_ValidationErrorOnNegativeBalance(t *testing.T) {
	cfg := testConfig(t)
	o := New(memcatalog.New(), memkv.New(), cfg, nil)
	_, err := o.Serve(context.Background(), domain.ServeRequest{Balance: -1, CustomerID: "cust-1"}, time.Now())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestServe_CacheHitSkipsCatalogLookup(t *testing.T) {
	cfg := testConfig(t)
	catalog := memcatalog.New()
	kv := memkv.New()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })

	catalog.Seed(domain.Ad{ID: "ad-1", Status: domain.AdStatusActive, Segments: []domain.Segment{domain.SegmentMass}, Channels: []domain.Channel{domain.ChannelATM}, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Priority: 1})

	o := New(catalog, kv, cfg, nil)
	req := domain.ServeRequest{Balance: 60000, Channel: domain.ChannelATM, CustomerID: "cust-2"}

	first, err := o.Serve(context.Background(), req, now)
	require.NoError(t, err)
	require.Equal(t, "ad-1", first.AdID)

	catalog.Seed(domain.Ad{ID: "ad-2", Status: domain.AdStatusActive, Segments: []domain.Segment{domain.SegmentMass}, Channels: []domain.Channel{domain.ChannelATM}, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Priority: 999})

	second, err := o.Serve(context.Background(), req, now)
	require.NoError(t, err)
	require.Equal(t, "ad-1", second.AdID, "second call should hit the cache and ignore the newly seeded higher-priority ad")
}

func TestServe_FallsBackWhenAllCandidatesFilteredByFrequencyCap(t *testing.T) {
	cfg := testConfig(t)
	catalog := memcatalog.New()
	kv := memkv.New()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })

	catalog.Seed(domain.Ad{ID: "capped", Status: domain.AdStatusActive, Segments: []domain.Segment{domain.SegmentMass}, Channels: []domain.Channel{domain.ChannelATM}, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Priority: 1})

	o := New(catalog, kv, cfg, nil)
	req := domain.ServeRequest{Balance: 60000, Channel: domain.ChannelATM, CustomerID: "cust-3"}

	for i := 0; i < cfg.FrequencyCapMaxPerDay; i++ {
		resp, err := o.Serve(context.Background(), req, now.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.Equal(t, "capped", resp.AdID)
		kv.Delete(context.Background(), cacheKeyForTest(req.CustomerID))
	}

	resp, err := o.Serve(context.Background(), req, now.Add(10*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "capped", resp.AdID)
	require.True(t, resp.Fallback)
}

func cacheKeyForTest(customerID string) string {
	return "ad:mass:ATM:" + customerID
}

func TestServe_ReturnsNotFoundWhenNoCandidatesMatch(t *testing.T) {
	cfg := testConfig(t)
	o := New(memcatalog.New(), memkv.New(), cfg, nil)
	_, err := o.Serve(context.Background(), domain.ServeRequest{Balance: 60000, Channel: domain.ChannelATM, CustomerID: "cust-4"}, time.Now())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServe_OuterFallbackWhenCatalogErrors(t *testing.T) {
	cfg := testConfig(t)
	catalog := &erroringCatalog{fallback: domain.Ad{ID: "degraded-fallback", Title: "Degraded"}}
	kv := memkv.New()
	o := New(catalog, kv, cfg, nil)

	resp, err := o.Serve(context.Background(), domain.ServeRequest{Balance: 60000, Channel: domain.ChannelATM, CustomerID: "cust-5"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, "degraded-fallback", resp.AdID)
	require.True(t, resp.Fallback)
}

type erroringCatalog struct {
	fallback domain.Ad
}

func (e *erroringCatalog) FindCandidates(context.Context, domain.Segment, domain.Channel, time.Time) ([]domain.Ad, error) {
	return nil, domain.ErrCatalogTimeout
}

func (e *erroringCatalog) FindFallback(context.Context, domain.Segment, domain.Channel, time.Time) (domain.Ad, error) {
	return e.fallback, nil
}

func (e *erroringCatalog) CreateAd(context.Context, domain.Ad) (domain.Ad, error) {
	return domain.Ad{}, nil
}

func (e *erroringCatalog) IncrementImpressions(context.Context, string) error { return nil }
func (e *erroringCatalog) IncrementClicks(context.Context, string) error      { return nil }
