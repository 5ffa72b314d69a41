package scorer

import (
	"testing"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRank_Empty(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Nil(t, Rank(cfg, nil, time.Now()))
}

func TestRank_OrdersByCompositeScoreDescending(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	ads := []domain.Ad{
		{ID: "low-priority", Priority: 1, StartDate: now.Add(-10 * 24 * time.Hour), Impressions: 100, Clicks: 1},
		{ID: "high-priority", Priority: 10, StartDate: now.Add(-1 * 24 * time.Hour), Impressions: 5, Clicks: 0},
	}

	ranked := Rank(cfg, ads, now)
	require.Len(t, ranked, 2)
	require.Equal(t, "high-priority", ranked[0].Ad.ID)
}

func TestRank_TieBreak_HigherPriorityFirst(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	ads := []domain.Ad{
		{ID: "a", Priority: 1, StartDate: now, Impressions: 0, Clicks: 0},
		{ID: "b", Priority: 5, StartDate: now, Impressions: 0, Clicks: 0},
	}
	ranked := Rank(cfg, ads, now)
	require.Equal(t, "b", ranked[0].Ad.ID)
}

func TestRank_TieBreak_EarlierStartDateThenAdID(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	ads := []domain.Ad{
		{ID: "z", Priority: 1, StartDate: now.Add(-1 * time.Hour), Impressions: 0, Clicks: 0},
		{ID: "a", Priority: 1, StartDate: now.Add(-2 * time.Hour), Impressions: 0, Clicks: 0},
		{ID: "b", Priority: 1, StartDate: now.Add(-2 * time.Hour), Impressions: 0, Clicks: 0},
	}
	ranked := Rank(cfg, ads, now)
	require.Equal(t, []string{"a", "b", "z"}, []string{ranked[0].Ad.ID, ranked[1].Ad.ID, ranked[2].Ad.ID})
}

func TestCTRScore_DefaultBelowMinImpressions(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	a9 := domain.Ad{Impressions: 9, Clicks: 9}
	a10 := domain.Ad{Impressions: 10, Clicks: 1}

	require.InDelta(t, cfg.CTRDefault/cfg.CTRCap, ctrScoreOf(cfg, a9), 1e-9)
	require.InDelta(t, 0.1/cfg.CTRCap, ctrScoreOf(cfg, a10), 1e-9)
}

func TestCTRScore_CappedAtOne(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	a := domain.Ad{Impressions: 100, Clicks: 100}
	require.Equal(t, 1.0, ctrScoreOf(cfg, a))
}

func TestRecencyScore_DecaysOverHorizon(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	fresh := domain.Ad{StartDate: now}
	stale := domain.Ad{StartDate: now.Add(-cfg.RecencyHorizon * 2)}

	require.InDelta(t, 1.0, recencyScoreOf(cfg, fresh, now), 1e-9)
	require.Equal(t, 0.0, recencyScoreOf(cfg, stale, now))
}
