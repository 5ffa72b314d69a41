// Package scorer ranks a filtered candidate set by a composite
// weighted score over priority, CTR, recency, and freshness.
package scorer

import (
	"sort"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

// Scored pairs an ad with its component and composite scores.
type Scored struct {
	Ad              domain.Ad
	PriorityScore   float64
	CTRScore        float64
	RecencyScore    float64
	FreshnessScore  float64
	CompositeScore  float64
}

// Rank scores every ad in candidates against the set's own maxima and
// returns them sorted by descending composite score. Ties are broken
// by higher priority, then earlier start date, then lexicographic ad
// ID, so ranking is deterministic across replicas.
func Rank(cfg config.Config, candidates []domain.Ad, now time.Time) []Scored {
	if len(candidates) == 0 {
		return nil
	}

	maxPriority := 0.0
	maxImpressions := int64(1)
	for _, a := range candidates {
		if p := priorityOf(a); p > maxPriority {
			maxPriority = p
		}
		if a.Impressions > maxImpressions {
			maxImpressions = a.Impressions
		}
	}
	if maxPriority == 0 {
		maxPriority = 1
	}

	out := make([]Scored, 0, len(candidates))
	for _, a := range candidates {
		priorityScore := priorityOf(a) / maxPriority
		ctrScore := ctrScoreOf(cfg, a)
		recencyScore := recencyScoreOf(cfg, a, now)
		freshnessScore := 1 - float64(impressionsOf(a))/float64(maxImpressions)

		composite := cfg.WeightPriority*priorityScore +
			cfg.WeightCTR*ctrScore +
			cfg.WeightRecency*recencyScore +
			cfg.WeightFreshness*freshnessScore

		out = append(out, Scored{
			Ad:             a,
			PriorityScore:  priorityScore,
			CTRScore:       ctrScore,
			RecencyScore:   recencyScore,
			FreshnessScore: freshnessScore,
			CompositeScore: composite,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompositeScore != out[j].CompositeScore {
			return out[i].CompositeScore > out[j].CompositeScore
		}
		if out[i].Ad.Priority != out[j].Ad.Priority {
			return out[i].Ad.Priority > out[j].Ad.Priority
		}
		if !out[i].Ad.StartDate.Equal(out[j].Ad.StartDate) {
			return out[i].Ad.StartDate.Before(out[j].Ad.StartDate)
		}
		return out[i].Ad.ID < out[j].Ad.ID
	})

	return out
}

func priorityOf(a domain.Ad) float64 {
	if a.Priority <= 0 {
		return 1
	}
	return a.Priority
}

func impressionsOf(a domain.Ad) int64 {
	if a.Impressions < 0 {
		return 0
	}
	return a.Impressions
}

func ctrScoreOf(cfg config.Config, a domain.Ad) float64 {
	raw := cfg.CTRDefault
	if a.Impressions >= int64(cfg.CTRMinImpressions) && a.Impressions > 0 {
		raw = float64(a.Clicks) / float64(a.Impressions)
	}
	score := raw / cfg.CTRCap
	if score > 1 {
		return 1
	}
	return score
}

func recencyScoreOf(cfg config.Config, a domain.Ad, now time.Time) float64 {
	age := now.Sub(a.StartDate)
	score := 1 - age.Seconds()/cfg.RecencyHorizon.Seconds()
	if score < 0 {
		return 0
	}
	return score
}
