// Package filters implements the eligibility stages applied to a
// catalog candidate set before scoring: the time-slot filter and the
// frequency-cap filter. Each returns the surviving ads plus a
// diagnostic reason per excluded ad, grounded in the same
// eligible-plus-reason shape as a line-item pacing check.
package filters

import (
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/segment"
)

// Exclusion records why an ad was dropped from the candidate set.
type Exclusion struct {
	AdID   string
	Reason string
}

// TimeSlot keeps only ads eligible during the slot derived from now.
// An ad passes iff it declares no time slots or declares the current
// one.
func TimeSlot(cfg config.Config, ads []domain.Ad, now time.Time) (eligible []domain.Ad, excluded []Exclusion) {
	slot := segment.OfTime(cfg, now)
	for _, a := range ads {
		if a.HasTimeSlot(slot) {
			eligible = append(eligible, a)
			continue
		}
		excluded = append(excluded, Exclusion{AdID: a.ID, Reason: "time_slot_mismatch"})
	}
	return eligible, excluded
}

// FrequencyCap keeps only ads that have not hit the daily impression
// cap or the per-ad cooldown for this customer. history(a) is the
// subset of profile.Impressions for ad a within the last 24h.
func FrequencyCap(cfg config.Config, ads []domain.Ad, profile domain.UserProfile, now time.Time) (eligible []domain.Ad, excluded []Exclusion) {
	retention := 24 * time.Hour
	for _, a := range ads {
		history := profile.History(a.ID, now, retention)
		if len(history) == 0 {
			eligible = append(eligible, a)
			continue
		}
		if int64(len(history)) >= int64(cfg.FrequencyCapMaxPerDay) {
			excluded = append(excluded, Exclusion{AdID: a.ID, Reason: "daily_cap_reached"})
			continue
		}
		if withinCooldown(history, now, cfg.FrequencyCapCooldown) {
			excluded = append(excluded, Exclusion{AdID: a.ID, Reason: "cooldown_active"})
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible, excluded
}

func withinCooldown(history []domain.ImpressionEvent, now time.Time, cooldown time.Duration) bool {
	var latest time.Time
	for _, e := range history {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest.After(now.Add(-cooldown))
}

// FallbackOnEmpty selects the single ad with the lowest impression
// count from the pre-filter candidate set, bypassing time-slot and
// frequency-cap exclusions entirely. It is used only when every
// candidate was filtered out, so the pipeline still returns something
// whenever the catalog has any match for (segment, channel).
func FallbackOnEmpty(preFilter []domain.Ad) (domain.Ad, bool) {
	if len(preFilter) == 0 {
		return domain.Ad{}, false
	}
	best := preFilter[0]
	for _, a := range preFilter[1:] {
		if a.Impressions < best.Impressions {
			best = a
		}
	}
	return best, true
}
