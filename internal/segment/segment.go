// Package segment derives the customer segment and time slot used by
// the targeting pipeline. Both are computed on the fly from request
// inputs and wall-clock time; neither is ever persisted.
package segment

import (
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

// Clock returns the current time. Production code uses time.Now;
// tests inject a fixed or stepped clock so segment and time-slot
// derivation stay deterministic.
type Clock func() time.Time

// SystemClock is the production Clock.
func SystemClock() time.Time { return time.Now() }

// OfBalance maps an account balance to a customer segment. Boundaries
// are inclusive on the lower bound of the next bracket: a balance
// exactly at a threshold belongs to the higher segment.
func OfBalance(cfg config.Config, balance float64) domain.Segment {
	switch {
	case balance < cfg.SegmentLowThreshold:
		return domain.SegmentLow
	case balance < cfg.SegmentMassThreshold:
		return domain.SegmentMass
	case balance < cfg.SegmentAffluentThreshold:
		return domain.SegmentAffluent
	default:
		return domain.SegmentHNW
	}
}

// OfTime maps a wall-clock hour to a time slot using cfg's boundaries
// (defaults: morning [6,12), afternoon [12,17), evening [17,21), night
// [21,24) union [0,6)).
func OfTime(cfg config.Config, now time.Time) domain.TimeSlot {
	b := cfg.TimeSlots
	hour := now.Hour()
	switch {
	case hour >= b.MorningStart && hour < b.AfternoonStart:
		return domain.TimeSlotMorning
	case hour >= b.AfternoonStart && hour < b.EveningStart:
		return domain.TimeSlotAfternoon
	case hour >= b.EveningStart && hour < b.NightStart:
		return domain.TimeSlotEvening
	default:
		return domain.TimeSlotNight
	}
}
