package segment

import (
	"testing"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestOfBalance_Boundaries(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cases := []struct {
		balance float64
		want    domain.Segment
	}{
		{0, domain.SegmentLow},
		{49_999, domain.SegmentLow},
		{50_000, domain.SegmentMass},
		{199_999, domain.SegmentMass},
		{200_000, domain.SegmentAffluent},
		{999_999, domain.SegmentAffluent},
		{1_000_000, domain.SegmentHNW},
		{5_000_000, domain.SegmentHNW},
	}
	for _, c := range cases {
		require.Equal(t, c.want, OfBalance(cfg, c.balance), "balance=%v", c.balance)
	}
}

func TestOfTime_Boundaries(t *testing.T) {
	cfg := config.Config{TimeSlots: config.DefaultTimeSlotBoundaries()}
	day := func(hour int) time.Time {
		return time.Date(2026, 7, 31, hour, 0, 0, 0, time.UTC)
	}
	cases := []struct {
		hour int
		want domain.TimeSlot
	}{
		{0, domain.TimeSlotNight},
		{5, domain.TimeSlotNight},
		{6, domain.TimeSlotMorning},
		{11, domain.TimeSlotMorning},
		{12, domain.TimeSlotAfternoon},
		{16, domain.TimeSlotAfternoon},
		{17, domain.TimeSlotEvening},
		{20, domain.TimeSlotEvening},
		{21, domain.TimeSlotNight},
		{23, domain.TimeSlotNight},
	}
	for _, c := range cases {
		require.Equal(t, c.want, OfTime(cfg, day(c.hour)), "hour=%d", c.hour)
	}
}
