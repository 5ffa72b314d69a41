// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("not found")
	ErrCatalogTimeout  = errors.New("catalog timeout")
	ErrKVUnavailable   = errors.New("kv unavailable")
	ErrInternal        = errors.New("internal error")
)

// Channel identifies a display surface an ad can target.
type Channel string

// Recognised channel values. An unrecognised channel is accepted by
// request validation and simply fails to match any ad's channel set.
const (
	ChannelATM    Channel = "ATM"
	ChannelMobile Channel = "mobile"
	ChannelWeb    Channel = "web"
	ChannelUSSD   Channel = "USSD"
)

// Segment is derived from account balance; it is never stored.
type Segment string

// Segment values, ordered by increasing balance.
const (
	SegmentLow      Segment = "low"
	SegmentMass     Segment = "mass"
	SegmentAffluent Segment = "affluent"
	SegmentHNW      Segment = "hnw"
)

// TimeSlot is derived from wall-clock hour; it is never stored.
type TimeSlot string

// TimeSlot values covering the full day.
const (
	TimeSlotMorning   TimeSlot = "morning"
	TimeSlotAfternoon TimeSlot = "afternoon"
	TimeSlotEvening   TimeSlot = "evening"
	TimeSlotNight     TimeSlot = "night"
)

// AdStatus is the lifecycle state of a catalog record.
type AdStatus string

// AdStatus values.
const (
	AdStatusActive   AdStatus = "active"
	AdStatusInactive AdStatus = "inactive"
)

// Advertiser identifies who an ad was bought on behalf of.
type Advertiser struct {
	Name         string
	ContactEmail string
}

// Ad is the durable catalog record the targeting pipeline filters and
// scores. Impressions and clicks are monotonically non-decreasing
// counters mutated only through the catalog port's increment
// operations; every other field is mutated by the admin path.
//
//go:generate mockery --name=CatalogPort --with-expecter --filename=catalog_port_mock.go
//go:generate mockery --name=KVPort --with-expecter --filename=kv_port_mock.go
type Ad struct {
	ID          string
	Title       string
	ImageURL    string
	VideoURL    string
	CTA         string
	Segments    []Segment
	Channels    []Channel
	Locations   []string
	TimeSlots   []TimeSlot
	StartDate   time.Time
	EndDate     time.Time
	Status      AdStatus
	Priority    float64
	Impressions int64
	Clicks      int64
	Advertiser  *Advertiser
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasSegment reports whether seg is in the ad's segment set.
func (a Ad) HasSegment(seg Segment) bool {
	for _, s := range a.Segments {
		if s == seg {
			return true
		}
	}
	return false
}

// HasChannel reports whether ch is in the ad's channel set, defaulting
// to {ATM} when the ad declares no channels.
func (a Ad) HasChannel(ch Channel) bool {
	channels := a.Channels
	if len(channels) == 0 {
		channels = []Channel{ChannelATM}
	}
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

// HasTimeSlot reports whether the ad is eligible during slot. An ad
// with no declared time slots is eligible all day.
func (a Ad) HasTimeSlot(slot TimeSlot) bool {
	if len(a.TimeSlots) == 0 {
		return true
	}
	for _, s := range a.TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// IsActiveAt reports whether the ad's status and date window admit now.
func (a Ad) IsActiveAt(now time.Time) bool {
	if a.Status != AdStatusActive {
		return false
	}
	return !now.Before(a.StartDate) && !now.After(a.EndDate)
}

// ImpressionEvent is a single entry in a user profile's impression
// history.
type ImpressionEvent struct {
	AdID      string
	Timestamp time.Time
}

// UserProfile is the ephemeral, per-customer frequency-capping record
// kept in the KV store. Absence is semantically equivalent to an empty
// profile; entry ordering is not relied upon.
type UserProfile struct {
	CustomerID  string
	Impressions []ImpressionEvent
	LastUpdated time.Time
}

// History returns the entries for adID with Timestamp after now-window,
// i.e. history(a) from the frequency-cap filter.
func (p UserProfile) History(adID string, now time.Time, window time.Duration) []ImpressionEvent {
	var out []ImpressionEvent
	cutoff := now.Add(-window)
	for _, e := range p.Impressions {
		if e.AdID == adID && e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// WithinRetention returns a copy of Impressions holding only entries
// newer than now-retention, the bound applied on every profile write.
func (p UserProfile) WithinRetention(now time.Time, retention time.Duration) []ImpressionEvent {
	cutoff := now.Add(-retention)
	out := make([]ImpressionEvent, 0, len(p.Impressions))
	for _, e := range p.Impressions {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ServeRequest is the serve() operation's validated input.
type ServeRequest struct {
	Balance    float64
	Channel    Channel
	CustomerID string
}

// ServeResponse is the serve() operation's successful result shape.
type ServeResponse struct {
	AdID     string  `json:"adId"`
	Title    string  `json:"title"`
	ImageURL string  `json:"imageUrl"`
	VideoURL string  `json:"videoUrl,omitempty"`
	CTA      string  `json:"cta,omitempty"`
	Segment  Segment `json:"segment"`
	Channel  Channel `json:"channel"`
	Fallback bool    `json:"fallback,omitempty"`
}

// CacheEntry is the serialised ServeResponse stored under the
// personalised cache key, keyed by ad:{segment}:{channel}:{sanitizedCustomerId}.
type CacheEntry struct {
	ServeResponse ServeResponse `json:"serveResponse"`
	CachedAt      time.Time     `json:"cachedAt"`
}

// CatalogPort abstracts the durable ad store. findCandidates has a
// soft 2s execution budget; exceeding it returns ErrCatalogTimeout.
type CatalogPort interface {
	// FindCandidates returns active ads matching (segment, channel, now
	// within [startDate, endDate]), ordered by descending priority.
	FindCandidates(ctx context.Context, segment Segment, channel Channel, now time.Time) ([]Ad, error)
	// FindFallback returns a single active ad matching (segment,
	// channel) ordered by descending priority, for the outer fallback
	// path; it does not apply time-slot or frequency-cap filtering.
	FindFallback(ctx context.Context, segment Segment, channel Channel, now time.Time) (Ad, error)
	// CreateAd persists a new ad and returns the stored record.
	CreateAd(ctx context.Context, ad Ad) (Ad, error)
	// IncrementImpressions is a best-effort atomic increment.
	IncrementImpressions(ctx context.Context, adID string) error
	// IncrementClicks is a best-effort atomic increment.
	IncrementClicks(ctx context.Context, adID string) error
}

// SortedSetMember is one ZADD operand: Member scored by Score.
type SortedSetMember struct {
	Score  float64
	Member string
}

// KVPort abstracts the fast auxiliary store backing the profile store,
// the personalised cache, and the rate limiter. Every method may fail
// with ErrKVUnavailable; callers apply the documented degradation for
// their feature rather than surfacing it to the client.
type KVPort interface {
	// Get returns the stored value, or ok=false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetWithTTL stores value under key with an expiry of ttlSeconds.
	SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error
	// Delete removes zero or more keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Expire resets a key's TTL.
	Expire(ctx context.Context, key string, ttlSeconds int64) error
	// SortedSetAdd adds one member to key's sorted set.
	SortedSetAdd(ctx context.Context, key string, member SortedSetMember) error
	// SortedSetRemoveRange removes members of key scored within [min, max].
	SortedSetRemoveRange(ctx context.Context, key string, min, max float64) error
	// SortedSetCardinality returns the member count of key's sorted set.
	SortedSetCardinality(ctx context.Context, key string) (int64, error)
	// Scan advances a glob-matching SCAN cursor, returning up to count
	// matching keys and the next cursor (0 signals completion).
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (nextCursor uint64, keys []string, err error)
	// RateLimitAdmit performs the rate limiter's atomic sliding-window
	// step for one bucket: prune members older than now-windowSeconds,
	// add a member scored at now, reset the key's TTL, and return the
	// resulting cardinality.
	RateLimitAdmit(ctx context.Context, key string, now time.Time, windowSeconds int64, member string) (cardinality int64, err error)
	// IsAvailable reports the last observed connection state.
	IsAvailable() bool
}

// Context is a type alias to stdlib context.Context for convenience
// across layers.
type Context = context.Context
