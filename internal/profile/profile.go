// Package profile implements the per-customer user-profile store used
// for frequency capping: a bounded-retention impression history kept
// in the KV store, read-modify-written on every recorded impression.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

// Store reads and writes UserProfile records. Every method is
// never-fails from the caller's perspective: KV errors are logged and
// absorbed rather than propagated, per the profile store's documented
// degradation.
type Store struct {
	kv  domain.KVPort
	cfg config.Config
}

// New constructs a profile Store backed by kv.
func New(kv domain.KVPort, cfg config.Config) *Store {
	return &Store{kv: kv, cfg: cfg}
}

func key(customerID string) string {
	return fmt.Sprintf("profile:%s", customerID)
}

type wireProfile struct {
	CustomerID  string                   `json:"customerId"`
	Impressions []wireImpression         `json:"impressions"`
	LastUpdated time.Time                `json:"lastUpdated"`
}

type wireImpression struct {
	AdID      string    `json:"adId"`
	Timestamp time.Time `json:"timestamp"`
}

// GetUserProfile returns the parsed profile for customerID, or a fresh
// empty profile on a cache miss, a decode failure, or any KV error.
func (s *Store) GetUserProfile(ctx context.Context, customerID string) domain.UserProfile {
	empty := domain.UserProfile{CustomerID: customerID}

	raw, ok, err := s.kv.Get(ctx, key(customerID))
	if err != nil {
		slog.WarnContext(ctx, "profile get failed, using empty profile", slog.String("customer_id", customerID), slog.Any("error", err))
		return empty
	}
	if !ok {
		return empty
	}

	var w wireProfile
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		slog.WarnContext(ctx, "profile decode failed, using empty profile", slog.String("customer_id", customerID), slog.Any("error", err))
		return empty
	}

	impressions := make([]domain.ImpressionEvent, 0, len(w.Impressions))
	for _, e := range w.Impressions {
		impressions = append(impressions, domain.ImpressionEvent{AdID: e.AdID, Timestamp: e.Timestamp})
	}
	return domain.UserProfile{CustomerID: customerID, Impressions: impressions, LastUpdated: w.LastUpdated}
}

// RecordImpression appends {adID, now} to the customer's profile,
// drops entries older than the retention window, and persists the
// result with a refreshed TTL. Concurrent writers on the same customer
// are tolerated under last-writer-wins; failures are logged and
// otherwise ignored.
func (s *Store) RecordImpression(ctx context.Context, customerID, adID string, now time.Time) {
	current := s.GetUserProfile(ctx, customerID)
	retained := current.WithinRetention(now, s.cfg.ProfileRetention)
	retained = append(retained, domain.ImpressionEvent{AdID: adID, Timestamp: now})

	w := wireProfile{CustomerID: customerID, LastUpdated: now}
	for _, e := range retained {
		w.Impressions = append(w.Impressions, wireImpression{AdID: e.AdID, Timestamp: e.Timestamp})
	}

	encoded, err := json.Marshal(w)
	if err != nil {
		slog.WarnContext(ctx, "profile encode failed", slog.String("customer_id", customerID), slog.Any("error", err))
		return
	}

	ttlSeconds := int64(s.cfg.ProfileTTL.Seconds())
	if err := s.kv.SetWithTTL(ctx, key(customerID), string(encoded), ttlSeconds); err != nil {
		slog.WarnContext(ctx, "profile write failed", slog.String("customer_id", customerID), slog.Any("error", err))
	}
}
