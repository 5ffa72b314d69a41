// Package memcatalog implements domain.CatalogPort entirely in memory,
// for unit and pipeline tests that need a hermetic, deterministic ad
// store without a Postgres dependency.
package memcatalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaybank/adserve/internal/domain"
)

// Store is an in-memory domain.CatalogPort keyed by ad ID.
type Store struct {
	mu  sync.Mutex
	ads map[string]domain.Ad
}

// New constructs an empty in-memory catalog.
func New() *Store {
	return &Store{ads: map[string]domain.Ad{}}
}

// Seed inserts ads directly, bypassing CreateAd's timestamping, for
// test setup.
func (s *Store) Seed(ads ...domain.Ad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range ads {
		s.ads[a.ID] = a
	}
}

// FindCandidates returns active ads matching (segment, channel, now
// within [startDate, endDate]), ordered by descending priority.
func (s *Store) FindCandidates(_ context.Context, segment domain.Segment, channel domain.Channel, now time.Time) ([]domain.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ad
	for _, a := range s.ads {
		if a.IsActiveAt(now) && a.HasSegment(segment) && a.HasChannel(channel) {
			out = append(out, a)
		}
	}
	sortByPriorityDesc(out)
	return out, nil
}

// FindFallback returns a single active ad matching (segment, channel)
// ordered by descending priority, ignoring time-slot and frequency-cap
// concerns entirely.
func (s *Store) FindFallback(_ context.Context, segment domain.Segment, channel domain.Channel, now time.Time) (domain.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best domain.Ad
	found := false
	for _, a := range s.ads {
		if !a.IsActiveAt(now) || !a.HasSegment(segment) || !a.HasChannel(channel) {
			continue
		}
		if !found || a.Priority > best.Priority {
			best = a
			found = true
		}
	}
	if !found {
		return domain.Ad{}, domain.ErrNotFound
	}
	return best, nil
}

// CreateAd persists ad, stamping CreatedAt/UpdatedAt if unset.
func (s *Store) CreateAd(_ context.Context, ad domain.Ad) (domain.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now()
	}
	ad.UpdatedAt = ad.CreatedAt
	s.ads[ad.ID] = ad
	return ad, nil
}

// IncrementImpressions bumps the stored ad's impression counter.
func (s *Store) IncrementImpressions(_ context.Context, adID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[adID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Impressions++
	s.ads[adID] = a
	return nil
}

// IncrementClicks bumps the stored ad's click counter.
func (s *Store) IncrementClicks(_ context.Context, adID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[adID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Clicks++
	s.ads[adID] = a
	return nil
}

func sortByPriorityDesc(ads []domain.Ad) {
	sort.SliceStable(ads, func(i, j int) bool {
		return ads[i].Priority > ads[j].Priority
	})
}
