// Package memkv implements domain.KVPort entirely in memory, for unit
// tests that need hermetic, deterministic KV behavior without a Redis
// dependency.
package memkv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relaybank/adserve/internal/domain"
)

type entry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

type sortedSetMember struct {
	score  float64
	member string
}

// Store is an in-memory domain.KVPort. The zero value is ready to use.
type Store struct {
	mu        sync.Mutex
	values    map[string]entry
	sets      map[string][]sortedSetMember
	available bool
	now       func() time.Time
}

// New constructs an available in-memory KV store using time.Now.
func New() *Store {
	return &Store{
		values:    map[string]entry{},
		sets:      map[string][]sortedSetMember{},
		available: true,
		now:       time.Now,
	}
}

// SetClock overrides the store's time source, for deterministic TTL
// expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetAvailable toggles IsAvailable(), simulating a connection outage.
func (s *Store) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// Get returns the stored value, or ok=false on a miss or TTL expiry.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	if e.hasTTL && s.now().After(e.expires) {
		delete(s.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// SetWithTTL stores value under key with an expiry of ttlSeconds.
func (s *Store) SetWithTTL(_ context.Context, key, value string, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = entry{value: value, expires: s.now().Add(time.Duration(ttlSeconds) * time.Second), hasTTL: true}
	return nil
}

// Delete removes zero or more keys.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
	}
	return nil
}

// Expire resets a key's TTL.
func (s *Store) Expire(_ context.Context, key string, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok {
		e.hasTTL = true
		e.expires = s.now().Add(time.Duration(ttlSeconds) * time.Second)
		s.values[key] = e
	}
	return nil
}

// SortedSetAdd adds one member to key's sorted set.
func (s *Store) SortedSetAdd(_ context.Context, key string, member domain.SortedSetMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[key] = append(s.sets[key], sortedSetMember{score: member.Score, member: member.Member})
	return nil
}

// SortedSetRemoveRange removes members of key scored within [min, max].
func (s *Store) SortedSetRemoveRange(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.sets[key]
	kept := members[:0:0]
	for _, m := range members {
		if m.score >= min && m.score <= max {
			continue
		}
		kept = append(kept, m)
	}
	s.sets[key] = kept
	return nil
}

// SortedSetCardinality returns the member count of key's sorted set.
func (s *Store) SortedSetCardinality(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

// Scan returns all keys (values and sorted sets) matching a simple
// glob pattern with a single trailing "*", ignoring cursor paging
// since the in-memory store is small enough to return everything in
// one batch.
func (s *Store) Scan(_ context.Context, _ uint64, pattern string, _ int64) (uint64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	var matched []string
	seen := map[string]bool{}
	for k := range s.values {
		if strings.HasPrefix(k, prefix) && !seen[k] {
			matched = append(matched, k)
			seen[k] = true
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) && !seen[k] {
			matched = append(matched, k)
			seen[k] = true
		}
	}
	sort.Strings(matched)
	return 0, matched, nil
}

// RateLimitAdmit performs the sliding-window limiter's atomic step:
// prune expired members, add the new one, and return the resulting
// cardinality.
func (s *Store) RateLimitAdmit(_ context.Context, key string, now time.Time, windowSeconds int64, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := float64(now.Add(-time.Duration(windowSeconds) * time.Second).UnixMilli())
	members := s.sets[key]
	kept := members[:0:0]
	for _, m := range members {
		if m.score <= cutoff {
			continue
		}
		kept = append(kept, m)
	}
	kept = append(kept, sortedSetMember{score: float64(now.UnixMilli()), member: member})
	s.sets[key] = kept

	if e, ok := s.values[key]; ok {
		e.hasTTL = true
		e.expires = now.Add(time.Duration(windowSeconds) * time.Second)
		s.values[key] = e
	} else {
		s.values[key] = entry{hasTTL: true, expires: now.Add(time.Duration(windowSeconds) * time.Second)}
	}

	return int64(len(kept)), nil
}

// IsAvailable reports the simulated connection state; true by default.
func (s *Store) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}
