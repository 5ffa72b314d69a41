// Package ratelimit implements the two-layer sliding-window rate
// limiter: a per-IP bucket and a per-API-key-tier bucket, each backed
// by a KV sorted set and evaluated with fail-open semantics.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

// SuffixFunc returns a random suffix guaranteeing bucket-member
// uniqueness across concurrent admits in the same millisecond. Tests
// may replace it for deterministic member names.
type SuffixFunc func() string

// DefaultSuffix draws 4 random bytes from crypto/rand.
func DefaultSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Decision is the outcome of evaluating one rate-limit layer.
type Decision struct {
	Admitted   bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Tier       string
}

// Limiter evaluates the IP and API-key-tier layers against a KVPort.
type Limiter struct {
	kv     domain.KVPort
	cfg    config.Config
	suffix SuffixFunc
}

// New constructs a Limiter backed by kv.
func New(kv domain.KVPort, cfg config.Config) *Limiter {
	return &Limiter{kv: kv, cfg: cfg, suffix: DefaultSuffix}
}

// SetSuffixFunc overrides the random-suffix generator, for tests that
// need deterministic bucket members.
func (l *Limiter) SetSuffixFunc(fn SuffixFunc) {
	l.suffix = fn
}

// CheckIP evaluates the per-IP layer for (ip, path) against the
// configured IP window and ceiling.
func (l *Limiter) CheckIP(ctx context.Context, ip, path string, now time.Time) Decision {
	key := fmt.Sprintf("ratelimit:ip:%s:%s", ip, path)
	return l.admit(ctx, key, l.cfg.RateLimitIPWindow, l.cfg.RateLimitIPMax, "", now)
}

// CheckAPIKey evaluates the per-API-key layer for (key, path) against
// the window and ceiling for tier, defaulting to the standard tier
// when tier is unrecognised.
func (l *Limiter) CheckAPIKey(ctx context.Context, apiKey, tier, path string, now time.Time) Decision {
	suffix := apiKey
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	key := fmt.Sprintf("ratelimit:apikey:%s:%s", suffix, path)
	max := l.cfg.RateLimitMaxForTier(tier)
	return l.admit(ctx, key, l.cfg.RateLimitTierWindow, max, tier, now)
}

// admit runs the sliding-window atomic step for one bucket. When the
// KV is unavailable or the step errors, the request fails open: it is
// admitted and a warning is logged.
func (l *Limiter) admit(ctx context.Context, key string, window time.Duration, max int, tier string, now time.Time) Decision {
	if !l.kv.IsAvailable() {
		slog.WarnContext(ctx, "rate limiter kv unavailable, failing open", slog.String("key", key))
		return Decision{Admitted: true, Limit: max, Remaining: max, Tier: tier}
	}

	member := fmt.Sprintf("%d:%s", now.UnixMilli(), l.suffix())
	cardinality, err := l.kv.RateLimitAdmit(ctx, key, now, int64(window.Seconds()), member)
	if err != nil {
		slog.WarnContext(ctx, "rate limiter admit failed, failing open", slog.String("key", key), slog.Any("error", err))
		return Decision{Admitted: true, Limit: max, Remaining: max, Tier: tier}
	}

	remaining := max - int(cardinality)
	if remaining < 0 {
		remaining = 0
	}
	admitted := cardinality <= int64(max)
	decision := Decision{Admitted: admitted, Limit: max, Remaining: remaining, Tier: tier}
	if !admitted {
		decision.RetryAfter = window
	}
	return decision
}
