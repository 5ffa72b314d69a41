// Package rediskv implements domain.KVPort over go-redis, backing the
// personalized cache, profile store, and sliding-window rate limiter. A
// circuit breaker tracks Redis health so callers can fail open instead
// of blocking on a degraded dependency, and transient errors are retried
// with a short exponential backoff before being surfaced.
package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/observability"
)

// Store is a domain.KVPort backed by a redis.Client.
type Store struct {
	client  *redis.Client
	breaker *observability.CircuitBreaker
	timeout time.Duration
}

// New constructs a Store, parsing addr as a redis:// URL.
func New(addr string, cfg config.Config) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("op=rediskv.New: %w", err)
	}
	return &Store{
		client:  redis.NewClient(opts),
		breaker: observability.NewCircuitBreaker(cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerTimeout, cfg.CircuitBreakerSuccessThreshold),
		timeout: cfg.KVOperationTimeout,
	}, nil
}

// NewWithClient wraps an existing redis.Client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client, cfg config.Config) *Store {
	return &Store{
		client:  client,
		breaker: observability.NewCircuitBreaker(cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerTimeout, cfg.CircuitBreakerSuccessThreshold),
		timeout: cfg.KVOperationTimeout,
	}
}

// IsAvailable reports whether the circuit breaker currently allows
// traffic to Redis.
func (s *Store) IsAvailable() bool {
	return s.breaker.IsAvailable()
}

// call bounds fn to the configured KV operation timeout and runs it
// through the circuit breaker with a short retry for transient errors.
func (s *Store) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.breaker.Call(func() error {
		return retry(ctx, fn)
	})
	if err != nil {
		return fmt.Errorf("op=rediskv.call: %w", domain.ErrKVUnavailable)
	}
	return nil
}

func retry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(fn, bo)
}

// Get returns a string value, ok=false on miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.call(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// SetWithTTL writes value under key with the given TTL in seconds.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error {
	return s.call(ctx, func() error {
		return s.client.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second).Err()
	})
}

// Delete removes one or more keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.call(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// Expire sets a new TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttlSeconds int64) error {
	return s.call(ctx, func() error {
		return s.client.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Err()
	})
}

// SortedSetAdd adds or updates a member in a sorted set.
func (s *Store) SortedSetAdd(ctx context.Context, key string, member domain.SortedSetMember) error {
	return s.call(ctx, func() error {
		return s.client.ZAdd(ctx, key, redis.Z{Score: member.Score, Member: member.Member}).Err()
	})
}

// SortedSetRemoveRange removes members scored within [min, max].
func (s *Store) SortedSetRemoveRange(ctx context.Context, key string, min, max float64) error {
	return s.call(ctx, func() error {
		return s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
	})
}

// SortedSetCardinality returns the number of members in a sorted set.
func (s *Store) SortedSetCardinality(ctx context.Context, key string) (int64, error) {
	var card int64
	err := s.call(ctx, func() error {
		c, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		card = c
		return nil
	})
	return card, err
}

// Scan iterates keys matching pattern, count keys per call.
func (s *Store) Scan(ctx context.Context, cursor uint64, pattern string, count int64) (uint64, []string, error) {
	var nextCursor uint64
	var keys []string
	err := s.call(ctx, func() error {
		k, next, err := s.client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return err
		}
		keys, nextCursor = k, next
		return nil
	})
	return nextCursor, keys, err
}

// RateLimitAdmit implements the sliding-window counter: add (now, member)
// to the key's sorted set, prune entries older than windowSeconds,
// refresh the key's expiry, and return the resulting cardinality.
func (s *Store) RateLimitAdmit(ctx context.Context, key string, now time.Time, windowSeconds int64, member string) (int64, error) {
	var card int64
	err := s.call(ctx, func() error {
		pipe := s.client.TxPipeline()
		nowScore := float64(now.UnixNano())
		cutoff := float64(now.Add(-time.Duration(windowSeconds) * time.Second).UnixNano())

		pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
		pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: member})
		cardCmd := pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)

		_, err := pipe.Exec(ctx)
		if err != nil {
			return err
		}
		card = cardCmd.Val()
		return nil
	})
	return card, err
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}
