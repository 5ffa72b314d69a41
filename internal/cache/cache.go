// Package cache implements the personalised serve-response cache:
// adaptive-TTL reads/writes keyed by segment, channel, and sanitised
// customer identity, plus mutation-driven pattern invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
)

// Cache reads and writes domain.CacheEntry records through a KVPort.
type Cache struct {
	kv  domain.KVPort
	cfg config.Config
}

// New constructs a Cache backed by kv.
func New(kv domain.KVPort, cfg config.Config) *Cache {
	return &Cache{kv: kv, cfg: cfg}
}

// Key returns the cache key for a (segment, channel, sanitizedCustomerId)
// triple.
func Key(segment domain.Segment, channel domain.Channel, sanitizedCustomerID string) string {
	return fmt.Sprintf("ad:%s:%s:%s", segment, channel, sanitizedCustomerID)
}

// Get returns the cached entry, if the KV is available and a fresh
// entry exists. A miss, a decode failure, or an unavailable KV all
// report ok=false so the caller proceeds to the full pipeline.
func (c *Cache) Get(ctx context.Context, segment domain.Segment, channel domain.Channel, sanitizedCustomerID string) (domain.CacheEntry, bool) {
	if !c.kv.IsAvailable() {
		return domain.CacheEntry{}, false
	}
	raw, ok, err := c.kv.Get(ctx, Key(segment, channel, sanitizedCustomerID))
	if err != nil || !ok {
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		slog.WarnContext(ctx, "cache decode failed", slog.Any("error", err))
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Put writes resp under the cache key with an adaptive TTL: the short
// TTL when the candidate set surviving filtering was thin (likely to
// repeat the same winner soon), the long TTL otherwise.
func (c *Cache) Put(ctx context.Context, segment domain.Segment, channel domain.Channel, sanitizedCustomerID string, resp domain.ServeResponse, candidatesAfterFilter int, now time.Time) {
	entry := domain.CacheEntry{ServeResponse: resp, CachedAt: now}
	encoded, err := json.Marshal(entry)
	if err != nil {
		slog.WarnContext(ctx, "cache encode failed", slog.Any("error", err))
		return
	}

	ttl := c.cfg.CacheTTLLong
	if candidatesAfterFilter <= c.cfg.CacheCandidateThreshold {
		ttl = c.cfg.CacheTTLShort
	}

	key := Key(segment, channel, sanitizedCustomerID)
	if err := c.kv.SetWithTTL(ctx, key, string(encoded), int64(ttl.Seconds())); err != nil {
		slog.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// InvalidateForAd fans out pattern invalidation across every
// (segment, channel) combination an ad mutation touches, defaulting
// channels to {ATM} when the ad declares none. Every matching key
// across the full SCAN cursor cycle is deleted in one batch.
func (c *Cache) InvalidateForAd(ctx context.Context, segments []domain.Segment, channels []domain.Channel) {
	if len(channels) == 0 {
		channels = []domain.Channel{domain.ChannelATM}
	}

	var toDelete []string
	for _, seg := range segments {
		for _, ch := range channels {
			pattern := fmt.Sprintf("ad:%s:%s:*", seg, ch)
			toDelete = append(toDelete, c.scanAll(ctx, pattern)...)
		}
	}
	if len(toDelete) == 0 {
		return
	}
	if err := c.kv.Delete(ctx, toDelete...); err != nil {
		slog.WarnContext(ctx, "cache invalidation delete failed", slog.Any("error", err))
	}
}

const scanBatchCount = 100

func (c *Cache) scanAll(ctx context.Context, pattern string) []string {
	var matched []string
	var cursor uint64
	for {
		next, keys, err := c.kv.Scan(ctx, cursor, pattern, scanBatchCount)
		if err != nil {
			slog.WarnContext(ctx, "cache invalidation scan failed", slog.String("pattern", pattern), slog.Any("error", err))
			return matched
		}
		matched = append(matched, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return matched
}
