// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization,
// coordinating between the HTTP layer, the serving orchestrator, and
// the catalog/KV adapters during process bootstrap.
package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVAvailabilityChecker reports whether a KV adapter's circuit breaker
// currently considers the backing store healthy.
type KVAvailabilityChecker interface {
	IsAvailable() bool
}

// BuildReadinessChecks returns the catalog and KV readiness probes used by
// ReadyzHandler. The catalog check pings the Postgres pool directly; the KV
// check consults the Redis adapter's circuit breaker rather than issuing a
// network round trip, since a store mid-outage should report not-ready
// without piling on more failing connections.
func BuildReadinessChecks(catalogPool Pinger, kv KVAvailabilityChecker) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	catalogCheck := func(ctx context.Context) error {
		if catalogPool == nil {
			return fmt.Errorf("catalog pool not configured")
		}
		return catalogPool.Ping(ctx)
	}
	kvCheck := func(ctx context.Context) error {
		if kv == nil {
			return fmt.Errorf("kv store not configured")
		}
		if !kv.IsAvailable() {
			return fmt.Errorf("kv store circuit open")
		}
		return nil
	}
	return catalogCheck, kvCheck
}
