// Package apikeyauth resolves an inbound API key to a rate-limit tier.
// Key issuance and request authentication are assumed external; this
// package exists only so the rate limiter's per-API-key layer can look
// up a caller's tier without depending on an external service.
package apikeyauth

import (
	"context"

	"github.com/relaybank/adserve/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Resolver maps an API key to its rate-limit tier.
type Resolver interface {
	// ResolveTier returns the tier for apiKey, or ("", false) if the
	// key is not recognised.
	ResolveTier(ctx context.Context, apiKey string) (tier string, ok bool)
}

// StaticResolver resolves tiers from the API_KEY_TIERS configuration
// map. It is deliberately thin: a production deployment would swap
// this for a lookup against an external key-management system.
type StaticResolver struct {
	tiers map[string]string
}

// NewStaticResolver builds a StaticResolver from configuration.
func NewStaticResolver(cfg config.Config) *StaticResolver {
	return &StaticResolver{tiers: cfg.APIKeyTierMap()}
}

// ResolveTier looks up apiKey in the static map.
func (r *StaticResolver) ResolveTier(_ context.Context, apiKey string) (string, bool) {
	tier, ok := r.tiers[apiKey]
	return tier, ok
}

// HashedResolver wraps a Resolver so raw API keys are compared against
// bcrypt hashes rather than plaintext, for deployments that must avoid
// storing API keys in the clear.
type HashedResolver struct {
	// hashes maps a bcrypt hash to its tier; ResolveTier compares apiKey
	// against every hash since bcrypt hashes are not directly indexable.
	hashes map[string]string
}

// NewHashedResolver builds a HashedResolver from a map of bcrypt hash
// to tier.
func NewHashedResolver(hashes map[string]string) *HashedResolver {
	return &HashedResolver{hashes: hashes}
}

// ResolveTier compares apiKey against every stored hash.
func (r *HashedResolver) ResolveTier(_ context.Context, apiKey string) (string, bool) {
	for hash, tier := range r.hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
			return tier, true
		}
	}
	return "", false
}

// HashAPIKey produces a bcrypt hash of apiKey for HashedResolver's map.
func HashAPIKey(apiKey string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
