// Package serving implements the ad-serving orchestrator: the pipeline
// that turns a validated request into a ranked winner, combining the
// cache, profile store, catalog, filters, and scorer.
package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaybank/adserve/internal/cache"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/filters"
	"github.com/relaybank/adserve/internal/observability"
	"github.com/relaybank/adserve/internal/profile"
	"github.com/relaybank/adserve/internal/scorer"
	"github.com/relaybank/adserve/internal/segment"
	"github.com/relaybank/adserve/internal/workerpool"
	"github.com/relaybank/adserve/pkg/textx"
)

// Stage names the serve() state machine's terminal and intermediate
// states, recorded only in logs — received -> validated ->
// cache_hit|cache_miss -> profile_loaded -> candidates_fetched ->
// filtered -> scored -> responded|fallback_path|error.
type Stage string

const (
	StageReceived           Stage = "received"
	StageValidated          Stage = "validated"
	StageCacheHit           Stage = "cache_hit"
	StageCacheMiss          Stage = "cache_miss"
	StageProfileLoaded      Stage = "profile_loaded"
	StageCandidatesFetched  Stage = "candidates_fetched"
	StageFiltered           Stage = "filtered"
	StageScored             Stage = "scored"
	StageResponded          Stage = "responded"
	StageFallbackPath       Stage = "fallback_path"
	StageError              Stage = "error"
)

// Orchestrator composes the components of §4.8's serve() pipeline.
type Orchestrator struct {
	catalog domain.CatalogPort
	kv      domain.KVPort
	cache   *cache.Cache
	profile *profile.Store
	pool    *workerpool.Pool
	cfg     config.Config
}

// New constructs an Orchestrator. pool may be nil, in which case
// background tasks run synchronously — useful for tests that assert
// on their side effects.
func New(catalog domain.CatalogPort, kv domain.KVPort, cfg config.Config, pool *workerpool.Pool) *Orchestrator {
	return &Orchestrator{
		catalog: catalog,
		kv:      kv,
		cache:   cache.New(kv, cfg),
		profile: profile.New(kv, cfg),
		pool:    pool,
		cfg:     cfg,
	}
}

// Serve runs the targeting pipeline for req, falling back to a
// degraded response when the main pipeline fails unexpectedly.
func (o *Orchestrator) Serve(ctx context.Context, req domain.ServeRequest, now time.Time) (domain.ServeResponse, error) {
	resp, err := o.serve(ctx, req, now)
	if err == nil {
		return resp, nil
	}
	if isClientError(err) {
		return domain.ServeResponse{}, err
	}

	slog.WarnContext(ctx, "serve pipeline failed, attempting outer fallback", slog.Any("error", err))
	seg := segment.OfBalance(o.cfg, req.Balance)
	channel := channelOrDefault(req.Channel)
	fallbackAd, fbErr := o.catalog.FindFallback(ctx, seg, channel, now)
	if fbErr != nil {
		observability.RecordServeOutcome(string(StageError), false)
		return domain.ServeResponse{}, fmt.Errorf("op=serving.Serve: %w", domain.ErrInternal)
	}

	observability.RecordServeOutcome(string(StageFallbackPath), false)
	return toResponse(fallbackAd, seg, channel, true), nil
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrRateLimited, domain.ErrUnauthenticated, domain.ErrForbidden} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) serve(ctx context.Context, req domain.ServeRequest, now time.Time) (domain.ServeResponse, error) {
	if err := validate(req); err != nil {
		return domain.ServeResponse{}, err
	}

	channel := channelOrDefault(req.Channel)
	seg := segment.OfBalance(o.cfg, req.Balance)
	sanitizedCustomerID := textx.SanitizeCustomerID(strings.TrimSpace(req.CustomerID))

	if entry, ok := o.cache.Get(ctx, seg, channel, sanitizedCustomerID); ok {
		observability.RecordServeOutcome(string(StageResponded), true)
		return entry.ServeResponse, nil
	}

	userProfile := o.profile.GetUserProfile(ctx, sanitizedCustomerID)

	candidates, err := o.catalog.FindCandidates(ctx, seg, channel, now)
	if err != nil {
		return domain.ServeResponse{}, fmt.Errorf("op=serving.serve: %w", domain.ErrCatalogTimeout)
	}
	if len(candidates) == 0 {
		return domain.ServeResponse{}, fmt.Errorf("op=serving.serve: %w", domain.ErrNotFound)
	}

	afterTimeSlot, _ := filters.TimeSlot(o.cfg, candidates, now)
	afterFreqCap, _ := filters.FrequencyCap(o.cfg, afterTimeSlot, userProfile, now)

	eligible := afterFreqCap
	usedFallback := false
	if len(eligible) == 0 {
		winner, ok := filters.FallbackOnEmpty(candidates)
		if !ok {
			return domain.ServeResponse{}, fmt.Errorf("op=serving.serve: %w", domain.ErrNotFound)
		}
		eligible = []domain.Ad{winner}
		usedFallback = true
	}

	observability.RecordCandidatesAfterFilter(len(eligible))

	ranked := scorer.Rank(o.cfg, eligible, now)
	winner := ranked[0].Ad

	o.background(func(bgCtx context.Context) error {
		o.profile.RecordImpression(bgCtx, sanitizedCustomerID, winner.ID, now)
		return o.catalog.IncrementImpressions(bgCtx, winner.ID)
	})

	resp := toResponse(winner, seg, channel, usedFallback)
	candidateCountForTTL := len(eligible)
	o.background(func(bgCtx context.Context) error {
		o.cache.Put(bgCtx, seg, channel, sanitizedCustomerID, resp, candidateCountForTTL, now)
		return nil
	})

	observability.RecordServeOutcome(string(StageResponded), false)
	return resp, nil
}

func (o *Orchestrator) background(task workerpool.Task) {
	if o.pool != nil {
		o.pool.Submit(task)
		return
	}
	if err := task(context.Background()); err != nil {
		slog.Warn("background task failed", slog.Any("error", err))
	}
}

// InvalidateForAd is invoked after a catalog mutation (ad creation or
// update) to fan out cache invalidation across every (segment,
// channel) combination the mutation touches.
func (o *Orchestrator) InvalidateForAd(segments []domain.Segment, channels []domain.Channel) {
	o.background(func(ctx context.Context) error {
		o.cache.InvalidateForAd(ctx, segments, channels)
		return nil
	})
}

func channelOrDefault(ch domain.Channel) domain.Channel {
	if ch == "" {
		return domain.ChannelATM
	}
	return ch
}

func toResponse(a domain.Ad, seg domain.Segment, channel domain.Channel, fallback bool) domain.ServeResponse {
	return domain.ServeResponse{
		AdID:     a.ID,
		Title:    a.Title,
		ImageURL: a.ImageURL,
		VideoURL: a.VideoURL,
		CTA:      a.CTA,
		Segment:  seg,
		Channel:  channel,
		Fallback: fallback,
	}
}

func validate(req domain.ServeRequest) error {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return fmt.Errorf("op=serving.validate: customerId is required: %w", domain.ErrValidation)
	}
	if len(customerID) > 64 {
		return fmt.Errorf("op=serving.validate: customerId exceeds 64 characters: %w", domain.ErrValidation)
	}
	if req.Balance < 0 || !isFinite(req.Balance) {
		return fmt.Errorf("op=serving.validate: balance must be a finite number >= 0: %w", domain.ErrValidation)
	}
	return nil
}

func isFinite(f float64) bool {
	return f == f && f < maxFinite && f > -maxFinite
}

const maxFinite = 1.0e308
