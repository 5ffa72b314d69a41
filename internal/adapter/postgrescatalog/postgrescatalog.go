// Package postgrescatalog implements domain.CatalogPort over PostgreSQL
// using a minimal pgx pool, following the same tracing and error-wrapping
// conventions as the rest of the adapter layer.
package postgrescatalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/observability"
)

// PgxPool is a minimal subset of pgxpool.Pool used by this adapter, kept
// narrow so tests can satisfy it with a hand-rolled fake.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is a domain.CatalogPort backed by a Postgres "ads" table. A
// circuit breaker tracks connectivity health so FindCandidates/FindFallback
// degrade to domain.ErrCatalogTimeout instead of blocking the serving
// pipeline on a struggling database.
type Store struct {
	Pool    PgxPool
	breaker *observability.CircuitBreaker
	timeout time.Duration
}

// New constructs a Store over the given pool.
func New(p PgxPool, cfg config.Config) *Store {
	return &Store{
		Pool:    p,
		breaker: observability.NewCircuitBreaker(cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerTimeout, cfg.CircuitBreakerSuccessThreshold),
		timeout: cfg.CatalogQueryTimeout,
	}
}

// IsAvailable reports whether the circuit breaker currently allows
// traffic to Postgres.
func (s *Store) IsAvailable() bool {
	return s.breaker.IsAvailable()
}

// call bounds fn to the configured catalog query timeout and runs it
// through the circuit breaker with a short retry for transient errors.
// pgx.ErrNoRows is a valid query outcome, not a connectivity failure, so
// it is neither retried nor counted against the breaker; it is returned
// to the caller unwrapped via realErr.
func (s *Store) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var realErr error
	err := s.breaker.Call(func() error {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		return backoff.Retry(func() error {
			e := fn()
			if e == nil {
				return nil
			}
			realErr = e
			if errors.Is(e, pgx.ErrNoRows) {
				return nil
			}
			return e
		}, bo)
	})
	if err != nil {
		return fmt.Errorf("op=postgrescatalog.call: %w", domain.ErrCatalogTimeout)
	}
	return realErr
}

// FindCandidates loads active ads matching (segment, channel) with now
// within [start_date, end_date], ordered by descending priority. The
// time-slot and frequency-cap filters are applied by the caller, not by
// this query, so that the pipeline can inspect exclusions.
func (s *Store) FindCandidates(ctx context.Context, segment domain.Segment, channel domain.Channel, now time.Time) ([]domain.Ad, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.FindCandidates")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ads"),
	)

	q := `SELECT ` + adColumns + ` FROM ads
	      WHERE status = 'active' AND $1 = ANY(segments) AND $2 = ANY(channels)
	            AND start_date <= $3 AND end_date >= $3
	      ORDER BY priority DESC`
	var ads []domain.Ad
	err := s.call(ctx, func() error {
		rows, qErr := s.Pool.Query(ctx, q, string(segment), string(channel), now)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		scanned, sErr := scanAds(rows)
		if sErr != nil {
			return sErr
		}
		ads = scanned
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=catalog.find_candidates: %w", err)
	}
	return ads, nil
}

// FindFallback loads the single highest-priority active ad matching
// (segment, channel), ignoring time-slot and frequency-cap concerns.
func (s *Store) FindFallback(ctx context.Context, segment domain.Segment, channel domain.Channel, now time.Time) (domain.Ad, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.FindFallback")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ads"),
	)

	q := `SELECT ` + adColumns + ` FROM ads
	      WHERE status = 'active' AND $1 = ANY(segments) AND $2 = ANY(channels)
	            AND start_date <= $3 AND end_date >= $3
	      ORDER BY priority DESC LIMIT 1`
	var ad domain.Ad
	err := s.call(ctx, func() error {
		row := s.Pool.QueryRow(ctx, q, string(segment), string(channel), now)
		scanned, sErr := scanAd(row)
		if sErr != nil {
			return sErr
		}
		ad = scanned
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ad{}, fmt.Errorf("op=catalog.find_fallback: %w", domain.ErrNotFound)
		}
		return domain.Ad{}, fmt.Errorf("op=catalog.find_fallback: %w", err)
	}
	return ad, nil
}

// CreateAd inserts a new ad, generating an id when ad.ID is empty.
func (s *Store) CreateAd(ctx context.Context, ad domain.Ad) (domain.Ad, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.CreateAd")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "ads"),
	)

	now := time.Now().UTC()
	if ad.ID == "" {
		ad.ID = uuid.NewString()
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = now
	}
	ad.UpdatedAt = now

	var advertiserName, advertiserEmail *string
	if ad.Advertiser != nil {
		advertiserName = &ad.Advertiser.Name
		advertiserEmail = &ad.Advertiser.ContactEmail
	}

	q := `INSERT INTO ads (id, title, image_url, video_url, cta, segments, channels, locations,
	           time_slots, start_date, end_date, status, priority, impressions, clicks,
	           advertiser_name, advertiser_contact_email, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	err := s.call(ctx, func() error {
		_, eErr := s.Pool.Exec(ctx, q,
			ad.ID, ad.Title, ad.ImageURL, ad.VideoURL, ad.CTA,
			segmentsToStrings(ad.Segments), channelsToStrings(ad.Channels), ad.Locations,
			timeSlotsToStrings(ad.TimeSlots), ad.StartDate, ad.EndDate, string(ad.Status), ad.Priority,
			ad.Impressions, ad.Clicks, advertiserName, advertiserEmail, ad.CreatedAt, ad.UpdatedAt)
		return eErr
	})
	if err != nil {
		return domain.Ad{}, fmt.Errorf("op=catalog.create_ad: %w", err)
	}
	return ad, nil
}

// IncrementImpressions atomically bumps an ad's impression counter.
func (s *Store) IncrementImpressions(ctx context.Context, adID string) error {
	return s.increment(ctx, "impressions", adID)
}

// IncrementClicks atomically bumps an ad's click counter.
func (s *Store) IncrementClicks(ctx context.Context, adID string) error {
	return s.increment(ctx, "clicks", adID)
}

func (s *Store) increment(ctx context.Context, column, adID string) error {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.increment."+column)
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "ads"),
	)

	q := `UPDATE ads SET ` + column + ` = ` + column + ` + 1, updated_at = now() WHERE id = $1`
	var rowsAffected int64
	err := s.call(ctx, func() error {
		tag, eErr := s.Pool.Exec(ctx, q, adID)
		if eErr != nil {
			return eErr
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=catalog.increment_%s: %w", column, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("op=catalog.increment_%s: %w", column, domain.ErrNotFound)
	}
	return nil
}

const adColumns = `id, title, image_url, video_url, cta, segments, channels, locations,
	           time_slots, start_date, end_date, status, priority, impressions, clicks,
	           advertiser_name, advertiser_contact_email, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner) (domain.Ad, error) {
	var a domain.Ad
	var segments, channels, timeSlots []string
	var status string
	var advertiserName, advertiserEmail *string
	err := row.Scan(
		&a.ID, &a.Title, &a.ImageURL, &a.VideoURL, &a.CTA,
		&segments, &channels, &a.Locations,
		&timeSlots, &a.StartDate, &a.EndDate, &status, &a.Priority,
		&a.Impressions, &a.Clicks, &advertiserName, &advertiserEmail, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Ad{}, err
	}
	a.Status = domain.AdStatus(status)
	a.Segments = stringsToSegments(segments)
	a.Channels = stringsToChannels(channels)
	a.TimeSlots = stringsToTimeSlots(timeSlots)
	if advertiserName != nil || advertiserEmail != nil {
		a.Advertiser = &domain.Advertiser{}
		if advertiserName != nil {
			a.Advertiser.Name = *advertiserName
		}
		if advertiserEmail != nil {
			a.Advertiser.ContactEmail = *advertiserEmail
		}
	}
	return a, nil
}

func scanAds(rows pgx.Rows) ([]domain.Ad, error) {
	var ads []domain.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("op=catalog.scan: %w", err)
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=catalog.scan_rows: %w", err)
	}
	return ads, nil
}

func segmentsToStrings(segs []domain.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = string(s)
	}
	return out
}

func channelsToStrings(chs []domain.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func timeSlotsToStrings(slots []domain.TimeSlot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = string(s)
	}
	return out
}

func stringsToSegments(ss []string) []domain.Segment {
	out := make([]domain.Segment, len(ss))
	for i, s := range ss {
		out[i] = domain.Segment(s)
	}
	return out
}

func stringsToChannels(ss []string) []domain.Channel {
	out := make([]domain.Channel, len(ss))
	for i, s := range ss {
		out[i] = domain.Channel(s)
	}
	return out
}

func stringsToTimeSlots(ss []string) []domain.TimeSlot {
	out := make([]domain.TimeSlot, len(ss))
	for i, s := range ss {
		out[i] = domain.TimeSlot(s)
	}
	return out
}
