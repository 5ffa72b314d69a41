package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/relaybank/adserve/internal/apikeyauth"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/ratelimit"
	"github.com/relaybank/adserve/internal/serving"
)

// Server aggregates the ad-serving API's handler dependencies.
type Server struct {
	Cfg          config.Config
	Orchestrator *serving.Orchestrator
	Catalog      domain.CatalogPort
	IPLimiter    *ratelimit.Limiter
	APIKeyTiers  apikeyauth.Resolver
	KVCheck      func(ctx context.Context) error
	CatalogCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer constructs an HTTP server with every handler wired.
func NewServer(cfg config.Config, orchestrator *serving.Orchestrator, catalog domain.CatalogPort, ipLimiter *ratelimit.Limiter, tiers apikeyauth.Resolver, kvCheck, catalogCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:          cfg,
		Orchestrator: orchestrator,
		Catalog:      catalog,
		IPLimiter:    ipLimiter,
		APIKeyTiers:  tiers,
		KVCheck:      kvCheck,
		CatalogCheck: catalogCheck,
	}
}

type serveRequestBody struct {
	Balance    float64 `json:"balance" validate:"gte=0"`
	Channel    string  `json:"channel" validate:"omitempty,oneof=ATM mobile web USSD"`
	CustomerID string  `json:"customerId" validate:"required,max=64"`
}

// ServeHandler handles POST /api/v1/ads/serve.
func (s *Server) ServeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		var body serveRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.serve: invalid json: %w", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.serve: %w", domain.ErrValidation), validationDetails(err))
			return
		}

		req := domain.ServeRequest{
			Balance:    body.Balance,
			Channel:    domain.Channel(body.Channel),
			CustomerID: body.CustomerID,
		}
		resp, err := s.Orchestrator.Serve(r.Context(), req, time.Now())
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "No ad available"})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type createAdRequestBody struct {
	Title     string   `json:"title" validate:"required"`
	ImageURL  string   `json:"imageUrl"`
	VideoURL  string   `json:"videoUrl"`
	CTA       string   `json:"cta"`
	Segments  []string `json:"segments" validate:"required,min=1"`
	Channels  []string `json:"channels"`
	Locations []string `json:"locations"`
	TimeSlots []string `json:"timeSlots"`
	StartDate string   `json:"startDate" validate:"required"`
	EndDate   string   `json:"endDate" validate:"required"`
	Priority  float64  `json:"priority" validate:"gte=0"`
}

// CreateAdHandler handles POST /api/v1/ads/create.
func (s *Server) CreateAdHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		var body createAdRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.create_ad: invalid json: %w", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.create_ad: %w", domain.ErrValidation), validationDetails(err))
			return
		}

		startDate, err := time.Parse(time.RFC3339, body.StartDate)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.create_ad: startDate must be RFC3339: %w", domain.ErrValidation), nil)
			return
		}
		endDate, err := time.Parse(time.RFC3339, body.EndDate)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.create_ad: endDate must be RFC3339: %w", domain.ErrValidation), nil)
			return
		}

		ad := domain.Ad{
			Title:     body.Title,
			ImageURL:  body.ImageURL,
			VideoURL:  body.VideoURL,
			CTA:       body.CTA,
			Segments:  toSegments(body.Segments),
			Channels:  toChannels(body.Channels),
			Locations: body.Locations,
			TimeSlots: toTimeSlots(body.TimeSlots),
			StartDate: startDate,
			EndDate:   endDate,
			Status:    domain.AdStatusActive,
			Priority:  body.Priority,
		}

		created, err := s.Catalog.CreateAd(r.Context(), ad)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.create_ad: %w", err), nil)
			return
		}
		if s.Orchestrator != nil {
			s.Orchestrator.InvalidateForAd(created.Segments, created.Channels)
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

type adEventBody struct {
	AdID string `json:"adId" validate:"required"`
}

// ImpressionHandler handles POST /api/v1/ads/impression.
func (s *Server) ImpressionHandler() http.HandlerFunc {
	return s.adEventHandler(func(ctx context.Context, adID string) error {
		return s.Catalog.IncrementImpressions(ctx, adID)
	})
}

// ClickHandler handles POST /api/v1/ads/click.
func (s *Server) ClickHandler() http.HandlerFunc {
	return s.adEventHandler(func(ctx context.Context, adID string) error {
		return s.Catalog.IncrementClicks(ctx, adID)
	})
}

func (s *Server) adEventHandler(record func(ctx context.Context, adID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<12)
		var body adEventBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.ad_event: invalid json: %w", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(body); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.ad_event: %w", domain.ErrValidation), validationDetails(err))
			return
		}
		if err := record(r.Context(), body.AdID); err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.ad_event: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	}
}

// HealthzHandler answers liveness probes unconditionally.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// ReadyzHandler probes the catalog and KV dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var checks []check
		if s.CatalogCheck != nil {
			if err := s.CatalogCheck(ctx); err != nil {
				checks = append(checks, check{Name: "catalog", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "catalog", OK: true})
			}
		}
		if s.KVCheck != nil {
			if err := s.KVCheck(ctx); err != nil {
				checks = append(checks, check{Name: "kv", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "kv", OK: true})
			}
		}

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

func validationDetails(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return out
}

func toSegments(ss []string) []domain.Segment {
	out := make([]domain.Segment, len(ss))
	for i, s := range ss {
		out[i] = domain.Segment(s)
	}
	return out
}

func toChannels(ss []string) []domain.Channel {
	out := make([]domain.Channel, len(ss))
	for i, s := range ss {
		out[i] = domain.Channel(s)
	}
	return out
}

func toTimeSlots(ss []string) []domain.TimeSlot {
	out := make([]domain.TimeSlot, len(ss))
	for i, s := range ss {
		out[i] = domain.TimeSlot(s)
	}
	return out
}
