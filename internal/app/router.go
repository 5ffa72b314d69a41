// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization,
// coordinating between the HTTP layer, the serving orchestrator, and
// the catalog/KV adapters during process bootstrap.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/relaybank/adserve/internal/adapter/httpserver"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// In-process floor that holds even when Redis is unreachable and the
	// sliding-window limiter fails open; set generously above the
	// Redis-backed per-IP limit so it only bites during an outage.
	r.Use(httprate.LimitByIP(cfg.RateLimitIPMax*10, time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/v1/health", srv.HealthzHandler())
	r.Get("/api/v1/ready", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(wr chi.Router) {
		wr.Use(srv.RateLimitByIP)
		wr.Post("/api/v1/ads/serve", srv.ServeHandler())
	})

	r.Group(func(wr chi.Router) {
		wr.Use(srv.AuthenticateAPIKey)
		wr.Post("/api/v1/ads/create", srv.CreateAdHandler())
	})

	r.Group(func(wr chi.Router) {
		wr.Use(srv.RateLimitByAPIKey)
		wr.Post("/api/v1/ads/impression", srv.ImpressionHandler())
		wr.Post("/api/v1/ads/click", srv.ClickHandler())
	})

	return httpserver.SecurityHeaders(r)
}
