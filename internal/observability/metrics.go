// Package observability provides logging, metrics, tracing, and the
// connection-health circuit breaker shared by the catalog and KV adapters.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"route", "method"},
	)

	// ServeOutcomeTotal counts serve() results by outcome (responded,
	// fallback_path, error) and whether the response came from cache.
	ServeOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ad_serve_outcome_total",
			Help: "Total serve() calls by terminal state",
		},
		[]string{"outcome", "cache"},
	)

	// CandidatesAfterFilter records how many candidates survived the
	// time-slot + frequency-cap filters, one observation per serve call.
	CandidatesAfterFilter = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ad_serve_candidates_after_filter",
			Help:    "Number of eligible candidates after filtering, per serve call",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	// RateLimitDecisionsTotal counts admitted/denied decisions per layer.
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total rate limit decisions by layer and outcome",
		},
		[]string{"layer", "outcome"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per guarded dependency.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ServeOutcomeTotal)
	prometheus.MustRegister(CandidatesAfterFilter)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()

		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// RecordServeOutcome records the terminal state of a serve() call.
func RecordServeOutcome(outcome string, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	ServeOutcomeTotal.WithLabelValues(outcome, cache).Inc()
}

// RecordCandidatesAfterFilter records the post-filter candidate count.
func RecordCandidatesAfterFilter(n int) {
	CandidatesAfterFilter.Observe(float64(n))
}

// RecordRateLimitDecision records an admit/deny decision for a rate limit layer.
func RecordRateLimitDecision(layer string, admitted bool) {
	outcome := "denied"
	if admitted {
		outcome = "admitted"
	}
	RateLimitDecisionsTotal.WithLabelValues(layer, outcome).Inc()
}

// RecordCircuitBreakerStatus records the breaker state for a dependency.
func RecordCircuitBreakerStatus(dependency string, state CircuitBreakerState) {
	CircuitBreakerStatus.WithLabelValues(dependency).Set(float64(state))
}
