package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relaybank/adserve/internal/domain"
	"github.com/relaybank/adserve/internal/observability"
	"github.com/relaybank/adserve/internal/ratelimit"
)

// RateLimitByIP admits requests per client IP using the sliding-window
// limiter, writing the standard X-RateLimit-* headers and a 429 body
// once the window is exhausted.
func (s *Server) RateLimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IPLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.IPLimiter.CheckIP(r.Context(), clientIP(r), r.URL.Path, time.Now())
		observability.RecordRateLimitDecision("ip", decision.Admitted)
		writeRateLimitHeaders(w, decision)
		if !decision.Admitted {
			writeRateLimitError(w, decision)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthenticateAPIKey requires a valid X-API-Key but does not meter the
// request against the rate limiter; used for routes the external
// interface marks as API-key-auth but not rate-limited.
func (s *Server) AuthenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.resolveAPIKeyTier(r); !ok {
			writeError(w, r, fmt.Errorf("op=httpserver.authenticate: %w", domain.ErrUnauthenticated), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByAPIKey admits requests per authenticated API key's tier. It
// requires an X-API-Key header resolvable via s.APIKeyTiers; missing or
// unrecognised keys are rejected as unauthenticated rather than rate
// limited, since an unknown caller has no tier to meter against.
func (s *Server) RateLimitByAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		tier, ok := s.resolveAPIKeyTier(r)
		if !ok {
			writeError(w, r, fmt.Errorf("op=httpserver.rate_limit: %w", domain.ErrUnauthenticated), nil)
			return
		}
		if s.IPLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.IPLimiter.CheckAPIKey(r.Context(), apiKey, tier, r.URL.Path, time.Now())
		observability.RecordRateLimitDecision("api_key", decision.Admitted)
		writeRateLimitHeaders(w, decision)
		if !decision.Admitted {
			writeRateLimitError(w, decision)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveAPIKeyTier extracts and resolves the caller's API key, reporting
// ok=false when the key is absent or unrecognised.
func (s *Server) resolveAPIKeyTier(r *http.Request) (string, bool) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" || s.APIKeyTiers == nil {
		return "", false
	}
	return s.APIKeyTiers.ResolveTier(r.Context(), apiKey)
}

func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Admitted {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
}

// writeRateLimitError writes the {error, retryAfter, tier?} body the
// external interface specifies for a denied request.
func writeRateLimitError(w http.ResponseWriter, d ratelimit.Decision) {
	body := map[string]any{
		"error":      "rate limited",
		"retryAfter": int(d.RetryAfter.Seconds()),
	}
	if d.Tier != "" {
		body["tier"] = d.Tier
	}
	writeJSON(w, http.StatusTooManyRequests, body)
}

// clientIP extracts the originating client address per the rate
// limiter's IP-extraction rule: first entry of X-Forwarded-For, else
// X-Real-IP, else "unknown".
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := strings.TrimSpace(xri); ip != "" {
			return ip
		}
	}
	return "unknown"
}
