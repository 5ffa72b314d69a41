// Package httpserver exposes the ad-serving HTTP API: health and
// readiness probes, the serve/create/impression/click endpoints, and the
// middleware chain (rate limiting, request IDs, tracing) in front of
// them.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaybank/adserve/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusBadRequest
		codeStr = "VALIDATION"
	case errors.Is(err, domain.ErrUnauthenticated):
		code = http.StatusUnauthorized
		codeStr = "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrForbidden):
		code = http.StatusForbidden
		codeStr = "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrCatalogTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "CATALOG_TIMEOUT"
	case errors.Is(err, domain.ErrKVUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "KV_UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
