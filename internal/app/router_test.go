package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	httpserver "github.com/relaybank/adserve/internal/adapter/httpserver"
	"github.com/relaybank/adserve/internal/adapter/memcatalog"
	"github.com/relaybank/adserve/internal/adapter/memkv"
	"github.com/relaybank/adserve/internal/app"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/serving"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	catalog := memcatalog.New()
	kv := memkv.New()
	orch := serving.New(catalog, kv, cfg, nil)
	catalogCheck, kvCheck := app.BuildReadinessChecks(noopPinger{}, noopKVChecker{})
	srv := httpserver.NewServer(cfg, orch, catalog, nil, nil, kvCheck, catalogCheck)
	return app.BuildRouter(cfg, srv)
}

type noopPinger struct{}

func (noopPinger) Ping(_ context.Context) error { return nil }

type noopKVChecker struct{}

func (noopKVChecker) IsAvailable() bool { return true }

func TestBuildRouter_Healthz(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestBuildRouter_Readyz(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestBuildRouter_ServeRejectsInvalidBody(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ads/serve", bytes.NewBufferString(`{"balance":-1}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Result().StatusCode)
}

func TestBuildRouter_CreateAdRequiresAPIKey(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ads/create", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Result().StatusCode)
}

func TestBuildRouter_ImpressionRequiresAPIKey(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ads/impression", bytes.NewBufferString(`{"adId":"ad-1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Result().StatusCode)
}

func TestBuildRouter_ClickRequiresAPIKey(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ads/click", bytes.NewBufferString(`{"adId":"ad-1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Result().StatusCode)
}
