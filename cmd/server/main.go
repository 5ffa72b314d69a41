// Command server starts the ad-serving HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/relaybank/adserve/internal/adapter/httpserver"
	"github.com/relaybank/adserve/internal/adapter/postgrescatalog"
	"github.com/relaybank/adserve/internal/adapter/rediskv"
	"github.com/relaybank/adserve/internal/apikeyauth"
	"github.com/relaybank/adserve/internal/app"
	"github.com/relaybank/adserve/internal/config"
	"github.com/relaybank/adserve/internal/observability"
	"github.com/relaybank/adserve/internal/ratelimit"
	"github.com/relaybank/adserve/internal/serving"
	"github.com/relaybank/adserve/internal/workerpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgrescatalog.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	catalog := postgrescatalog.New(pool, cfg)

	kv, err := rediskv.New(cfg.RedisURL, cfg)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	pool2 := workerpool.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
	defer pool2.Close()

	orchestrator := serving.New(catalog, kv, cfg, pool2)
	ipLimiter := ratelimit.New(kv, cfg)
	tiers := apikeyauth.NewStaticResolver(cfg)

	catalogCheck, kvCheck := app.BuildReadinessChecks(pool, kv)

	srv := httpserver.NewServer(cfg, orchestrator, catalog, ipLimiter, tiers, kvCheck, catalogCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
