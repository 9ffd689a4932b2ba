// Package main runs the experimentation engine's HTTP server.
//
// Startup flow:
//
//  1. Load configuration from environment variables (config.Load)
//  2. Initialize the Prometheus metrics registry (telemetry.Init)
//  3. Create the store - Postgres or in-memory (store.NewStore)
//  4. Wire the engine and start the API server (api.NewServer)
//  5. Start the metrics/pprof server (for observability - /metrics, /debug/pprof)
//  6. Wait for SIGINT/SIGTERM for graceful shutdown
//  7. Shutdown: stop listeners, drain the audit queue and webhook dispatcher
//
// Two HTTP servers run concurrently:
//   - API server: the library surface, admin surface, and /ws/experiments/
//   - Metrics server: Prometheus metrics and pprof profiling (internal use)
package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goflagship/experiments/internal/api"
	"github.com/goflagship/experiments/internal/config"
	"github.com/goflagship/experiments/internal/logging"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.AppEnv)

	telemetry.Init()

	ctx := context.Background()
	st, err := store.NewStore(ctx, store.Kind(cfg.StoreType), cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("store_type", cfg.StoreType).Msg("failed to initialize store")
	}
	defer st.Close()

	srv := api.NewServer(st, cfg, log)
	defer srv.Close()

	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // keep realtime connections alive
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	// forward /debug/pprof/* to DefaultServeMux where pprof registered
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)

	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/pprof server listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("metrics server")
		}
	}()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownSignal

	log.Info().Msg("shutdown signal received, stopping servers")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}
}
