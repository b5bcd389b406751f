// Command editord runs the pieceserver collaborative-editing server:
// it loads configuration, wires logging/metrics/resource admission
// control, opens the transport listener, and serves /metrics and
// /healthz on a side HTTP mux. Grounded on the teacher's main.go
// (flag parsing, automaxprocs, signal-driven shutdown) and
// go-server-3/cmd/odin-ws/main.go's http-plus-transport split.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/pieceserver/pieceserver/internal/auth"
	"github.com/pieceserver/pieceserver/internal/broker"
	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/logging"
	"github.com/pieceserver/pieceserver/internal/metrics"
	"github.com/pieceserver/pieceserver/internal/resource"
	"github.com/pieceserver/pieceserver/internal/session"
	"github.com/pieceserver/pieceserver/internal/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	boot := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(&boot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting editord")
	cfg.LogFields(logger)

	metricsRegistry := metrics.NewRegistry()
	guard := resource.NewGuard(cfg, logger, metricsRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go guard.Run(ctx, cfg.MetricsInterval)

	brk, err := broker.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cluster broker")
	}
	defer brk.Close()

	var authenticator auth.Authenticator = auth.AllowAll{}
	if cfg.RequireAuth {
		authenticator = auth.NewJWTAuthenticator(cfg.JWTSecret)
	}

	registry := session.NewRegistry(cfg, logger, metricsRegistry, brk, guard)
	srv := transport.NewServer(cfg, logger, registry, guard, authenticator, metricsRegistry)

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start transport")
	}

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- runHTTPServer(ctx, cfg, metricsRegistry, logger) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
		stop()
	}

	srv.Stop()
	logger.Info().Msg("transport stopped")
}

func runHTTPServer(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
	})
	mux.Handle("/metrics", reg.Handler())

	httpServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics http server starting")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics http server shutdown error")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
