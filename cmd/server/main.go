package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"politikcred/internal/app"
	"politikcred/internal/platform/config"
	"politikcred/internal/platform/httpserver"
	"politikcred/internal/platform/logger"
	httptransport "politikcred/internal/transport/http"
)

const shutdownTimeout = 30 * time.Second

// main wires dependencies, serves the router and drains in-flight requests
// on SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// A triggered run answers only when it finishes.
	writeTimeout := cfg.Pipeline.RunTimeout
	if writeTimeout <= 0 {
		writeTimeout = cfg.Pipeline.StaleAfter
	}
	writeTimeout += time.Minute
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(a), writeTimeout)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting politikcred", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		a.Close()
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
