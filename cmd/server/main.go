// Package main is the entry point for the deckvault API server.
//
// The main package is kept minimal. Its job is to:
// 1. Read configuration (environment variables, see internal/config)
// 2. Create the logger and tracer
// 3. Build the App and start the HTTP server
//
// All actual logic lives in imported packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/deckvault/internal/app"
	"github.com/sakif/deckvault/internal/config"
	"github.com/sakif/deckvault/internal/server"
	"github.com/sakif/deckvault/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run holds everything main does so that deferred cleanup runs before the
// process exits.
func run() error {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING AND TRACING ===
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// === 3. BUILD DEPENDENCIES ===
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// === 4. START THE SERVER ===
	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM).
	srv, err := server.New(cfg, a, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
