// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer for HTTP: it maps URL patterns to
// handlers and decides which middleware runs. The dependency graph itself
// (store, upstream client, service) is built by internal/app and handed in,
// so the CLI and the server share it.
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/deckvault/internal/app"
	"github.com/sakif/deckvault/internal/auth"
	"github.com/sakif/deckvault/internal/config"
	"github.com/sakif/deckvault/internal/handler"
	"github.com/sakif/deckvault/internal/middleware"
)

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	app    *app.App
}

// New creates a Server for an already-built App. The App is owned by the
// caller, which closes it after Start returns.
func New(cfg config.Config, a *app.App, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		app:    a,
	}
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET /health                                  → storage probe
// GET /users/{username}/decks                  → consolidated view (live sync)
// GET /users/{username}/deck-summaries         → summary view (live sync)
// GET /users/{username}/deck-summaries/stored  → summary view from storage only
// GET /users/{username}/sync-runs              → recent sync runs
// GET /sync-runs/{id}                          → one sync run
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (read by the logger)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
//
// With API_JWT_SECRET set, everything but /health sits behind RequireBearer.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	healthHandler := handler.NewHealthHandler(s.app, s.logger)
	s.router.Get("/health", healthHandler.HandleHealth)

	deckHandler := handler.NewDeckHandler(s.app.Service, s.logger)

	var guard func(http.Handler) http.Handler
	if s.config.APIJWTSecret != "" {
		tokens, err := auth.NewTokenService(s.config.APIJWTSecret)
		if err != nil {
			return err
		}
		guard = auth.RequireBearer(tokens, s.logger)
	} else {
		s.logger.Warn("API_JWT_SECRET not set; the API is open")
	}

	s.router.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Route("/users/{username}", func(r chi.Router) {
			r.Get("/decks", deckHandler.HandleConsolidated)
			r.Get("/deck-summaries", deckHandler.HandleSummaries)
			r.Get("/deck-summaries/stored", deckHandler.HandleStoredSummaries)
			r.Get("/sync-runs", deckHandler.HandleSyncRuns)
		})
		r.Get("/sync-runs/{id}", deckHandler.HandleSyncRun)
	})
	return nil
}

// Handler returns the fully wrapped HTTP handler. The otelhttp wrapper
// starts a server span per request; with tracing disabled it is a no-op.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "deckvault",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM or a
// listener error, then shuts down gracefully.
//
// A consolidated sync of a large collection can take minutes, so the write
// timeout comes from config rather than a fixed 15s.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.HTTPWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.config.StoreBackend),
			slog.String("upstream", s.config.Upstream.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// In-flight syncs get 30 seconds to finish.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
