// Package app is the composition root: it turns a config.Config into a
// ready DeckService. The API server and the deckctl CLI both start here so
// they always run the same pipeline.
//
// DEPENDENCY CHAIN:
//
//	config → store (sqlite | memory)
//	       → challenge.Session → challenge.Client → upstream.Gateway
//	       → service.DeckService(gateway, store)
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/deckvault/internal/config"
	"github.com/sakif/deckvault/internal/repository"
	"github.com/sakif/deckvault/internal/repository/memory"
	"github.com/sakif/deckvault/internal/repository/sqlite"
	"github.com/sakif/deckvault/internal/service"
	"github.com/sakif/deckvault/internal/upstream"
	"github.com/sakif/deckvault/internal/upstream/challenge"
)

// App owns the long-lived dependencies. Close releases them.
type App struct {
	Store   repository.Store
	Service *service.DeckService
	Session *challenge.Session

	closeStore func() error
}

// New builds the dependency graph. The upstream session is created here,
// once per process, and shared by every request.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	session, err := challenge.NewSession()
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("app: creating upstream session: %w", err)
	}
	client, err := challenge.New(challenge.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		SiteURL:   cfg.Upstream.SiteURL,
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.Timeout,
		RateLimit: cfg.Upstream.RateLimit,
		RateBurst: cfg.Upstream.RateBurst,
	}, session, logger)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("app: creating upstream client: %w", err)
	}

	gateway := upstream.NewGateway(client, upstream.Config{
		SiteURL:  cfg.Upstream.SiteURL,
		PageSize: cfg.Upstream.PageSize,
	}, logger)

	return &App{
		Store:      store,
		Service:    service.NewDeckService(gateway, store, logger),
		Session:    session,
		closeStore: closeStore,
	}, nil
}

// Ping reports whether the store is reachable.
func (a *App) Ping() error {
	if p, ok := a.Store.(interface{ Ping() error }); ok {
		return p.Ping()
	}
	return nil
}

func (a *App) Close() error {
	return a.closeStore()
}

func openStore(cfg config.Config, logger *slog.Logger) (repository.Store, func() error, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory store; nothing is persisted across restarts")
		return memory.New(), func() error { return nil }, nil
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("app: creating database directory %s: %w", dir, err)
		}
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("app: opening database: %w", err)
	}
	return db, db.Close, nil
}
