// Package config loads runtime configuration from environment variables.
//
// Every setting has a default, so the server starts with no environment at
// all. Load parses with caarlos0/env and then validates the result; a bad
// value fails startup instead of surfacing on the first request.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Port             int           `env:"PORT"               envDefault:"8080"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`

	// APIJWTSecret, when set, requires a bearer token on every route except
	// /health. Tokens are minted with `deckctl token`.
	APIJWTSecret string `env:"API_JWT_SECRET"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DBPath       string `env:"DB_PATH"       envDefault:"data/deckvault.db"`

	Upstream Upstream

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	TracingEnabled  bool   `env:"TRACING_ENABLED"  envDefault:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT"`
	ServiceName     string `env:"SERVICE_NAME"     envDefault:"deckvault"`
}

// Upstream configures the deck service we aggregate from.
type Upstream struct {
	BaseURL   string        `env:"UPSTREAM_BASE_URL"   envDefault:"https://api2.moxfield.com"`
	SiteURL   string        `env:"UPSTREAM_SITE_URL"   envDefault:"https://www.moxfield.com"`
	Timeout   time.Duration `env:"UPSTREAM_TIMEOUT"    envDefault:"15s"`
	RateLimit float64       `env:"UPSTREAM_RATE_LIMIT" envDefault:"2"`
	RateBurst int           `env:"UPSTREAM_RATE_BURST" envDefault:"1"`
	UserAgent string        `env:"UPSTREAM_USER_AGENT"`
	PageSize  int           `env:"UPSTREAM_PAGE_SIZE"  envDefault:"100"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads from the given map instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.HTTPWriteTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_WRITE_TIMEOUT must be positive"))
	}
	if c.APIJWTSecret != "" && len(c.APIJWTSecret) < 16 {
		errs = append(errs, errors.New("API_JWT_SECRET must be at least 16 characters"))
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreSQLite, StoreMemory, c.StoreBackend))
	}

	if err := validateURL("UPSTREAM_BASE_URL", c.Upstream.BaseURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("UPSTREAM_SITE_URL", c.Upstream.SiteURL, false); err != nil {
		errs = append(errs, err)
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.Upstream.RateLimit < 0 {
		errs = append(errs, errors.New("UPSTREAM_RATE_LIMIT must not be negative"))
	}
	if c.Upstream.RateBurst < 1 {
		errs = append(errs, errors.New("UPSTREAM_RATE_BURST must be at least 1"))
	}
	if c.Upstream.PageSize < 1 || c.Upstream.PageSize > 100 {
		errs = append(errs, fmt.Errorf("UPSTREAM_PAGE_SIZE must be between 1 and 100, got %d", c.Upstream.PageSize))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validateURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}
