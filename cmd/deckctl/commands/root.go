package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/deckvault/internal/app"
	"github.com/sakif/deckvault/internal/config"
	"github.com/sakif/deckvault/internal/telemetry"
)

var (
	outputFormat string
	cfg          config.Config

	// Built in PersistentPreRunE, released in PersistentPostRunE.
	deps            *app.App
	shutdownTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:           "deckctl",
	Short:         "deckctl syncs and inspects public decks from the upstream deck site.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		// Logs go to stderr so --output json stays pipeable.
		logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)

		var err error
		shutdownTracing, err = telemetry.SetupTracing(cmd.Context(), telemetry.TracingConfig{
			Enabled:     cfg.TracingEnabled,
			ServiceName: cfg.ServiceName + "-cli",
			Endpoint:    cfg.TracingEndpoint,
		})
		if err != nil {
			return err
		}

		deps, err = app.New(cfg, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return release()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table or json.")
}

func loadConfig() error {
	if outputFormat != "table" && outputFormat != "json" {
		return fmt.Errorf("--output must be table or json, got %q", outputFormat)
	}
	var err error
	cfg, err = config.Load()
	return err
}

func release() error {
	var err error
	if deps != nil {
		err = deps.Close()
		deps = nil
	}
	if shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := shutdownTracing(ctx); terr != nil && err == nil {
			err = terr
		}
		shutdownTracing = nil
	}
	return err
}

// ExecuteContext runs the root command and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when RunE fails.
	if rerr := release(); err == nil {
		err = rerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
