package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/deckvault/internal/auth"
)

var tokenTTL time.Duration

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "How long the token stays valid.")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token <client-name> [--ttl 720h]",
	Short: "Mints a bearer token for the API using API_JWT_SECRET.",
	Args:  cobra.ExactArgs(1),
	// Only the secret is needed; skip opening the store.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.APIJWTSecret == "" {
			return errors.New("API_JWT_SECRET is not set")
		}
		tokens, err := auth.NewTokenService(cfg.APIJWTSecret)
		if err != nil {
			return err
		}
		token, err := tokens.Generate(args[0], tokenTTL)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(os.Stdout, map[string]any{
				"client":    args[0],
				"token":     token,
				"expiresAt": time.Now().Add(tokenTTL).UTC(),
			})
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}
