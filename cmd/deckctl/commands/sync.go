package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var syncSummary bool

func init() {
	syncCmd.Flags().BoolVar(&syncSummary, "summary", false, "Omit cards from JSON output.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <username> [--summary] [--output table|json]",
	Short: "Fetches a user's public decks from upstream, stores them, and prints them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncSummary {
			view, err := deps.Service.SummaryView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return writeJSON(os.Stdout, view)
			}
			renderSummaryView(os.Stdout, view)
			return nil
		}

		view, err := deps.Service.ConsolidatedView(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(os.Stdout, view)
		}
		renderConsolidatedView(os.Stdout, view)
		return nil
	},
}
