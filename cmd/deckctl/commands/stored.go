package commands

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(storedCmd)
}

var storedCmd = &cobra.Command{
	Use:   "stored <username>",
	Short: "Prints the decks stored for a user without contacting upstream.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := deps.Service.StoredSummaryView(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(os.Stdout, view)
		}
		renderSummaryView(os.Stdout, view)
		return nil
	},
}
