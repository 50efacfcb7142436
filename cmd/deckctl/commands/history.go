package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <username> [--limit N]",
	Short: "Lists the most recent sync runs for a user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := deps.Service.SyncRuns(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(os.Stdout, runs)
		}
		renderSyncRuns(os.Stdout, runs)
		return nil
	},
}
