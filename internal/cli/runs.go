package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent ingestion ledger rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Runs(cmd.Context(), app.RunsOptions{Limit: runsLimit})
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
