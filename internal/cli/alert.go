package cli

import (
	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	alertTestKind string
)

var alertTestCmd = &cobra.Command{
	Use:   "alert-test",
	Short: "Send a simulated alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertTest(cmd.Context(), app.AlertTestOptions{Kind: alertTestKind})
	},
}

func init() {
	alertTestCmd.Flags().StringVar(&alertTestKind, "kind", "run_failed", "Alert kind to simulate (run_failed|stale_summary)")
}
