package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	syncCIKs     []string
	syncPriority bool
	syncTrigger  string
	syncJSON     bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [cik...]",
	Short: "Fetch, parse, resolve and enrich the latest filings of institutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ciks := append(append([]string{}, syncCIKs...), args...)
		if len(ciks) == 0 && !syncPriority {
			return fmt.Errorf("pass at least one CIK or --priority")
		}
		return getApp().Sync(cmd.Context(), app.SyncOptions{
			CIKs:     ciks,
			Priority: syncPriority,
			Trigger:  syncTrigger,
			JSON:     syncJSON,
		})
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncCIKs, "cik", nil, "Institution CIK (repeatable)")
	syncCmd.Flags().BoolVar(&syncPriority, "priority", false, "Sync every institution in the priority cohort")
	syncCmd.Flags().StringVar(&syncTrigger, "trigger", "manual", "Trigger mode recorded on the ledger (manual|replay)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the full sync result as JSON")
}
