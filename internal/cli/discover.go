package cli

import (
	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	discoverFromFeed bool
	discoverFile     string
	discoverTrigger  string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Refresh the tracked institution universe",
	Long: `Refresh the institution universe from EDGAR company tickers (default),
the current-filings feed (--feed) or a local JSON payload (--file).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Discover(cmd.Context(), app.DiscoverOptions{
			FromFeed: discoverFromFeed,
			File:     discoverFile,
			Trigger:  discoverTrigger,
		})
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverFromFeed, "feed", false, "Discover filers from the current 13F filings feed")
	discoverCmd.Flags().StringVar(&discoverFile, "file", "", "Ingest a company tickers JSON payload from disk")
	discoverCmd.Flags().StringVar(&discoverTrigger, "trigger", "manual", "Trigger mode recorded on the ledger (manual|scheduled|replay)")
	discoverCmd.MarkFlagsMutuallyExclusive("feed", "file")
}
