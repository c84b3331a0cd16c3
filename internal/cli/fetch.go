package cli

import (
	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	fetchCIK       string
	fetchAccession string
	fetchTrigger   string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and store one filing by accession number",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Fetch(cmd.Context(), app.FetchOptions{
			CIK:       fetchCIK,
			Accession: fetchAccession,
			Trigger:   fetchTrigger,
		})
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchCIK, "cik", "", "Institution CIK")
	fetchCmd.Flags().StringVar(&fetchAccession, "accession", "", "Accession number (0000000000-00-000000)")
	fetchCmd.Flags().StringVar(&fetchTrigger, "trigger", "manual", "Trigger mode recorded on the ledger (manual|replay)")
	_ = fetchCmd.MarkFlagRequired("cik")
	_ = fetchCmd.MarkFlagRequired("accession")
}
