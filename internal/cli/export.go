package cli

import (
	"github.com/spf13/cobra"

	"whaleinsight/internal/app"
)

var (
	exportCIK     string
	exportPNGPath string
	exportCSVPath string
	exportMaxRows int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an institution's latest enriched positions as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CIK:     exportCIK,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxRows: exportMaxRows,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCIK, "cik", "", "Institution CIK")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG gap chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum positions to export (defaults to config)")
	_ = exportCmd.MarkFlagRequired("cik")
}
