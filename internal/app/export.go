package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/storage"
)

// Export renders an institution's latest enriched positions as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	cik, err := domain.NormalizeCIK(opts.CIK)
	if err != nil {
		return err
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	repo, closeStore, err := a.openDatabase(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	positions, err := repo.ListLatestPositions(ctx, cik)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		a.Logger.Info().Str("cik", cik).Msg("no positions found for export")
		return nil
	}

	selected := largestPositions(positions, opts.MaxRows)
	a.Logger.Info().
		Str("cik", cik).
		Str("report_period", selected[0].ReportPeriod).
		Int("total", len(positions)).
		Int("exported", len(selected)).
		Msg("exporting positions")

	if opts.CSVPath != "" {
		if err := writePositionsCSV(opts.CSVPath, selected); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeGapPNG(opts.PNGPath, cik, selected); err != nil {
			return err
		}
	}

	return nil
}

// largestPositions keeps the max rows of highest reported value, then restores filing order.
func largestPositions(positions []storage.PositionRecord, max int) []storage.PositionRecord {
	if max <= 0 || len(positions) <= max {
		return positions
	}

	ranked := make([]storage.PositionRecord, len(positions))
	copy(ranked, positions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ValueThousands.GreaterThan(ranked[j].ValueThousands)
	})
	ranked = ranked[:max]
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RowNumber < ranked[j].RowNumber
	})
	return ranked
}

func writePositionsCSV(path string, positions []storage.PositionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"institution_cik", "report_period", "accession_number", "row_number", "issuer_name", "cusip", "ticker",
		"type", "value_thousands", "shares", "weight", "cost", "price", "gap", "price_timestamp",
		"calc_version", "stale_badge", "stale_reason", "updated_at",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range positions {
		record := []string{
			p.InstitutionCIK,
			p.ReportPeriod,
			p.AccessionNumber,
			strconv.Itoa(p.RowNumber),
			p.IssuerName,
			p.CUSIP,
			p.Ticker,
			string(p.Action),
			p.ValueThousands.String(),
			p.Shares.String(),
			p.Weight,
			optionalDecimal(p.Cost),
			optionalDecimal(p.Price),
			p.Gap,
			p.PriceTimestamp,
			p.CalcVersion,
			string(p.StaleBadge),
			p.StaleReason,
			formatUpdatedAt(p.UpdatedAt),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeGapPNG(path, cik string, positions []storage.PositionRecord) error {
	bars := make([]chart.Value, 0, len(positions))
	for _, p := range positions {
		gap, ok := gapPercent(p.Gap)
		if !ok {
			continue
		}
		bars = append(bars, chart.Value{Label: p.Ticker, Value: gap.InexactFloat64()})
	}
	if len(bars) == 0 {
		return errors.New("no priced positions to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.BarChart{
		Title:        "Gap vs. quarter VWAP (%) " + cik + " " + positions[0].ReportPeriod,
		Width:        1280,
		Height:       720,
		BarWidth:     40,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f%%")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// gapPercent parses a signed gap label such as "+3.85%".
func gapPercent(label string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(label), "+"), "%")
	if trimmed == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func optionalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatUpdatedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
