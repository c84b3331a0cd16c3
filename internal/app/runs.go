package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// Runs prints the most recent ingestion ledger rows.
func (a *App) Runs(ctx context.Context, opts RunsOptions) error {
	repo, closeStore, err := a.openDatabase(ctx, "show runs")
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := repo.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tKind\tStatus\tTrigger\tAccession\tCounts\tError")
	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt,
			run.RunKind,
			run.RunStatus,
			run.TriggerMode,
			dash(run.TargetAccessionNumber),
			formatCounts(run.RowCounts),
			formatRunError(run.ErrorPayload),
		)
	}
	return writer.Flush()
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func formatRunError(payload *domain.RunErrorPayload) string {
	if payload == nil {
		return ""
	}
	return sanitizeInline(fmt.Sprintf("%s/%s: %s", payload.Source, payload.Reason, payload.Message))
}

func decimalOrDash(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
