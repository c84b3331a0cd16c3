package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/ingest"
	"whaleinsight/internal/service"
	"whaleinsight/internal/storage"
)

// Discover refreshes the institution universe from company tickers, the current-filings feed or a file.
func (a *App) Discover(ctx context.Context, opts DiscoverOptions) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	trigger := triggerMode(opts.Trigger)
	var summary ingest.UniverseSummary
	switch {
	case opts.File != "":
		raw, readErr := os.ReadFile(opts.File)
		if readErr != nil {
			return fmt.Errorf("read universe file: %w", readErr)
		}
		ingestor := ingest.NewUniverseIngestor(repo, repo, a.universeOptions(trigger), a.Logger)
		summary, err = ingestor.IngestPayload(ctx, raw)
	case opts.FromFeed:
		sec, secErr := a.newSECClient()
		if secErr != nil {
			return secErr
		}
		summary, err = a.discoverFromFeed(ctx, sec, repo, trigger)
	default:
		sec, secErr := a.newSECClient()
		if secErr != nil {
			return secErr
		}
		summary, err = a.discoverTickers(ctx, sec, repo, trigger)
	}
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, summary)
}

func (a *App) discoverTickers(ctx context.Context, sec *fetcher.SECClient, repo storage.Repository, trigger domain.TriggerMode) (ingest.UniverseSummary, error) {
	ingestor := ingest.NewUniverseIngestor(repo, repo, a.universeOptions(trigger), a.Logger)
	return ingestor.Discover(ctx, sec)
}

func (a *App) discoverFromFeed(ctx context.Context, sec *fetcher.SECClient, repo storage.Repository, trigger domain.TriggerMode) (ingest.UniverseSummary, error) {
	entries, err := a.newFeedClient(sec).Latest(ctx)
	if err != nil {
		return ingest.UniverseSummary{}, fmt.Errorf("read current filings feed: %w", err)
	}
	ingestor := ingest.NewUniverseIngestor(repo, repo, a.universeOptions(trigger), a.Logger)
	return ingestor.DiscoverFromFeed(ctx, entries)
}

// Fetch stores the metadata artifact of one filing and prints the ingestion result.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	if opts.CIK == "" || opts.Accession == "" {
		return errors.New("--cik and --accession are required")
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sec, err := a.newSECClient()
	if err != nil {
		return err
	}

	ingestor := ingest.NewFilingIngestor(sec, repo, repo, a.Config.SEC.ArchiveBaseURL, a.Logger)
	result, err := ingestor.FetchAndStore(ctx, ingest.FetchOptions{
		InstitutionCIK:   opts.CIK,
		AccessionNumber:  opts.Accession,
		TriggerMode:      triggerMode(opts.Trigger),
		TransformVersion: a.Config.Ingest.TransformVersion,
	})
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, map[string]any{
		"runId":            result.RunID,
		"requestSignature": result.RequestSignature,
		"runStatus":        result.RunStatus,
		"filingCreated":    result.FilingCreated,
		"rowCounts":        result.RowCounts,
		"warnings":         result.Warnings,
		"filing":           result.Artifact,
	})
}

// Sync runs the pipeline for the given institutions, or the whole priority cohort.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sec, err := a.newSECClient()
	if err != nil {
		return err
	}
	pipeline := a.newPipeline(sec, repo, a.newNotifier())
	trigger := triggerMode(opts.Trigger)

	if len(opts.CIKs) == 1 && !opts.Priority {
		result, err := pipeline.SyncInstitution(ctx, opts.CIKs[0], trigger)
		if err != nil {
			return err
		}
		if opts.JSON {
			return writeJSON(os.Stdout, result)
		}
		return writeSyncResult(os.Stdout, result)
	}

	ciks := opts.CIKs
	if opts.Priority {
		institutions, err := repo.ListPriorityInstitutions(ctx)
		if err != nil {
			return err
		}
		for _, inst := range institutions {
			ciks = append(ciks, inst.CIK)
		}
	}
	if len(ciks) == 0 {
		return errors.New("no institutions to sync; pass --cik or run discover first")
	}

	svc := service.New(nil, pipeline, repo, service.Options{Workers: a.Config.Ingest.Workers}, a.Logger)
	summary := svc.SyncUniverse(ctx, ciks, trigger)
	if err := writeJSON(os.Stdout, summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d institution syncs failed", summary.Failed, summary.Requested)
	}
	return nil
}

func writeSyncResult(w io.Writer, result service.SyncResult) error {
	fmt.Fprintf(w, "institution %s  period %s  accession %s\n\n", result.InstitutionCIK, result.ReportPeriod, result.ActiveAccession)

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ticker\tType\tWeight\tCost\tPrice\tGap\tFreshness")
	for _, row := range result.Enriched.Rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			dash(row.Ticker),
			row.Action,
			dash(row.Weight),
			decimalOrDash(row.Cost, 4),
			decimalOrDash(row.Price, 4),
			dash(row.Gap),
			freshness(row.StaleBadge, row.StaleReason),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		fmt.Fprintln(w, "warning:", sanitizeInline(warning))
	}
	return nil
}

func freshness(badge domain.FreshnessBadge, reason string) string {
	if reason == "" {
		return string(badge)
	}
	return string(badge) + " (" + reason + ")"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
