package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"whaleinsight/internal/alerting"
	"whaleinsight/internal/domain"
	"whaleinsight/internal/enrichment"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/ingest"
	"whaleinsight/internal/lineage"
	"whaleinsight/internal/parser"
	"whaleinsight/internal/storage"
)

// DefaultFilingsPerInstitution bounds how far back a sync reaches.
const DefaultFilingsPerInstitution = 2

// PipelineOptions tune one institution sync.
type PipelineOptions struct {
	FilingsPerInstitution int
	TransformVersion      string
	ArchiveBaseURL        string
	Enrichment            enrichment.Options
	NotifyFailures        bool
	NotifyStale           bool
}

// SyncResult is the outcome of one institution sync.
type SyncResult struct {
	InstitutionCIK  string                  `json:"institutionCik"`
	ReportPeriod    string                  `json:"reportPeriod,omitempty"`
	ActiveAccession string                  `json:"activeAccession,omitempty"`
	Fetches         []ingest.FetchResult    `json:"-"`
	Snapshot        lineage.Snapshot        `json:"snapshot"`
	Enriched        enrichment.Result       `json:"enriched"`
	Dashboard       domain.DashboardPayload `json:"dashboard"`
	Warnings        []string                `json:"warnings"`
}

// Pipeline runs fetch → parse → resolve → enrich for institutions.
type Pipeline struct {
	source   fetcher.FilingSource
	enricher *enrichment.Enricher
	repo     storage.Repository
	notifier alerting.Notifier
	opts     PipelineOptions
	now      func() time.Time
	logger   zerolog.Logger
}

// NewPipeline wires a pipeline. notifier may be nil.
func NewPipeline(source fetcher.FilingSource, enricher *enrichment.Enricher, repo storage.Repository, notifier alerting.Notifier, opts PipelineOptions, logger zerolog.Logger) *Pipeline {
	if opts.FilingsPerInstitution <= 0 {
		opts.FilingsPerInstitution = DefaultFilingsPerInstitution
	}
	return &Pipeline{
		source:   source,
		enricher: enricher,
		repo:     repo,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// WithClock overrides the time source used for ledger rows.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// SyncInstitution ingests the latest filings of one institution and enriches the
// active holdings of its most recent report period.
func (p *Pipeline) SyncInstitution(ctx context.Context, rawCIK any, trigger domain.TriggerMode) (SyncResult, error) {
	cik, err := domain.NormalizeCIK(rawCIK)
	if err != nil {
		return SyncResult{}, err
	}
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	log := p.logger.With().Str("cik", cik).Logger()
	result := SyncResult{InstitutionCIK: cik, Warnings: []string{}}

	source := newSubmissionsCache(p.source)
	submissions, err := source.Submissions(ctx, cik)
	if err != nil {
		return result, fmt.Errorf("fetch submissions for %s: %w", cik, err)
	}
	targets := LatestFilings(submissions.Filings.Recent, p.opts.FilingsPerInstitution)
	if len(targets) == 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("No 13F filings found for institution %s.", cik))
		log.Info().Msg("no 13F filings in submissions")
		return result, nil
	}

	ingestor := ingest.NewFilingIngestor(source, p.repo, p.repo, p.opts.ArchiveBaseURL, p.logger).WithClock(p.now, nil)
	parsed := make([]domain.ParsedInformationTable, 0, len(targets))
	var firstErr error
	for _, row := range targets {
		fetch, fetchErr := ingestor.FetchAndStore(ctx, ingest.FetchOptions{
			InstitutionCIK:   cik,
			AccessionNumber:  row.AccessionNumber,
			TriggerMode:      trigger,
			TransformVersion: p.opts.TransformVersion,
		})
		if fetchErr != nil {
			firstErr = firstNonNil(firstErr, fetchErr)
			result.Warnings = append(result.Warnings, fmt.Sprintf("Fetch failed for accession %s: %v", row.AccessionNumber, fetchErr))
			p.notifyFailure(ctx, cik, row.AccessionNumber, fetch.RunID, domain.RunKindFilingFetch, fetchErr)
			continue
		}
		result.Fetches = append(result.Fetches, fetch)
		result.Warnings = append(result.Warnings, fetch.Warnings...)

		table, parseErr := p.parseFiling(ctx, source, fetch, trigger)
		if parseErr != nil {
			firstErr = firstNonNil(firstErr, parseErr)
			result.Warnings = append(result.Warnings, fmt.Sprintf("Parse failed for accession %s: %v", row.AccessionNumber, parseErr))
			continue
		}
		parsed = append(parsed, table)
	}
	if len(parsed) == 0 {
		return result, firstErr
	}

	result.Snapshot = lineage.BuildSnapshot(parsed)
	periods := result.Snapshot.ReportPeriods(cik)
	if len(periods) == 0 {
		return result, firstErr
	}
	result.ReportPeriod = periods[0]
	active, _ := result.Snapshot.ActiveRecord(cik, result.ReportPeriod)
	result.ActiveAccession = active.AccessionNumber

	var previous []domain.NormalizedHoldingRecord
	if len(periods) > 1 {
		previous = result.Snapshot.ActiveHoldings(cik, periods[1])
	}
	holdings := enrichment.ClassifyChanges(result.Snapshot.ActiveHoldings(cik, result.ReportPeriod), previous)

	enriched, err := p.enrich(ctx, cik, active, holdings, trigger)
	if err != nil {
		return result, err
	}
	result.Enriched = enriched
	result.Warnings = append(result.Warnings, enriched.Warnings...)
	result.Dashboard = enrichment.DashboardPayload(active.AccessionNumber, enriched.Rows)

	if err := p.repo.ReplacePositions(ctx, cik, result.ReportPeriod, PositionRecords(cik, result.ReportPeriod, active.AccessionNumber, enriched.Rows)); err != nil {
		return result, fmt.Errorf("store positions: %w", err)
	}
	p.notifyStale(ctx, cik, result.ReportPeriod, active.AccessionNumber, enriched)

	log.Info().
		Str("report_period", result.ReportPeriod).
		Str("accession", result.ActiveAccession).
		Int("positions", len(enriched.Rows)).
		Int("warnings", len(result.Warnings)).
		Msg("institution synced")
	return result, nil
}

func (p *Pipeline) parseFiling(ctx context.Context, source fetcher.FilingSource, fetch ingest.FetchResult, trigger domain.TriggerMode) (domain.ParsedInformationTable, error) {
	artifact := fetch.Artifact
	startedAt := p.now()
	record := domain.RunLedgerRecord{
		RunID:                 ingest.NewRunID(startedAt),
		RunKind:               domain.RunKindParse,
		TriggerMode:           trigger,
		RequestSignature:      ingest.RequestSignature(artifact.InstitutionCIK, artifact.AccessionNumber, string(domain.RunKindParse)),
		TargetAccessionNumber: artifact.AccessionNumber,
		ParserVersion:         parser.Version,
		TransformVersion:      p.opts.TransformVersion,
		InputPayload: map[string]any{
			"institutionCik":  artifact.InstitutionCIK,
			"accessionNumber": artifact.AccessionNumber,
			"filingFormType":  string(artifact.FilingFormType),
		},
		Warnings:  []string{},
		StartedAt: ingest.Timestamp(startedAt),
	}

	table, document, err := p.loadAndParse(ctx, source, fetch)
	record.EndedAt = ingest.Timestamp(p.now())
	if err != nil {
		payload := ingest.ErrorPayload(err)
		record.RunStatus = domain.RunFailed
		record.ErrorPayload = &payload
		record.RowCounts = map[string]int{"holdingsParsed": 0}
		p.appendRun(ctx, record)
		p.notifyFailure(ctx, artifact.InstitutionCIK, artifact.AccessionNumber, record.RunID, domain.RunKindParse, err)
		return domain.ParsedInformationTable{}, err
	}

	record.RunStatus = domain.RunSucceeded
	record.RowCounts = map[string]int{"holdingsParsed": len(table.Holdings)}
	if document != "" {
		record.InputPayload["document"] = document
	}
	if table.Status == domain.StatusNoticeOnly {
		record.Warnings = append(record.Warnings, fmt.Sprintf("Accession %s is a notice filing; no holdings to parse.", artifact.AccessionNumber))
	}
	p.appendRun(ctx, record)
	return table, nil
}

func (p *Pipeline) loadAndParse(ctx context.Context, source fetcher.FilingSource, fetch ingest.FetchResult) (domain.ParsedInformationTable, string, error) {
	artifact := fetch.Artifact
	if artifact.IsNotice {
		table, err := parser.ParseInformationTable(artifact, "")
		return table, "", err
	}

	index, err := archiveIndex(artifact.RawPayload)
	if err != nil {
		return domain.ParsedInformationTable{}, "", err
	}
	name, ok := InformationTableDocument(index, fetch.PrimaryDocument)
	if !ok {
		table, parseErr := parser.ParseInformationTable(artifact, "")
		return table, "", parseErr
	}
	body, err := source.Document(ctx, artifact.InstitutionCIK, artifact.AccessionNumber, name)
	if err != nil {
		return domain.ParsedInformationTable{}, name, err
	}
	table, err := parser.ParseInformationTable(artifact, string(body))
	return table, name, err
}

func (p *Pipeline) enrich(ctx context.Context, cik string, active lineage.Record, holdings []domain.NormalizedHoldingRecord, trigger domain.TriggerMode) (enrichment.Result, error) {
	opts := p.opts.Enrichment
	opts.ReportPeriod = active.ReportPeriod

	startedAt := p.now()
	record := domain.RunLedgerRecord{
		RunID:                 ingest.NewRunID(startedAt),
		RunKind:               domain.RunKindEnrichment,
		TriggerMode:           trigger,
		RequestSignature:      ingest.RequestSignature(cik, active.AccessionNumber, string(domain.RunKindEnrichment)),
		TargetAccessionNumber: active.AccessionNumber,
		TransformVersion:      calcVersion(opts.CalcVersion),
		InputPayload: map[string]any{
			"institutionCik": cik,
			"reportPeriod":   active.ReportPeriod,
			"holdings":       len(holdings),
		},
		StartedAt: ingest.Timestamp(startedAt),
	}

	result, err := p.enricher.Enrich(ctx, holdings, opts)
	record.EndedAt = ingest.Timestamp(p.now())
	if err != nil {
		payload := ingest.ErrorPayload(err)
		record.RunStatus = domain.RunFailed
		record.ErrorPayload = &payload
		record.RowCounts = map[string]int{"holdingsEnriched": 0}
		record.Warnings = []string{}
		p.appendRun(ctx, record)
		p.notifyFailure(ctx, cik, active.AccessionNumber, record.RunID, domain.RunKindEnrichment, err)
		return enrichment.Result{}, fmt.Errorf("enrich %s: %w", active.AccessionNumber, err)
	}

	priced := 0
	for _, row := range result.Rows {
		if row.Cost != nil {
			priced++
		}
	}
	record.RunStatus = domain.RunSucceeded
	record.RowCounts = map[string]int{
		"holdingsEnriched": len(result.Rows),
		"holdingsPriced":   priced,
		"holdingsStale":    result.StaleRows(),
	}
	record.Warnings = result.Warnings
	p.appendRun(ctx, record)
	return result, nil
}

func (p *Pipeline) appendRun(ctx context.Context, record domain.RunLedgerRecord) {
	if err := p.repo.AppendRun(context.WithoutCancel(ctx), record); err != nil {
		p.logger.Error().Err(err).Str("run_id", record.RunID).Str("run_kind", string(record.RunKind)).Msg("append run to ledger")
	}
}

func (p *Pipeline) notifyFailure(ctx context.Context, cik, accession, runID string, kind domain.RunKind, cause error) {
	if p.notifier == nil || !p.opts.NotifyFailures {
		return
	}
	payload := ingest.ErrorPayload(cause)
	note := alerting.Notification{
		Kind:            alerting.KindRunFailed,
		OccurredAt:      p.now(),
		InstitutionCIK:  cik,
		AccessionNumber: accession,
		RunID:           runID,
		RunKind:         kind,
		Error:           &payload,
	}
	if err := p.notifier.Notify(ctx, note); err != nil {
		p.logger.Error().Err(err).Str("accession", accession).Msg("failed to dispatch failure alert")
	}
}

func (p *Pipeline) notifyStale(ctx context.Context, cik, period, accession string, result enrichment.Result) {
	if p.notifier == nil || !p.opts.NotifyStale {
		return
	}
	priced := 0
	tickers := make([]string, 0)
	for _, row := range result.Rows {
		if row.Cost == nil {
			continue
		}
		priced++
		if row.StaleBadge == domain.BadgeStale {
			tickers = append(tickers, row.Ticker)
		}
	}
	if len(tickers) == 0 {
		return
	}
	note := alerting.Notification{
		Kind:            alerting.KindStaleSummary,
		OccurredAt:      p.now(),
		InstitutionCIK:  cik,
		AccessionNumber: accession,
		ReportPeriod:    period,
		StaleRows:       len(tickers),
		TotalRows:       priced,
		StaleTickers:    tickers,
	}
	if err := p.notifier.Notify(ctx, note); err != nil {
		p.logger.Error().Err(err).Str("accession", accession).Msg("failed to dispatch stale alert")
	}
}

// LatestFilings returns up to limit 13F rows, most recent first by filing date then accession.
func LatestFilings(recent fetcher.RecentFilings, limit int) []fetcher.FilingRow {
	rows := make([]fetcher.FilingRow, 0)
	for i := 0; i < recent.Len(); i++ {
		row := recent.Row(i)
		if _, err := domain.ParseFilingFormType(row.Form); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].FilingDate != rows[j].FilingDate {
			return rows[i].FilingDate > rows[j].FilingDate
		}
		return rows[i].AccessionNumber > rows[j].AccessionNumber
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// InformationTableDocument picks the holdings XML out of a filing's archive listing.
// Names mentioning "infotable" win; otherwise the first XML that is not the cover page.
func InformationTableDocument(index *fetcher.ArchiveIndex, primary string) (string, bool) {
	if index == nil {
		return "", false
	}
	fallback := ""
	for _, item := range index.Directory.Item {
		name := strings.TrimSpace(item.Name)
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".xml") || strings.EqualFold(name, primary) || lower == "primary_doc.xml" {
			continue
		}
		if strings.Contains(lower, "infotable") || strings.Contains(lower, "information_table") {
			return name, true
		}
		if fallback == "" {
			fallback = name
		}
	}
	return fallback, fallback != ""
}

// PositionRecords maps enriched rows onto persisted positions.
func PositionRecords(cik, period, accession string, rows []enrichment.EnrichedHoldingRecord) []storage.PositionRecord {
	records := make([]storage.PositionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, storage.PositionRecord{
			InstitutionCIK:  cik,
			ReportPeriod:    period,
			AccessionNumber: accession,
			RowNumber:       row.RowNumber,
			IssuerName:      row.IssuerName,
			ClassTitle:      row.ClassTitle,
			CUSIP:           row.CUSIP,
			Ticker:          row.Ticker,
			Action:          row.Action,
			ValueThousands:  row.ValueThousands,
			Shares:          row.Shares,
			Weight:          row.Weight,
			Cost:            row.Cost,
			Price:           row.Price,
			Gap:             row.Gap,
			PriceTimestamp:  row.PriceTimestamp,
			CalcVersion:     row.CalcVersion,
			StaleBadge:      row.StaleBadge,
			StaleReason:     row.StaleReason,
		})
	}
	return records
}

func archiveIndex(raw json.RawMessage) (*fetcher.ArchiveIndex, error) {
	var payload struct {
		FilingIndex *fetcher.ArchiveIndex `json:"filingIndex"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode stored filing index: %w", err)
	}
	return payload.FilingIndex, nil
}

func calcVersion(v string) string {
	if v == "" {
		return enrichment.DefaultCalcVersion
	}
	return v
}

func firstNonNil(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

// submissionsCache memoises the submissions document for the span of one sync.
// Concurrent misses for one CIK share a single upstream request; the mutex only guards the map.
type submissionsCache struct {
	fetcher.FilingSource
	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*fetcher.Submissions
}

func newSubmissionsCache(source fetcher.FilingSource) *submissionsCache {
	return &submissionsCache{FilingSource: source, cache: make(map[string]*fetcher.Submissions)}
}

func (c *submissionsCache) Submissions(ctx context.Context, cik string) (*fetcher.Submissions, error) {
	if s, ok := c.cached(cik); ok {
		return s, nil
	}

	ch := c.group.DoChan(cik, func() (any, error) {
		if s, ok := c.cached(cik); ok {
			return s, nil
		}
		s, err := c.FilingSource.Submissions(ctx, cik)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[cik] = s
		c.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetcher.Submissions), nil
	}
}

func (c *submissionsCache) cached(cik string) (*fetcher.Submissions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.cache[cik]
	return s, ok
}

var _ fetcher.FilingSource = (*submissionsCache)(nil)
