package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/storage"
)

const (
	// DefaultParserVersion tags filing-fetch runs, which only store raw metadata.
	DefaultParserVersion = "raw-metadata-v1"
	defaultArchiveBase   = "https://www.sec.gov"
)

// FetchOptions identify one filing to fetch and store.
type FetchOptions struct {
	InstitutionCIK   any
	AccessionNumber  string
	TriggerMode      domain.TriggerMode
	ParserVersion    string
	TransformVersion string
}

// FetchResult summarises one fetch-and-store attempt.
type FetchResult struct {
	RunID            string
	RequestSignature string
	RunStatus        domain.RunStatus
	FilingCreated    bool
	Artifact         domain.FilingArtifact
	PrimaryDocument  string
	RowCounts        map[string]int
	Warnings         []string
}

// FilingIngestor fetches filing metadata from EDGAR and stores it idempotently by accession.
type FilingIngestor struct {
	source      fetcher.FilingSource
	filings     storage.FilingStore
	ledger      storage.RunLedger
	archiveBase string
	now         func() time.Time
	newRunID    func(time.Time) string
	logger      zerolog.Logger
}

// NewFilingIngestor wires an ingestor. archiveBase defaults to the public EDGAR host.
func NewFilingIngestor(source fetcher.FilingSource, filings storage.FilingStore, ledger storage.RunLedger, archiveBase string, logger zerolog.Logger) *FilingIngestor {
	if archiveBase == "" {
		archiveBase = defaultArchiveBase
	}
	return &FilingIngestor{
		source:      source,
		filings:     filings,
		ledger:      ledger,
		archiveBase: archiveBase,
		now:         time.Now,
		newRunID:    NewRunID,
		logger:      logger.With().Str("component", "filing_ingestor").Logger(),
	}
}

// WithClock overrides the time source and run id factory.
func (f *FilingIngestor) WithClock(now func() time.Time, newRunID func(time.Time) string) *FilingIngestor {
	if now != nil {
		f.now = now
	}
	if newRunID != nil {
		f.newRunID = newRunID
	}
	return f
}

// FetchAndStore appends exactly one ledger row per attempt once the CIK is valid.
// A malformed CIK fails before anything is written. If the ledger append fails after
// the filing was stored, the result still succeeds and carries a warning.
func (f *FilingIngestor) FetchAndStore(ctx context.Context, opts FetchOptions) (FetchResult, error) {
	cik, err := domain.NormalizeCIK(opts.InstitutionCIK)
	if err != nil {
		return FetchResult{}, err
	}
	accession := strings.TrimSpace(opts.AccessionNumber)
	trigger := opts.TriggerMode
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	parserVersion := opts.ParserVersion
	if parserVersion == "" {
		parserVersion = DefaultParserVersion
	}

	startedAt := f.now()
	base := domain.RunLedgerRecord{
		RunID:                 f.newRunID(startedAt),
		RunKind:               domain.RunKindFilingFetch,
		TriggerMode:           trigger,
		RequestSignature:      RequestSignature(cik, accession),
		TargetAccessionNumber: accession,
		ParserVersion:         parserVersion,
		TransformVersion:      opts.TransformVersion,
		InputPayload: map[string]any{
			"institutionCik":  cik,
			"accessionNumber": accession,
			"triggerMode":     string(trigger),
		},
		StartedAt: Timestamp(startedAt),
	}
	log := f.logger.With().Str("run_id", base.RunID).Str("cik", cik).Str("accession", accession).Logger()

	artifact, primary, err := f.fetchArtifact(ctx, cik, accession)
	var upsert storage.FilingUpsertResult
	if err == nil {
		upsert, err = f.filings.UpsertFiling(ctx, artifact)
	}
	if err != nil {
		f.recordFailure(ctx, base, err, log)
		return FetchResult{RunID: base.RunID, RequestSignature: base.RequestSignature, RunStatus: domain.RunFailed}, err
	}

	record := base
	record.RunStatus = domain.RunSucceeded
	record.Warnings = []string{}
	inserted := 1
	if !upsert.Created {
		record.RunStatus = domain.RunReplayed
		record.Warnings = []string{fmt.Sprintf("Accession %s already exists; replay completed without duplicate filing row.", accession)}
		inserted = 0
	}
	record.RowCounts = map[string]int{
		"filingsFetched":    1,
		"filingsInserted":   inserted,
		"totalKnownFilings": int(upsert.TotalKnownFilings),
	}
	record.EndedAt = Timestamp(f.now())

	warnings := record.Warnings
	// the filing is already committed; a lost ledger row is reported, not turned into a failed fetch
	if err := f.ledger.AppendRun(context.WithoutCancel(ctx), record); err != nil {
		log.Error().Err(err).Msg("append run to ledger")
		warnings = append(append([]string{}, warnings...),
			fmt.Sprintf("Run ledger append failed for run %s: %v.", record.RunID, err))
	}

	log.Info().Str("status", string(record.RunStatus)).Bool("created", upsert.Created).Msg("filing stored")
	return FetchResult{
		RunID:            record.RunID,
		RequestSignature: record.RequestSignature,
		RunStatus:        record.RunStatus,
		FilingCreated:    upsert.Created,
		Artifact:         upsert.Record,
		PrimaryDocument:  primary,
		RowCounts:        record.RowCounts,
		Warnings:         warnings,
	}, nil
}

func (f *FilingIngestor) recordFailure(ctx context.Context, base domain.RunLedgerRecord, cause error, log zerolog.Logger) {
	total, countErr := f.filings.CountFilings(ctx)
	if countErr != nil {
		log.Warn().Err(countErr).Msg("count filings after failure")
	}
	payload := ErrorPayload(cause)

	record := base
	record.RunStatus = domain.RunFailed
	record.RowCounts = map[string]int{
		"filingsFetched":    0,
		"filingsInserted":   0,
		"totalKnownFilings": int(total),
	}
	record.Warnings = []string{}
	record.ErrorPayload = &payload
	record.EndedAt = Timestamp(f.now())

	// the caller's context may already be done; the failure row still has to land
	if err := f.ledger.AppendRun(context.WithoutCancel(ctx), record); err != nil {
		log.Error().Err(err).Msg("append failed run to ledger")
	}
	log.Warn().Err(cause).Str("reason", string(payload.Reason)).Msg("filing fetch failed")
}

func (f *FilingIngestor) fetchArtifact(ctx context.Context, cik, accession string) (domain.FilingArtifact, string, error) {
	submissions, err := f.source.Submissions(ctx, cik)
	if err != nil {
		return domain.FilingArtifact{}, "", err
	}
	recent := submissions.Filings.Recent
	_, row, ok := recent.Find(accession)
	if !ok {
		return domain.FilingArtifact{}, "", &domain.ValidationError{
			Field:   "accessionNumber",
			Message: fmt.Sprintf("Accession %s not found in SEC submissions recent filings.", accession),
		}
	}
	for _, field := range [][2]string{{"form", row.Form}, {"filingDate", row.FilingDate}, {"reportDate", row.ReportDate}} {
		if strings.TrimSpace(field[1]) == "" {
			return domain.FilingArtifact{}, "", &domain.ValidationError{
				Field:   field[0],
				Message: fmt.Sprintf("SEC submissions field %q must be a non-empty string.", field[0]),
			}
		}
	}

	index, err := f.source.FilingIndex(ctx, cik, accession)
	if err != nil {
		return domain.FilingArtifact{}, "", err
	}

	form, err := domain.ParseFilingFormType(row.Form)
	if err != nil {
		return domain.FilingArtifact{}, "", err
	}
	artifact := domain.FilingArtifact{
		AccessionNumber: accession,
		InstitutionCIK:  cik,
		FilingFormType:  form,
		FilingDate:      strings.TrimSpace(row.FilingDate),
		ReportPeriod:    strings.TrimSpace(row.ReportDate),
		IsAmendment:     form.IsAmendment(),
		IsNotice:        form.IsNotice(),
	}
	if artifact.IsAmendment {
		artifact.AmendsAccessionNumber = InferAmendedAccession(recent, row, form)
	}
	if doc := strings.TrimSpace(row.PrimaryDocument); doc != "" {
		artifact.SourceURL = fetcher.DocumentURL(f.archiveBase, cik, accession, doc)
	}

	raw, err := canonicalPayload(row, index)
	if err != nil {
		return domain.FilingArtifact{}, "", err
	}
	artifact.RawPayload = raw

	if err := artifact.Validate(); err != nil {
		return domain.FilingArtifact{}, "", err
	}
	return artifact, strings.TrimSpace(row.PrimaryDocument), nil
}

// InferAmendedAccession picks the latest earlier original filing of the same base form
// and report period; EDGAR does not publish the amended accession, so the amendment
// falls back to naming itself.
func InferAmendedAccession(recent fetcher.RecentFilings, target fetcher.FilingRow, form domain.FilingFormType) string {
	candidates := make([]fetcher.FilingRow, 0)
	for i := 0; i < recent.Len(); i++ {
		row := recent.Row(i)
		if row.AccessionNumber == target.AccessionNumber || row.ReportDate != target.ReportDate {
			continue
		}
		rowForm, err := domain.ParseFilingFormType(row.Form)
		if err != nil || rowForm.IsAmendment() || rowForm != form.Base() {
			continue
		}
		if row.FilingDate > target.FilingDate {
			continue
		}
		if !domain.IsAccessionNumber(row.AccessionNumber) {
			continue
		}
		candidates = append(candidates, row)
	}
	if len(candidates) == 0 {
		return target.AccessionNumber
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FilingDate != candidates[j].FilingDate {
			return candidates[i].FilingDate > candidates[j].FilingDate
		}
		return candidates[i].AccessionNumber > candidates[j].AccessionNumber
	})
	return candidates[0].AccessionNumber
}

func canonicalPayload(row fetcher.FilingRow, index *fetcher.ArchiveIndex) (json.RawMessage, error) {
	encoded, err := json.Marshal(map[string]any{
		"submissionRow": map[string]string{
			"accessionNumber": row.AccessionNumber,
			"form":            row.Form,
			"filingDate":      row.FilingDate,
			"reportDate":      row.ReportDate,
			"primaryDocument": row.PrimaryDocument,
		},
		"filingIndex": index,
	})
	if err != nil {
		return nil, fmt.Errorf("encode raw payload: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return nil, fmt.Errorf("canonicalize raw payload: %w", err)
	}
	return canonical, nil
}
