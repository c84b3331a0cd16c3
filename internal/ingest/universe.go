package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/storage"
)

// DefaultPriorityPercentile is the share of CIK buckets treated as the priority cohort.
const DefaultPriorityPercentile = 20

var countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// UniverseOptions tune cohort selection.
type UniverseOptions struct {
	PriorityPercentile int
	PriorityOverrides  []string
	TriggerMode        domain.TriggerMode
}

// UniverseSummary reports the outcome of one universe ingest.
type UniverseSummary struct {
	RunID                  string `json:"runId,omitempty"`
	DiscoveredCount        int    `json:"discoveredCount"`
	UpsertedCount          int    `json:"upsertedCount"`
	TotalKnownInstitutions int64  `json:"totalKnownInstitutions"`
}

// universeEntry is the loosely typed shape shared by company_tickers.json and feed-derived rows.
type universeEntry struct {
	CIK         any
	Title       any
	Ticker      any
	CountryCode any
	Forms       any
}

// UniverseIngestor normalizes and upserts the tracked institution universe.
type UniverseIngestor struct {
	store  storage.InstitutionStore
	ledger storage.RunLedger
	opts   UniverseOptions
	now    func() time.Time
	logger zerolog.Logger
}

// NewUniverseIngestor wires an ingestor. ledger may be nil to skip discovery rows.
func NewUniverseIngestor(store storage.InstitutionStore, ledger storage.RunLedger, opts UniverseOptions, logger zerolog.Logger) *UniverseIngestor {
	if opts.PriorityPercentile == 0 {
		opts.PriorityPercentile = DefaultPriorityPercentile
	}
	if opts.TriggerMode == "" {
		opts.TriggerMode = domain.TriggerManual
	}
	return &UniverseIngestor{
		store:  store,
		ledger: ledger,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "universe_ingestor").Logger(),
	}
}

// IsPriorityCohort buckets a normalized CIK by its last two digits.
func IsPriorityCohort(cik string, percentile int) (bool, error) {
	if !domain.IsCIK(cik) {
		return false, &domain.ValidationError{Field: "cik", Message: `Field "cik" must be normalized to 10 digits before cohort checks.`}
	}
	if percentile < 1 || percentile > 100 {
		return false, &domain.ValidationError{Field: "priorityPercentile", Message: "Priority cohort percentile must be an integer from 1 to 100."}
	}
	bucket, _ := strconv.Atoi(cik[len(cik)-2:])
	return bucket < percentile, nil
}

// IngestPayload accepts a company_tickers style document: an id-keyed object map or an array.
func (u *UniverseIngestor) IngestPayload(ctx context.Context, raw json.RawMessage) (UniverseSummary, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return UniverseSummary{}, &domain.ValidationError{Message: "Universe payload must be an object map or array."}
	}
	entries, err := entriesFromPayload(payload)
	if err != nil {
		return UniverseSummary{}, err
	}
	return u.ingest(ctx, entries, "payload")
}

// Ingest upserts typed company ticker entries.
func (u *UniverseIngestor) Ingest(ctx context.Context, tickers []fetcher.CompanyTicker) (UniverseSummary, error) {
	entries := make([]universeEntry, 0, len(tickers))
	for _, t := range tickers {
		entry := universeEntry{CIK: t.CIK, Title: t.Title, Ticker: t.Ticker, CountryCode: t.CountryCode}
		if t.Forms != nil {
			entry.Forms = t.Forms
		}
		entries = append(entries, entry)
	}
	return u.ingest(ctx, entries, "company_tickers")
}

// Discover pulls the SEC company ticker universe and ingests it.
func (u *UniverseIngestor) Discover(ctx context.Context, source fetcher.UniverseSource) (UniverseSummary, error) {
	tickers, err := source.CompanyTickers(ctx)
	if err != nil {
		u.recordRun(ctx, "company_tickers", u.now(), UniverseSummary{}, err)
		return UniverseSummary{}, err
	}
	keys := make([]string, 0, len(tickers))
	for k := range tickers {
		keys = append(keys, k)
	}
	sortNumericKeys(keys)
	ordered := make([]fetcher.CompanyTicker, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, tickers[k])
	}
	return u.Ingest(ctx, ordered)
}

// DiscoverFromFeed ingests filers announced on the current-filings feed; coverage
// reflects the forms seen for each filer.
func (u *UniverseIngestor) DiscoverFromFeed(ctx context.Context, entries []fetcher.FeedEntry) (UniverseSummary, error) {
	order := make([]string, 0)
	byCIK := make(map[string]*universeEntry)
	forms := make(map[string][]string)
	for _, e := range entries {
		if _, ok := byCIK[e.CIK]; !ok {
			order = append(order, e.CIK)
			byCIK[e.CIK] = &universeEntry{CIK: e.CIK, Title: e.CompanyName}
		}
		forms[e.CIK] = append(forms[e.CIK], e.Form)
	}
	rows := make([]universeEntry, 0, len(order))
	for _, cik := range order {
		entry := *byCIK[cik]
		entry.Forms = forms[cik]
		rows = append(rows, entry)
	}
	return u.ingest(ctx, rows, "current_feed")
}

func (u *UniverseIngestor) ingest(ctx context.Context, entries []universeEntry, source string) (UniverseSummary, error) {
	startedAt := u.now()
	records, err := u.normalize(entries)
	if err != nil {
		u.recordRun(ctx, source, startedAt, UniverseSummary{}, err)
		return UniverseSummary{}, err
	}

	upsert, err := u.store.UpsertInstitutions(ctx, records)
	if err != nil {
		u.recordRun(ctx, source, startedAt, UniverseSummary{}, err)
		return UniverseSummary{}, fmt.Errorf("upsert institutions: %w", err)
	}

	summary := UniverseSummary{
		DiscoveredCount:        len(records),
		UpsertedCount:          upsert.UpsertedCount,
		TotalKnownInstitutions: upsert.TotalKnownInstitutions,
	}
	summary.RunID = u.recordRun(ctx, source, startedAt, summary, nil)
	u.logger.Info().
		Str("source", source).
		Int("discovered", summary.DiscoveredCount).
		Int64("total", summary.TotalKnownInstitutions).
		Msg("institution universe ingested")
	return summary, nil
}

func (u *UniverseIngestor) normalize(entries []universeEntry) ([]domain.InstitutionUniverseRecord, error) {
	overrides := make(map[string]bool, len(u.opts.PriorityOverrides))
	for _, raw := range u.opts.PriorityOverrides {
		cik, err := domain.NormalizeCIK(raw)
		if err != nil {
			return nil, err
		}
		overrides[cik] = true
	}

	order := make([]string, 0, len(entries))
	byCIK := make(map[string]domain.InstitutionUniverseRecord, len(entries))
	for _, entry := range entries {
		cik, err := domain.NormalizeCIK(entry.CIK)
		if err != nil {
			return nil, err
		}
		name, err := institutionName(entry.Title)
		if err != nil {
			return nil, err
		}
		ticker, err := optionalTicker(entry.Ticker)
		if err != nil {
			return nil, err
		}
		country, err := optionalCountryCode(entry.CountryCode)
		if err != nil {
			return nil, err
		}
		priority, err := IsPriorityCohort(cik, u.opts.PriorityPercentile)
		if err != nil {
			return nil, err
		}

		if _, seen := byCIK[cik]; !seen {
			order = append(order, cik)
		}
		byCIK[cik] = domain.InstitutionUniverseRecord{
			CIK:              cik,
			InstitutionName:  name,
			Ticker:           ticker,
			CountryCode:      country,
			IsPriorityCohort: priority || overrides[cik],
			FilingCoverage:   coverageFlags(entry.Forms),
		}
	}

	records := make([]domain.InstitutionUniverseRecord, 0, len(order))
	for _, cik := range order {
		records = append(records, byCIK[cik])
	}
	return records, nil
}

func (u *UniverseIngestor) recordRun(ctx context.Context, source string, startedAt time.Time, summary UniverseSummary, cause error) string {
	if u.ledger == nil {
		return ""
	}
	record := domain.RunLedgerRecord{
		RunID:            NewRunID(startedAt),
		RunKind:          domain.RunKindDiscovery,
		RunStatus:        domain.RunSucceeded,
		TriggerMode:      u.opts.TriggerMode,
		RequestSignature: RequestSignature("universe", source),
		InputPayload: map[string]any{
			"source":             source,
			"priorityPercentile": u.opts.PriorityPercentile,
			"priorityOverrides":  len(u.opts.PriorityOverrides),
		},
		RowCounts: map[string]int{
			"institutionsDiscovered": summary.DiscoveredCount,
			"institutionsUpserted":   summary.UpsertedCount,
			"totalKnownInstitutions": int(summary.TotalKnownInstitutions),
		},
		Warnings:  []string{},
		StartedAt: Timestamp(startedAt),
		EndedAt:   Timestamp(u.now()),
	}
	if cause != nil {
		payload := ErrorPayload(cause)
		record.RunStatus = domain.RunFailed
		record.ErrorPayload = &payload
	}
	if err := u.ledger.AppendRun(context.WithoutCancel(ctx), record); err != nil {
		u.logger.Error().Err(err).Msg("append discovery run to ledger")
		return ""
	}
	return record.RunID
}

func entriesFromPayload(payload any) ([]universeEntry, error) {
	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sortNumericKeys(keys)
		for _, k := range keys {
			items = append(items, v[k])
		}
	default:
		return nil, &domain.ValidationError{Message: "Universe payload must be an object map or array."}
	}

	entries := make([]universeEntry, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, universeEntry{
			CIK:         obj["cik_str"],
			Title:       obj["title"],
			Ticker:      obj["ticker"],
			CountryCode: obj["country_code"],
			Forms:       obj["forms"],
		})
	}
	return entries, nil
}

func institutionName(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &domain.ValidationError{Field: "title", Message: `Field "title" must be a string.`}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &domain.ValidationError{Field: "title", Message: `Field "title" must be a non-empty string.`}
	}
	return s, nil
}

func optionalTicker(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", &domain.ValidationError{Field: "ticker", Message: `Field "ticker" must be a string when provided.`}
	}
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

func optionalCountryCode(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", &domain.ValidationError{Field: "country_code", Message: `Field "country_code" must be a string when provided.`}
	}
	if s == "" {
		return "", nil
	}
	code := strings.ToUpper(strings.TrimSpace(s))
	if !countryCodePattern.MatchString(code) {
		return "", &domain.ValidationError{Field: "country_code", Message: `Field "country_code" must be a 2-letter uppercase code.`}
	}
	return code, nil
}

// coverageFlags assumes full coverage when the source lists no forms.
func coverageFlags(forms any) domain.FilingCoverageFlags {
	var list []string
	switch v := forms.(type) {
	case []string:
		list = v
	case []any:
		for _, f := range v {
			if s, ok := f.(string); ok {
				list = append(list, s)
			}
		}
	default:
		return domain.FilingCoverageFlags{Form13FHR: true, Form13FHRAmendment: true, Form13FNT: true, Form13FNTAmendment: true}
	}

	seen := make(map[domain.FilingFormType]bool, len(list))
	for _, f := range list {
		seen[domain.FilingFormType(strings.ToUpper(strings.TrimSpace(f)))] = true
	}
	return domain.FilingCoverageFlags{
		Form13FHR:          seen[domain.FormHoldingsReport],
		Form13FHRAmendment: seen[domain.FormHoldingsReportAmendment],
		Form13FNT:          seen[domain.FormNotice],
		Form13FNTAmendment: seen[domain.FormNoticeAmendment],
	}
}

// sortNumericKeys orders company_tickers ids numerically, falling back to lexical order.
func sortNumericKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		if aErr == nil && bErr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
}
