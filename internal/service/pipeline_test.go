package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleinsight/internal/alerting"
	"whaleinsight/internal/domain"
	"whaleinsight/internal/enrichment"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/storage"
)

const (
	cik       = "0001067983"
	accQ2     = "0001067983-25-000050"
	accQ3     = "0001067983-25-000101"
	accQ4     = "0001067983-26-000201"
	accOther  = "0001067983-26-000150"
	aaplCUSIP = "037833100"
	msftCUSIP = "594918104"
)

type fakeEdgar struct {
	mu          sync.Mutex
	rows        []fetcher.FilingRow
	indexes     map[string][]string
	documents   map[string]string
	docErrs     map[string]error
	submissions int
	subErr      error
}

func (f *fakeEdgar) Submissions(context.Context, string) (*fetcher.Submissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions++
	if f.subErr != nil {
		return nil, f.subErr
	}
	s := &fetcher.Submissions{CIK: "1067983", Name: "BERKSHIRE HATHAWAY INC"}
	for _, r := range f.rows {
		s.Filings.Recent.AccessionNumber = append(s.Filings.Recent.AccessionNumber, r.AccessionNumber)
		s.Filings.Recent.Form = append(s.Filings.Recent.Form, r.Form)
		s.Filings.Recent.FilingDate = append(s.Filings.Recent.FilingDate, r.FilingDate)
		s.Filings.Recent.ReportDate = append(s.Filings.Recent.ReportDate, r.ReportDate)
		s.Filings.Recent.PrimaryDocument = append(s.Filings.Recent.PrimaryDocument, r.PrimaryDocument)
	}
	return s, nil
}

func (f *fakeEdgar) FilingIndex(_ context.Context, _, accession string) (*fetcher.ArchiveIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	index := &fetcher.ArchiveIndex{}
	for _, name := range f.indexes[accession] {
		index.Directory.Item = append(index.Directory.Item, fetcher.ArchiveIndexItem{Name: name})
	}
	return index, nil
}

func (f *fakeEdgar) Document(_ context.Context, _, accession, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.docErrs[accession]; err != nil {
		return nil, err
	}
	doc, ok := f.documents[accession+"/"+name]
	if !ok {
		return nil, fmt.Errorf("unexpected document %s/%s", accession, name)
	}
	return []byte(doc), nil
}

type fakeCharts map[string]*fetcher.ChartResponse

func (f fakeCharts) PriceChart(_ context.Context, symbol, _, _ string) (*fetcher.ChartResponse, error) {
	if resp, ok := f[symbol]; ok {
		return resp, nil
	}
	return &fetcher.ChartResponse{}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func infoTable(rows ...string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?><informationTable xmlns="http://www.sec.gov/edgar/document/thirteenf/informationtable">`
	for _, r := range rows {
		doc += r
	}
	return doc + `</informationTable>`
}

func infoRow(issuer, cusip, symbol string, value, shares int) string {
	return fmt.Sprintf(`<infoTable><nameOfIssuer>%s</nameOfIssuer><titleOfClass>COM</titleOfClass><cusip>%s</cusip><symbol>%s</symbol><value>%d</value><shrsOrPrnAmt><sshPrnamt>%d</sshPrnamt><sshPrnamtType>SH</sshPrnamtType></shrsOrPrnAmt></infoTable>`,
		issuer, cusip, symbol, value, shares)
}

func aaplChart() *fetcher.ChartResponse {
	var resp fetcher.ChartResponse
	result := fetcher.ChartResult{}
	quote := fetcher.ChartQuote{}
	for _, bar := range []struct {
		day    string
		close  int64
		volume int64
	}{{"2025-11-01", 100, 10}, {"2025-12-15", 200, 20}, {"2025-12-30", 180, 30}} {
		ts, _ := time.Parse(time.DateOnly, bar.day)
		result.Timestamp = append(result.Timestamp, ts.Unix())
		price := decimal.NewNullDecimal(decimal.NewFromInt(bar.close))
		quote.Open = append(quote.Open, price)
		quote.High = append(quote.High, price)
		quote.Low = append(quote.Low, price)
		quote.Close = append(quote.Close, price)
		quote.Volume = append(quote.Volume, decimal.NewNullDecimal(decimal.NewFromInt(bar.volume)))
	}
	result.Indicators.Quote = []fetcher.ChartQuote{quote}
	resp.Chart.Result = []fetcher.ChartResult{result}
	return &resp
}

func newEdgar() *fakeEdgar {
	return &fakeEdgar{
		rows: []fetcher.FilingRow{
			{AccessionNumber: accQ2, Form: "13F-HR", FilingDate: "2025-08-14", ReportDate: "2025-06-30", PrimaryDocument: "primary_doc.xml"},
			{AccessionNumber: accQ3, Form: "13F-HR", FilingDate: "2025-11-14", ReportDate: "2025-09-30", PrimaryDocument: "primary_doc.xml"},
			{AccessionNumber: accOther, Form: "10-K", FilingDate: "2026-02-20", ReportDate: "2025-12-31"},
			{AccessionNumber: accQ4, Form: "13F-HR", FilingDate: "2026-02-14", ReportDate: "2025-12-31", PrimaryDocument: "primary_doc.xml"},
		},
		indexes: map[string][]string{
			accQ3: {"primary_doc.xml", "infotable.xml", accQ3 + "-index.htm"},
			accQ4: {"primary_doc.xml", "form13fInfoTable.xml"},
		},
		documents: map[string]string{
			accQ3 + "/infotable.xml":        infoTable(infoRow("APPLE INC", aaplCUSIP, "AAPL", 10, 100)),
			accQ4 + "/form13fInfoTable.xml": infoTable(infoRow("APPLE INC", aaplCUSIP, "AAPL", 30, 150), infoRow("MICROSOFT CORP", msftCUSIP, "MSFT", 10, 50)),
		},
		docErrs: map[string]error{},
	}
}

func newPipeline(edgar *fakeEdgar, store *storage.MemoryStore, notifier alerting.Notifier) *Pipeline {
	enricher := enrichment.New(fakeCharts{"AAPL": aaplChart()}, zerolog.Nop())
	opts := PipelineOptions{
		TransformVersion: "holdings-normalize-v1",
		Enrichment:       enrichment.Options{AsOf: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		NotifyFailures:   true,
		NotifyStale:      true,
	}
	clock := func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) }
	return NewPipeline(edgar, enricher, store, notifier, opts, zerolog.Nop()).WithClock(clock)
}

func TestSyncInstitutionEndToEnd(t *testing.T) {
	edgar := newEdgar()
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	ctx := context.Background()

	result, err := newPipeline(edgar, store, notifier).SyncInstitution(ctx, 1067983, "")
	require.NoError(t, err)

	assert.Equal(t, cik, result.InstitutionCIK)
	assert.Equal(t, "2025-12-31", result.ReportPeriod)
	assert.Equal(t, accQ4, result.ActiveAccession)
	require.Len(t, result.Fetches, 2)
	assert.Equal(t, accQ4, result.Fetches[0].Artifact.AccessionNumber)
	assert.Equal(t, accQ3, result.Fetches[1].Artifact.AccessionNumber)
	assert.Equal(t, 1, edgar.submissions, "submissions are fetched once per sync")

	require.Len(t, result.Enriched.Rows, 2)
	aapl := result.Enriched.Rows[0]
	assert.Equal(t, domain.ActionAdd, aapl.Action)
	assert.Equal(t, "75.00%", aapl.Weight)
	require.NotNil(t, aapl.Cost)
	assert.Equal(t, "173.3333", aapl.Cost.String())
	assert.Equal(t, "+3.85%", aapl.Gap)
	assert.Equal(t, domain.BadgeFresh, aapl.StaleBadge)

	msft := result.Enriched.Rows[1]
	assert.Equal(t, domain.ActionNew, msft.Action)
	assert.Nil(t, msft.Cost)
	assert.Equal(t, enrichment.ReasonMissingPriceBars, msft.StaleReason)
	assert.Contains(t, result.Warnings, "No valid Yahoo daily bars for MSFT; enrichment skipped.")

	require.Len(t, result.Dashboard.Rows, 1)
	assert.Equal(t, accQ4, result.Dashboard.AccessionNumber)
	assert.Equal(t, "AAPL", result.Dashboard.Rows[0].Ticker)

	positions, err := store.ListLatestPositions(ctx, cik)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, accQ4, positions[0].AccessionNumber)
	assert.Equal(t, "2025-12-31", positions[0].ReportPeriod)

	kinds := make(map[domain.RunKind]int)
	for _, run := range store.Runs() {
		kinds[run.RunKind]++
		assert.NoError(t, run.Validate())
		assert.Equal(t, domain.TriggerManual, run.TriggerMode)
	}
	assert.Equal(t, map[domain.RunKind]int{
		domain.RunKindFilingFetch: 2,
		domain.RunKindParse:       2,
		domain.RunKindEnrichment:  1,
	}, kinds)

	assert.Empty(t, notifier.notes, "fresh prices and clean runs raise no alerts")
}

func TestSyncInstitutionReplayIsIdempotent(t *testing.T) {
	edgar := newEdgar()
	store := storage.NewMemoryStore()
	pipeline := newPipeline(edgar, store, nil)
	ctx := context.Background()

	first, err := pipeline.SyncInstitution(ctx, cik, domain.TriggerManual)
	require.NoError(t, err)
	second, err := pipeline.SyncInstitution(ctx, cik, domain.TriggerReplay)
	require.NoError(t, err)

	assert.Equal(t, first.Snapshot.Lineage, second.Snapshot.Lineage)
	assert.Equal(t, first.Dashboard, second.Dashboard)
	for _, fetch := range second.Fetches {
		assert.Equal(t, domain.RunReplayed, fetch.RunStatus)
	}

	count, err := store.CountFilings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	positions, err := store.ListLatestPositions(ctx, cik)
	require.NoError(t, err)
	assert.Len(t, positions, 2)
	assert.Len(t, store.Runs(), 10)
}

func TestSyncInstitutionParseFailureIsRecordedAndAlerted(t *testing.T) {
	edgar := newEdgar()
	edgar.docErrs[accQ4] = &fetcher.ProviderError{Source: "sec", Retries: 2, Reason: domain.ReasonRetryExhausted, Message: "HTTP 503", Status: 503}
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}

	result, err := newPipeline(edgar, store, notifier).SyncInstitution(context.Background(), cik, domain.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, "2025-09-30", result.ReportPeriod, "the surviving period is enriched")
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "Parse failed for accession "+accQ4)

	var failedParse *domain.RunLedgerRecord
	for _, run := range store.Runs() {
		if run.RunKind == domain.RunKindParse && run.RunStatus == domain.RunFailed {
			failedParse = &run
		}
	}
	require.NotNil(t, failedParse)
	assert.Equal(t, accQ4, failedParse.TargetAccessionNumber)
	assert.Equal(t, domain.ReasonRetryExhausted, failedParse.ErrorPayload.Reason)

	require.NotEmpty(t, notifier.notes)
	note := notifier.notes[0]
	assert.Equal(t, alerting.KindRunFailed, note.Kind)
	assert.Equal(t, domain.RunKindParse, note.RunKind)
	assert.Equal(t, accQ4, note.AccessionNumber)
}

func TestSyncInstitutionMalformedInfoTable(t *testing.T) {
	edgar := newEdgar()
	edgar.documents[accQ4+"/form13fInfoTable.xml"] = `<informationTable><infoTable><cusip>1</value></infoTable></informationTable>`
	store := storage.NewMemoryStore()

	_, err := newPipeline(edgar, store, nil).SyncInstitution(context.Background(), cik, domain.TriggerManual)
	require.NoError(t, err)

	found := false
	for _, run := range store.Runs() {
		if run.RunKind == domain.RunKindParse && run.RunStatus == domain.RunFailed {
			found = true
			assert.Equal(t, domain.ReasonParseError, run.ErrorPayload.Reason)
		}
	}
	assert.True(t, found)
}

func TestSyncInstitutionSubmissionsFailure(t *testing.T) {
	edgar := newEdgar()
	edgar.subErr = errors.New("connection reset")

	_, err := newPipeline(edgar, storage.NewMemoryStore(), nil).SyncInstitution(context.Background(), cik, domain.TriggerManual)
	assert.ErrorContains(t, err, "connection reset")

	_, err = newPipeline(edgar, storage.NewMemoryStore(), nil).SyncInstitution(context.Background(), "not-a-cik", domain.TriggerManual)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestLatestFilings(t *testing.T) {
	recent, err := newEdgar().Submissions(context.Background(), cik)
	require.NoError(t, err)

	rows := LatestFilings(recent.Filings.Recent, 2)
	require.Len(t, rows, 2)
	assert.Equal(t, accQ4, rows[0].AccessionNumber)
	assert.Equal(t, accQ3, rows[1].AccessionNumber)

	assert.Len(t, LatestFilings(recent.Filings.Recent, 0), 3)
}

func TestInformationTableDocument(t *testing.T) {
	index := &fetcher.ArchiveIndex{}
	for _, name := range []string{"primary_doc.xml", "0001067983-26-000201-index.htm", "holdings.xml", "Form13FInfoTable.xml"} {
		index.Directory.Item = append(index.Directory.Item, fetcher.ArchiveIndexItem{Name: name})
	}

	name, ok := InformationTableDocument(index, "primary_doc.xml")
	require.True(t, ok)
	assert.Equal(t, "Form13FInfoTable.xml", name)

	index.Directory.Item = index.Directory.Item[:3]
	name, ok = InformationTableDocument(index, "primary_doc.xml")
	require.True(t, ok)
	assert.Equal(t, "holdings.xml", name)

	_, ok = InformationTableDocument(&fetcher.ArchiveIndex{}, "")
	assert.False(t, ok)
}

type gatedSubmissions struct {
	fetcher.FilingSource
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedSubmissions) Submissions(_ context.Context, id string) (*fetcher.Submissions, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	return &fetcher.Submissions{CIK: id}, nil
}

func TestSubmissionsCacheFetchesOutsideLock(t *testing.T) {
	ctx := context.Background()
	source := &gatedSubmissions{started: make(chan struct{}), release: make(chan struct{})}
	cache := newSubmissionsCache(source)
	cache.cache["0000000002"] = &fetcher.Submissions{CIK: "0000000002"}

	var wg sync.WaitGroup
	results := make([]*fetcher.Submissions, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := cache.Submissions(ctx, "0000000001")
			assert.NoError(t, err)
			results[i] = s
		}()
	}
	<-source.started

	done := make(chan *fetcher.Submissions, 1)
	go func() {
		s, _ := cache.Submissions(ctx, "0000000002")
		done <- s
	}()
	select {
	case s := <-done:
		require.NotNil(t, s)
		assert.Equal(t, "0000000002", s.CIK)
	case <-time.After(2 * time.Second):
		t.Fatal("cached lookup blocked behind an in-flight fetch")
	}

	close(source.release)
	wg.Wait()
	assert.EqualValues(t, 1, source.calls.Load())
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, "0000000001", s.CIK)
	}
}

func TestSubmissionsCacheHonoursCallerContext(t *testing.T) {
	source := &gatedSubmissions{started: make(chan struct{}), release: make(chan struct{})}
	defer close(source.release)
	cache := newSubmissionsCache(source)

	go func() { _, _ = cache.Submissions(context.Background(), "0000000001") }()
	<-source.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Submissions(ctx, "0000000001")
	require.ErrorIs(t, err, context.Canceled)
}
