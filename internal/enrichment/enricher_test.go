package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
)

type dayClose struct {
	day    string
	close  int64
	volume int64
}

func chartFor(symbol string, days []dayClose) *fetcher.ChartResponse {
	var resp fetcher.ChartResponse
	result := fetcher.ChartResult{}
	result.Meta.Symbol = symbol
	quote := fetcher.ChartQuote{}
	for _, d := range days {
		ts, err := time.Parse("2006-01-02", d.day)
		if err != nil {
			panic(err)
		}
		result.Timestamp = append(result.Timestamp, ts.Unix())
		price := decimal.NewNullDecimal(decimal.NewFromInt(d.close))
		quote.Open = append(quote.Open, price)
		quote.High = append(quote.High, price)
		quote.Low = append(quote.Low, price)
		quote.Close = append(quote.Close, price)
		quote.Volume = append(quote.Volume, decimal.NewNullDecimal(decimal.NewFromInt(d.volume)))
	}
	result.Indicators.Quote = []fetcher.ChartQuote{quote}
	resp.Chart.Result = []fetcher.ChartResult{result}
	return &resp
}

type fakeCharts struct {
	mu        sync.Mutex
	responses map[string]*fetcher.ChartResponse
	errs      map[string]error
	calls     map[string]int
}

func (f *fakeCharts) PriceChart(_ context.Context, symbol, interval, rng string) (*fetcher.ChartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[symbol]++
	if interval != DailyInterval || rng != DefaultHistoryRange {
		return nil, errors.New("unexpected chart parameters")
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[symbol]; ok {
		return resp, nil
	}
	return &fetcher.ChartResponse{}, nil
}

func position(row int, ticker string, value int64) domain.NormalizedHoldingRecord {
	return domain.NormalizedHoldingRecord{
		RowNumber:      row,
		IssuerName:     "ISSUER " + ticker,
		CUSIP:          "037833100",
		Ticker:         ticker,
		ValueThousands: decimal.NewFromInt(value),
		Shares:         decimal.NewFromInt(1000),
		Action:         domain.ActionKeep,
	}
}

func threshold(v int) *int { return &v }

func TestEnrichComputesCostAndGap(t *testing.T) {
	source := &fakeCharts{responses: map[string]*fetcher.ChartResponse{
		"AAPL": chartFor("AAPL", []dayClose{
			{"2025-11-01", 100, 10},
			{"2025-12-15", 200, 20},
			{"2025-12-30", 180, 30},
		}),
	}}

	result, err := New(source, zerolog.Nop()).Enrich(context.Background(),
		[]domain.NormalizedHoldingRecord{position(1, "AAPL", 250000)},
		Options{
			ReportPeriod:       "2025-12-31",
			AsOf:               time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			StaleThresholdDays: threshold(5),
		})
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Rows, 1)

	row := result.Rows[0]
	assert.Equal(t, "100.00%", row.Weight)
	require.NotNil(t, row.Cost)
	require.NotNil(t, row.Price)
	assert.Equal(t, "173.3333", row.Cost.String())
	assert.Equal(t, "180", row.Price.String())
	assert.Equal(t, "+3.85%", row.Gap)
	assert.Equal(t, PriceSource, row.Source)
	assert.Equal(t, DefaultCalcVersion, row.CalcVersion)
	assert.Equal(t, domain.BadgeFresh, row.StaleBadge)
	assert.Empty(t, row.StaleReason)
	assert.Contains(t, row.PriceTimestamp, "2025-12-30")
	assert.Equal(t, 0, result.StaleRows())
}

func TestEnrichMarksStalePrices(t *testing.T) {
	source := &fakeCharts{responses: map[string]*fetcher.ChartResponse{
		"MSFT": chartFor("MSFT", []dayClose{
			{"2025-10-15", 300, 10},
			{"2025-11-15", 310, 10},
			{"2025-12-01", 305, 10},
		}),
	}}

	result, err := New(source, zerolog.Nop()).Enrich(context.Background(),
		[]domain.NormalizedHoldingRecord{position(1, "MSFT", 100000)},
		Options{
			ReportPeriod:       "2025-12-31",
			AsOf:               time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
			StaleThresholdDays: threshold(5),
		})
	require.NoError(t, err)
	assert.Equal(t, domain.BadgeStale, result.Rows[0].StaleBadge)
	assert.Equal(t, "latest_close_older_than_5_days", result.Rows[0].StaleReason)
	assert.Equal(t, 1, result.StaleRows())
}

func TestEnrichSkipsUnpriceableHoldings(t *testing.T) {
	source := &fakeCharts{responses: map[string]*fetcher.ChartResponse{
		"AAPL": chartFor("AAPL", []dayClose{{"2025-12-30", 180, 30}}),
		"OLD":  chartFor("OLD", []dayClose{{"2024-01-02", 10, 5}}),
	}}
	broken := &fetcher.ChartResponse{}
	broken.Chart.Error = &fetcher.ChartError{Code: "Not Found", Description: "No data found"}
	source.responses["GONE"] = broken

	holdings := []domain.NormalizedHoldingRecord{
		position(1, "aapl", 300),
		position(2, "", 100),
		position(3, "GONE", 100),
		position(4, "AAPL", 300),
		position(5, "OLD", 200),
	}
	result, err := New(source, zerolog.Nop()).Enrich(context.Background(), holdings, Options{
		ReportPeriod: "2025-12-31",
		AsOf:         time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)

	assert.Equal(t, 1, source.calls["AAPL"])
	assert.Zero(t, source.calls[""])

	assert.Equal(t, "30.00%", result.Rows[0].Weight)
	assert.NotNil(t, result.Rows[0].Cost)

	missing := result.Rows[1]
	assert.Equal(t, "10.00%", missing.Weight)
	assert.Nil(t, missing.Cost)
	assert.Equal(t, domain.BadgeStale, missing.StaleBadge)
	assert.Equal(t, ReasonMissingTicker, missing.StaleReason)

	assert.Equal(t, ReasonMissingPriceBars, result.Rows[2].StaleReason)
	assert.Nil(t, result.Rows[2].Price)
	assert.Equal(t, ReasonMissingPriceBars, result.Rows[4].StaleReason)

	assert.Equal(t, []string{
		"Missing ticker for holding row 2; enrichment skipped.",
		"No valid Yahoo daily bars for GONE; enrichment skipped.",
		"No Yahoo daily bars inside the quarter window ending 2025-12-31 for OLD; enrichment skipped.",
	}, result.Warnings)
}

func TestEnrichAbortsOnProviderFailure(t *testing.T) {
	source := &fakeCharts{
		responses: map[string]*fetcher.ChartResponse{"AAPL": chartFor("AAPL", []dayClose{{"2025-12-30", 180, 30}})},
		errs: map[string]error{"MSFT": &fetcher.ProviderError{
			Source: "yahoo", Retries: 2, Reason: domain.ReasonRetryExhausted, Message: "HTTP 503", Status: 503,
		}},
	}

	_, err := New(source, zerolog.Nop()).Enrich(context.Background(),
		[]domain.NormalizedHoldingRecord{position(1, "AAPL", 1), position(2, "MSFT", 1)},
		Options{ReportPeriod: "2025-12-31", Concurrency: 1})
	require.Error(t, err)

	var perr *fetcher.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.ReasonRetryExhausted, perr.Reason)
}

func TestEnrichSkipsTickerRejectedByProvider(t *testing.T) {
	source := &fakeCharts{
		responses: map[string]*fetcher.ChartResponse{"AAPL": chartFor("AAPL", []dayClose{{"2025-12-30", 180, 30}})},
		errs: map[string]error{"GONE": &fetcher.ProviderError{
			Source: "yahoo", Reason: domain.ReasonHTTPError, Message: "Not Found", Status: 404,
		}},
	}

	result, err := New(source, zerolog.Nop()).Enrich(context.Background(),
		[]domain.NormalizedHoldingRecord{position(1, "AAPL", 300), position(2, "GONE", 100)},
		Options{ReportPeriod: "2025-12-31", AsOf: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)

	require.NotNil(t, result.Rows[0].Price)
	assert.Equal(t, "180", result.Rows[0].Price.String())
	assert.Nil(t, result.Rows[1].Price)
	assert.Equal(t, ReasonMissingPriceBars, result.Rows[1].StaleReason)
	assert.Equal(t, []string{"No valid Yahoo daily bars for GONE; enrichment skipped."}, result.Warnings)
}

func TestIsProviderOutage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", &fetcher.ProviderError{Reason: domain.ReasonHTTPError, Status: 404}, false},
		{"bad request", &fetcher.ProviderError{Reason: domain.ReasonHTTPError, Status: 400}, false},
		{"rate limited", &fetcher.ProviderError{Reason: domain.ReasonHTTPError, Status: 429}, true},
		{"server error", &fetcher.ProviderError{Reason: domain.ReasonHTTPError, Status: 502}, true},
		{"timeout", &fetcher.ProviderError{Reason: domain.ReasonTimeout}, true},
		{"network", &fetcher.ProviderError{Reason: domain.ReasonNetworkError}, true},
		{"exhausted", &fetcher.ProviderError{Reason: domain.ReasonRetryExhausted, Status: 503}, true},
		{"wrapped", fmt.Errorf("chart: %w", &fetcher.ProviderError{Reason: domain.ReasonTimeout}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isProviderOutage(tc.err))
		})
	}
}

func TestEnrichRejectsInvalidWindow(t *testing.T) {
	_, err := New(&fakeCharts{}, zerolog.Nop()).Enrich(context.Background(), nil, Options{ReportPeriod: "2025-12-31", WindowDays: -1})
	assert.Error(t, err)

	_, err = New(&fakeCharts{}, zerolog.Nop()).Enrich(context.Background(), nil, Options{ReportPeriod: "Q4"})
	assert.Error(t, err)
}

func TestEnrichUsesClockWhenAsOfMissing(t *testing.T) {
	source := &fakeCharts{responses: map[string]*fetcher.ChartResponse{
		"AAPL": chartFor("AAPL", []dayClose{{"2025-12-30", 180, 30}}),
	}}
	enricher := New(source, zerolog.Nop()).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	})
	result, err := enricher.Enrich(context.Background(), []domain.NormalizedHoldingRecord{position(1, "AAPL", 1)}, Options{ReportPeriod: "2025-12-31"})
	require.NoError(t, err)
	assert.Equal(t, domain.BadgeStale, result.Rows[0].StaleBadge)
	assert.Equal(t, "latest_close_older_than_5_days", result.Rows[0].StaleReason)
}

func TestChartBarsDropsIncompleteRows(t *testing.T) {
	resp := chartFor("AAPL", []dayClose{{"2025-12-02", 10, 1}, {"2025-12-01", 9, 1}, {"2025-12-03", 11, 1}})
	resp.Chart.Result[0].Indicators.Quote[0].Close[2] = decimal.NullDecimal{}

	bars, reason := ChartBars(resp)
	assert.Empty(t, reason)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
	assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(9)))

	_, reason = ChartBars(&fetcher.ChartResponse{})
	assert.Equal(t, "missing_result", reason)
}
