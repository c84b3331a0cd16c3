package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/metrics"
)

const (
	// PriceSource is recorded as provenance on every enriched row.
	PriceSource         = "yahoo"
	DefaultCalcVersion  = "vwap-quarter-v1"
	DefaultHistoryRange = "1y"
	DailyInterval       = "1d"

	ReasonMissingTicker    = "missing_ticker"
	ReasonMissingPriceBars = "missing_price_bars"
)

var hundred = decimal.NewFromInt(100)

// Options tune one enrichment pass.
type Options struct {
	ReportPeriod string
	// AsOf defaults to the enricher clock when zero.
	AsOf               time.Time
	StaleThresholdDays *int
	CalcVersion        string
	HistoryRange       string
	WindowDays         int
	// Concurrency bounds in-flight chart requests; zero means unbounded.
	Concurrency int
}

// EnrichedHoldingRecord is a holding with its cost basis, current price and gap.
// Cost, Price and Gap stay empty when the holding could not be priced.
type EnrichedHoldingRecord struct {
	domain.NormalizedHoldingRecord
	Weight         string                `json:"weight,omitempty"`
	Cost           *decimal.Decimal      `json:"cost,omitempty"`
	Price          *decimal.Decimal      `json:"price,omitempty"`
	Gap            string                `json:"gap,omitempty"`
	PriceTimestamp string                `json:"price_timestamp,omitempty"`
	Source         string                `json:"source,omitempty"`
	CalcVersion    string                `json:"calc_version,omitempty"`
	StaleBadge     domain.FreshnessBadge `json:"stale_badge"`
	StaleReason    string                `json:"stale_reason,omitempty"`
}

// Result is the output of one enrichment pass.
type Result struct {
	Rows     []EnrichedHoldingRecord `json:"rows"`
	Warnings []string                `json:"warnings"`
}

// StaleRows counts rows carrying a stale badge.
func (r Result) StaleRows() int {
	count := 0
	for _, row := range r.Rows {
		if row.StaleBadge == domain.BadgeStale {
			count++
		}
	}
	return count
}

// Enricher prices holdings against daily chart history.
type Enricher struct {
	source fetcher.PriceHistorySource
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs an Enricher.
func New(source fetcher.PriceHistorySource, logger zerolog.Logger) *Enricher {
	return &Enricher{
		source: source,
		logger: logger.With().Str("component", "enrichment").Logger(),
		now:    time.Now,
	}
}

// WithClock replaces the clock used when Options.AsOf is zero.
func (e *Enricher) WithClock(now func() time.Time) *Enricher {
	e.now = now
	return e
}

// Enrich fetches each distinct ticker once and derives cost, price and gap per holding.
// Unpriceable holdings become warnings; provider transport failures abort the pass.
func (e *Enricher) Enrich(ctx context.Context, holdings []domain.NormalizedHoldingRecord, opts Options) (Result, error) {
	if opts.WindowDays == 0 {
		opts.WindowDays = metrics.DefaultWindowDays
	}
	if _, _, err := metrics.QuarterWindow(opts.ReportPeriod, opts.WindowDays); err != nil {
		return Result{}, err
	}
	if opts.CalcVersion == "" {
		opts.CalcVersion = DefaultCalcVersion
	}
	if opts.HistoryRange == "" {
		opts.HistoryRange = DefaultHistoryRange
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = e.now()
	}

	barsByTicker, err := e.fetchBars(ctx, distinctTickers(holdings), opts)
	if err != nil {
		return Result{}, err
	}

	total := decimal.Zero
	for _, holding := range holdings {
		total = total.Add(holding.ValueThousands)
	}

	result := Result{
		Rows:     make([]EnrichedHoldingRecord, 0, len(holdings)),
		Warnings: make([]string, 0),
	}
	for _, holding := range holdings {
		row, warning, rowErr := e.enrichRow(holding, total, barsByTicker, opts)
		if rowErr != nil {
			return Result{}, rowErr
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Rows = append(result.Rows, row)
	}

	e.logger.Info().
		Str("report_period", opts.ReportPeriod).
		Int("rows", len(result.Rows)).
		Int("tickers", len(barsByTicker)).
		Int("warnings", len(result.Warnings)).
		Msg("holdings enriched")
	return result, nil
}

func (e *Enricher) fetchBars(ctx context.Context, tickers []string, opts Options) (map[string][]metrics.DailyBar, error) {
	var (
		mu   sync.Mutex
		bars = make(map[string][]metrics.DailyBar, len(tickers))
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for _, ticker := range tickers {
		g.Go(func() error {
			resp, err := e.source.PriceChart(gctx, ticker, DailyInterval, opts.HistoryRange)
			if err != nil {
				if gctx.Err() != nil || isProviderOutage(err) {
					return fmt.Errorf("price chart %s: %w", ticker, err)
				}
				e.logger.Warn().Err(err).Str("ticker", ticker).Msg("price chart unavailable")
				return nil
			}

			parsed, reason := ChartBars(resp)
			if reason != "" {
				e.logger.Warn().Str("ticker", ticker).Str("reason", reason).Msg("no usable price bars")
				return nil
			}
			mu.Lock()
			bars[ticker] = parsed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bars, nil
}

// isProviderOutage reports whether a chart failure means the provider itself is down.
// Per-ticker answers such as 404 only leave that ticker without bars.
func isProviderOutage(err error) bool {
	var perr *fetcher.ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Reason {
	case domain.ReasonTimeout, domain.ReasonNetworkError, domain.ReasonRetryExhausted:
		return true
	}
	return fetcher.IsRetryableStatus(perr.Status)
}

func (e *Enricher) enrichRow(holding domain.NormalizedHoldingRecord, total decimal.Decimal, barsByTicker map[string][]metrics.DailyBar, opts Options) (EnrichedHoldingRecord, string, error) {
	row := EnrichedHoldingRecord{
		NormalizedHoldingRecord: holding,
		Weight:                  Weight(holding.ValueThousands, total),
		StaleBadge:              domain.BadgeStale,
	}

	ticker := normalizeTicker(holding.Ticker)
	if ticker == "" {
		row.StaleReason = ReasonMissingTicker
		return row, fmt.Sprintf("Missing ticker for holding row %d; enrichment skipped.", holding.RowNumber), nil
	}

	bars := barsByTicker[ticker]
	if len(bars) == 0 {
		row.StaleReason = ReasonMissingPriceBars
		return row, fmt.Sprintf("No valid Yahoo daily bars for %s; enrichment skipped.", ticker), nil
	}

	vwap, err := metrics.ComputeQuarterWindowVWAP(bars, opts.ReportPeriod, opts.WindowDays)
	if err != nil {
		if errors.Is(err, metrics.ErrNoBarsInWindow) || errors.Is(err, metrics.ErrNoPositiveVolume) {
			row.StaleReason = ReasonMissingPriceBars
			return row, fmt.Sprintf("No Yahoo daily bars inside the quarter window ending %s for %s; enrichment skipped.", opts.ReportPeriod, ticker), nil
		}
		return EnrichedHoldingRecord{}, "", err
	}

	latest := bars[len(bars)-1]
	gap, err := metrics.ComputeGap(metrics.GapInput{
		CostBasis:          vwap.VWAP,
		CurrentPrice:       latest.Close,
		PriceTimestamp:     latest.Timestamp,
		Source:             PriceSource,
		CalcVersion:        opts.CalcVersion,
		AsOf:               opts.AsOf,
		StaleThresholdDays: opts.StaleThresholdDays,
	})
	if err != nil {
		if errors.Is(err, metrics.ErrInvalidGapInput) {
			row.StaleReason = ReasonMissingPriceBars
			return row, fmt.Sprintf("No valid Yahoo daily bars for %s; enrichment skipped.", ticker), nil
		}
		return EnrichedHoldingRecord{}, "", err
	}

	cost := vwap.VWAP.Round(4)
	price := latest.Close.Round(4)
	row.Cost = &cost
	row.Price = &price
	row.Gap = gap.Gap
	row.PriceTimestamp = gap.Provenance.PriceTimestamp
	row.Source = gap.Provenance.Source
	row.CalcVersion = gap.Provenance.CalcVersion
	row.StaleBadge = gap.Freshness.Badge
	row.StaleReason = gap.Freshness.StaleReason
	return row, "", nil
}

// ChartBars converts the first chart result into ascending daily bars, dropping
// incomplete rows. The returned reason is set when nothing usable remains.
func ChartBars(resp *fetcher.ChartResponse) ([]metrics.DailyBar, string) {
	if resp == nil {
		return nil, "empty_response"
	}
	if resp.Chart.Error != nil {
		return nil, "chart_error:" + resp.Chart.Error.Code
	}
	if len(resp.Chart.Result) == 0 {
		return nil, "missing_result"
	}
	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, "missing_quote"
	}
	quote := result.Indicators.Quote[0]

	bars := make([]metrics.DailyBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		open, ok1 := column(quote.Open, i)
		high, ok2 := column(quote.High, i)
		low, ok3 := column(quote.Low, i)
		closing, ok4 := column(quote.Close, i)
		volume, ok5 := column(quote.Volume, i)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			continue
		}
		bars = append(bars, metrics.DailyBar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closing,
			Volume:    volume,
		})
	}
	if len(bars) == 0 {
		return nil, "no_valid_bars"
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, ""
}

func column(values []decimal.NullDecimal, i int) (decimal.Decimal, bool) {
	if i >= len(values) || !values[i].Valid {
		return decimal.Zero, false
	}
	return values[i].Decimal, true
}

// Weight renders value/total as a two-decimal percentage, empty when total is not positive.
func Weight(value, total decimal.Decimal) string {
	if !total.IsPositive() {
		return ""
	}
	return value.Div(total).Mul(hundred).StringFixed(2) + "%"
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func distinctTickers(holdings []domain.NormalizedHoldingRecord) []string {
	seen := make(map[string]bool, len(holdings))
	tickers := make([]string, 0, len(holdings))
	for _, holding := range holdings {
		ticker := normalizeTicker(holding.Ticker)
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		tickers = append(tickers, ticker)
	}
	return tickers
}
