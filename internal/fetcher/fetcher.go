package fetcher

import "context"

// FilingSource retrieves filing metadata and documents from EDGAR.
type FilingSource interface {
	Submissions(ctx context.Context, cik string) (*Submissions, error)
	FilingIndex(ctx context.Context, cik, accession string) (*ArchiveIndex, error)
	Document(ctx context.Context, cik, accession, name string) ([]byte, error)
}

// UniverseSource retrieves the company ticker universe.
type UniverseSource interface {
	CompanyTickers(ctx context.Context) (map[string]CompanyTicker, error)
}

// PriceHistorySource retrieves daily price charts.
type PriceHistorySource interface {
	PriceChart(ctx context.Context, symbol, interval, rng string) (*ChartResponse, error)
}

var (
	_ FilingSource       = (*SECClient)(nil)
	_ UniverseSource     = (*SECClient)(nil)
	_ PriceHistorySource = (*YahooClient)(nil)
)
