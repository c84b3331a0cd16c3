package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const yahooSource = "yahoo"

// YahooOptions parameterise the chart client.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Retry     RetryPolicy
	RateLimit int
	RatePer   time.Duration
	UserAgent string
	Client    *http.Client
	Limiter   *RateLimiter
}

// DefaultYahooOptions returns conservative chart API settings.
func DefaultYahooOptions() YahooOptions {
	return YahooOptions{
		BaseURL: "https://query1.finance.yahoo.com",
		Timeout: 8 * time.Second,
		Retry: RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  150 * time.Millisecond,
			MaxDelay:   time.Second,
			Jitter:     100 * time.Millisecond,
		},
		RateLimit: 4,
		RatePer:   time.Second,
	}
}

// YahooClient reads daily OHLCV history.
type YahooClient struct {
	requester *Requester
	baseURL   string
	logger    zerolog.Logger
}

// NewYahooClient constructs a chart client.
func NewYahooClient(opts YahooOptions, logger zerolog.Logger) *YahooClient {
	defaults := DefaultYahooOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.RateLimit <= 0 || opts.RatePer <= 0 {
		opts.RateLimit, opts.RatePer = defaults.RateLimit, defaults.RatePer
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(opts.RateLimit, opts.RatePer)
	}

	headers := map[string]string{"Accept": "application/json"}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		headers["User-Agent"] = ua
	}

	return &YahooClient{
		requester: NewRequester(RequesterOptions{
			Source:  yahooSource,
			Timeout: opts.Timeout,
			Retry:   opts.Retry,
			Limiter: limiter,
			Headers: headers,
			Client:  opts.Client,
		}, logger),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "yahoo_client").Logger(),
	}
}

// ChartResponse is the v8 chart envelope.
type ChartResponse struct {
	Chart struct {
		Result []ChartResult `json:"result"`
		Error  *ChartError   `json:"error"`
	} `json:"chart"`
}

// ChartError is the in-band failure object of the chart API.
type ChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ChartResult carries parallel timestamp and quote arrays.
type ChartResult struct {
	Meta struct {
		Symbol       string `json:"symbol"`
		Currency     string `json:"currency"`
		ExchangeName string `json:"exchangeName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []ChartQuote `json:"quote"`
	} `json:"indicators"`
}

// ChartQuote holds OHLCV columns; gaps are JSON nulls.
type ChartQuote struct {
	Open   []decimal.NullDecimal `json:"open"`
	High   []decimal.NullDecimal `json:"high"`
	Low    []decimal.NullDecimal `json:"low"`
	Close  []decimal.NullDecimal `json:"close"`
	Volume []decimal.NullDecimal `json:"volume"`
}

// PriceChart fetches the daily chart of symbol.
func (c *YahooClient) PriceChart(ctx context.Context, symbol, interval, rng string) (*ChartResponse, error) {
	if interval == "" {
		interval = "1d"
	}
	if rng == "" {
		rng = "1y"
	}
	query := url.Values{}
	query.Set("interval", interval)
	query.Set("range", rng)

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), query.Encode())
	var out ChartResponse
	if err := c.requester.FetchJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("ticker", symbol).Int("results", len(out.Chart.Result)).Msg("chart fetched")
	return &out, nil
}
