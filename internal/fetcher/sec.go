package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const secSource = "sec"

// SECOptions parameterise the EDGAR metadata client.
type SECOptions struct {
	BaseURL        string
	ArchiveBaseURL string
	UserAgent      string
	Timeout        time.Duration
	Retry          RetryPolicy
	RateLimit      int
	RatePer        time.Duration
	Client         *http.Client
	Limiter        *RateLimiter
}

// DefaultSECOptions mirrors EDGAR's published fair-access limits.
func DefaultSECOptions() SECOptions {
	return SECOptions{
		BaseURL:        "https://data.sec.gov",
		ArchiveBaseURL: "https://www.sec.gov",
		Timeout:        10 * time.Second,
		Retry: RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   1500 * time.Millisecond,
			Jitter:     100 * time.Millisecond,
		},
		RateLimit: 8,
		RatePer:   time.Second,
	}
}

// SECClient reads submissions, the company ticker universe and filing archives.
type SECClient struct {
	json       *Requester
	documents  *Requester
	baseURL    string
	archiveURL string
	logger     zerolog.Logger
}

// NewSECClient constructs an EDGAR client. A User-Agent is mandatory.
func NewSECClient(opts SECOptions, logger zerolog.Logger) (*SECClient, error) {
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, errors.New("sec client requires a non-empty user agent")
	}
	defaults := DefaultSECOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.ArchiveBaseURL == "" {
		opts.ArchiveBaseURL = defaults.ArchiveBaseURL
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

	base := RequesterOptions{
		Source:  secSource,
		Timeout: opts.Timeout,
		Retry:   opts.Retry,
		Limiter: limiter,
		Client:  opts.Client,
	}
	jsonOpts := base
	jsonOpts.Headers = map[string]string{"User-Agent": opts.UserAgent, "Accept": "application/json"}
	docOpts := base
	docOpts.Headers = map[string]string{"User-Agent": opts.UserAgent, "Accept": "application/xml, text/xml, */*"}

	return &SECClient{
		json:       NewRequester(jsonOpts, logger),
		documents:  NewRequester(docOpts, logger),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		archiveURL: strings.TrimRight(opts.ArchiveBaseURL, "/"),
		logger:     logger.With().Str("component", "sec_client").Logger(),
	}, nil
}

// Submissions is the subset of the EDGAR submissions document the pipeline reads.
type Submissions struct {
	CIK     string   `json:"cik"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
	Filings struct {
		Recent RecentFilings `json:"recent"`
	} `json:"filings"`
}

// RecentFilings holds EDGAR's column-oriented recent filing arrays.
type RecentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// FilingRow is one row of RecentFilings.
type FilingRow struct {
	AccessionNumber string
	FilingDate      string
	ReportDate      string
	Form            string
	PrimaryDocument string
}

// Len returns the number of rows.
func (r RecentFilings) Len() int {
	return len(r.AccessionNumber)
}

// Row returns row i; short parallel arrays yield empty fields.
func (r RecentFilings) Row(i int) FilingRow {
	at := func(values []string) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
	return FilingRow{
		AccessionNumber: at(r.AccessionNumber),
		FilingDate:      at(r.FilingDate),
		ReportDate:      at(r.ReportDate),
		Form:            at(r.Form),
		PrimaryDocument: at(r.PrimaryDocument),
	}
}

// Find locates an accession among the recent filings.
func (r RecentFilings) Find(accession string) (int, FilingRow, bool) {
	for i, acc := range r.AccessionNumber {
		if acc == accession {
			return i, r.Row(i), true
		}
	}
	return -1, FilingRow{}, false
}

// CompanyTicker is one entry of company_tickers.json.
type CompanyTicker struct {
	CIK         int64    `json:"cik_str"`
	Ticker      string   `json:"ticker"`
	Title       string   `json:"title"`
	CountryCode string   `json:"country_code,omitempty"`
	Forms       []string `json:"forms,omitempty"`
}

// ArchiveIndex is the JSON directory listing of one filing.
type ArchiveIndex struct {
	Directory struct {
		Name      string             `json:"name"`
		ParentDir string             `json:"parent-dir"`
		Item      []ArchiveIndexItem `json:"item"`
	} `json:"directory"`
}

// ArchiveIndexItem is one file in an archive directory.
type ArchiveIndexItem struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         string `json:"size"`
	LastModified string `json:"last-modified"`
}

// Submissions fetches the recent filings of an institution.
func (c *SECClient) Submissions(ctx context.Context, cik string) (*Submissions, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.baseURL, padCIK(cik))
	var out Submissions
	if err := c.json.FetchJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompanyTickers fetches the id-keyed company ticker map.
func (c *SECClient) CompanyTickers(ctx context.Context) (map[string]CompanyTicker, error) {
	url := c.baseURL + "/files/company_tickers.json"
	out := make(map[string]CompanyTicker)
	if err := c.json.FetchJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FilingIndex fetches the archive directory listing of a filing.
func (c *SECClient) FilingIndex(ctx context.Context, cik, accession string) (*ArchiveIndex, error) {
	url := fmt.Sprintf("%s/Archives/edgar/data/%s/%s/index.json", c.baseURL, unpaddedCIK(cik), archiveKey(accession))
	var out ArchiveIndex
	if err := c.json.FetchJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Document downloads one file from a filing's archive directory.
func (c *SECClient) Document(ctx context.Context, cik, accession, name string) ([]byte, error) {
	return c.documents.FetchBytes(ctx, DocumentURL(c.archiveURL, cik, accession, name))
}

// DocumentURL builds the public archive URL of a filing document.
func DocumentURL(archiveBase, cik, accession, name string) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s", strings.TrimRight(archiveBase, "/"), unpaddedCIK(cik), archiveKey(accession), name)
}

// SourceURL is DocumentURL against the public EDGAR host.
func (c *SECClient) SourceURL(cik, accession, name string) string {
	return DocumentURL(c.archiveURL, cik, accession, name)
}

func padCIK(cik string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cik)
	if len(digits) >= 10 {
		return digits
	}
	return strings.Repeat("0", 10-len(digits)) + digits
}

func unpaddedCIK(cik string) string {
	n, err := strconv.ParseInt(padCIK(cik), 10, 64)
	if err != nil {
		return strings.TrimLeft(cik, "0")
	}
	return strconv.FormatInt(n, 10)
}

func archiveKey(accession string) string {
	return strings.ReplaceAll(accession, "-", "")
}
