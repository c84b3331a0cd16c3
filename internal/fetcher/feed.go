package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// FeedOptions parameterise the EDGAR current-filings feed reader.
type FeedOptions struct {
	URL   string
	Forms []string
	Count int
}

// FeedEntry is one filing announced on the current-filings feed.
type FeedEntry struct {
	Form            string
	CompanyName     string
	CIK             string
	AccessionNumber string
	FilingDate      string
	Link            string
}

// FeedClient polls EDGAR's Atom feed of newly accepted filings.
type FeedClient struct {
	requester *Requester
	parser    *gofeed.Parser
	opts      FeedOptions
	logger    zerolog.Logger
}

var (
	feedTitlePattern     = regexp.MustCompile(`^\s*(\S+)\s+-\s+(.+?)\s+\((\d{1,10})\)`)
	feedAccessionPattern = regexp.MustCompile(`AccNo:\s*(\d{10}-\d{2}-\d{6})`)
	feedFiledPattern     = regexp.MustCompile(`Filed:\s*(\d{4}-\d{2}-\d{2})`)
)

// NewFeedClient shares the SEC client's policy so feed polls count against the same rate limit.
func NewFeedClient(sec *SECClient, opts FeedOptions, logger zerolog.Logger) *FeedClient {
	if opts.URL == "" {
		opts.URL = "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&owner=include&output=atom"
	}
	if opts.Count <= 0 {
		opts.Count = 100
	}
	if len(opts.Forms) == 0 {
		opts.Forms = []string{"13F-HR"}
	}
	return &FeedClient{
		requester: sec.documents,
		parser:    gofeed.NewParser(),
		opts:      opts,
		logger:    logger.With().Str("component", "feed_client").Logger(),
	}
}

// Latest returns the current feed entries for every configured form type.
func (c *FeedClient) Latest(ctx context.Context) ([]FeedEntry, error) {
	seen := make(map[string]bool)
	entries := make([]FeedEntry, 0)
	for _, form := range c.opts.Forms {
		batch, err := c.fetchForm(ctx, form)
		if err != nil {
			return nil, err
		}
		for _, entry := range batch {
			if seen[entry.AccessionNumber] {
				continue
			}
			seen[entry.AccessionNumber] = true
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (c *FeedClient) fetchForm(ctx context.Context, form string) ([]FeedEntry, error) {
	sep := "&"
	if !strings.Contains(c.opts.URL, "?") {
		sep = "?"
	}
	url := fmt.Sprintf("%s%stype=%s&count=%d", c.opts.URL, sep, form, c.opts.Count)

	body, err := c.requester.FetchBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.ParseFeed(body)
}

// ParseFeed extracts filing entries from an Atom document.
func (c *FeedClient) ParseFeed(body []byte) ([]FeedEntry, error) {
	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse filing feed: %w", err)
	}

	entries := make([]FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, ok := feedEntry(item)
		if !ok {
			c.logger.Debug().Str("title", item.Title).Msg("skip unrecognised feed entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func feedEntry(item *gofeed.Item) (FeedEntry, bool) {
	match := feedTitlePattern.FindStringSubmatch(item.Title)
	if match == nil {
		return FeedEntry{}, false
	}

	summary := stripHTML(item.Description)
	if summary == "" {
		summary = stripHTML(item.Content)
	}
	acc := feedAccessionPattern.FindStringSubmatch(summary)
	if acc == nil {
		return FeedEntry{}, false
	}

	entry := FeedEntry{
		Form:            match[1],
		CompanyName:     strings.TrimSpace(match[2]),
		CIK:             padCIK(match[3]),
		AccessionNumber: acc[1],
		Link:            item.Link,
	}
	if filed := feedFiledPattern.FindStringSubmatch(summary); filed != nil {
		entry.FilingDate = filed[1]
	}
	return entry, true
}

func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
