package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// DefaultStaleThresholdDays is the price age after which a gap is flagged stale.
const DefaultStaleThresholdDays = 5

// ProvenanceTimestampLayout renders price timestamps with millisecond precision in UTC.
const ProvenanceTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidGapInput reports a gap request that cannot be evaluated.
var ErrInvalidGapInput = errors.New("metrics: invalid gap input")

var hundred = decimal.NewFromInt(100)

// GapInput carries the operands of a current-gap calculation.
type GapInput struct {
	CostBasis      decimal.Decimal
	CurrentPrice   decimal.Decimal
	PriceTimestamp time.Time
	Source         string
	CalcVersion    string
	// AsOf defaults to the wall clock when zero.
	AsOf time.Time
	// StaleThresholdDays defaults to DefaultStaleThresholdDays when nil.
	StaleThresholdDays *int
}

// Provenance records where a price came from and how the metric was derived.
type Provenance struct {
	PriceTimestamp string `json:"price_timestamp"`
	Source         string `json:"source"`
	CalcVersion    string `json:"calc_version"`
}

// Freshness classifies the age of the price behind a gap.
type Freshness struct {
	IsStale     bool                  `json:"isStale"`
	Badge       domain.FreshnessBadge `json:"badge"`
	StaleReason string                `json:"staleReason,omitempty"`
	AgeDays     int                   `json:"ageDays"`
}

// GapMetric is the relative distance of the current price from the cost basis.
type GapMetric struct {
	GapPercent decimal.Decimal `json:"gapPercent"`
	Gap        string          `json:"gap"`
	Provenance Provenance      `json:"provenance"`
	Freshness  Freshness       `json:"freshness"`
}

// ComputeGap evaluates (price - cost) / cost * 100 with freshness and provenance.
func ComputeGap(in GapInput) (GapMetric, error) {
	if !in.CostBasis.IsPositive() {
		return GapMetric{}, fmt.Errorf("%w: costBasis must be greater than 0", ErrInvalidGapInput)
	}
	if !in.CurrentPrice.IsPositive() {
		return GapMetric{}, fmt.Errorf("%w: currentPrice must be greater than 0", ErrInvalidGapInput)
	}
	if strings.TrimSpace(in.Source) == "" {
		return GapMetric{}, fmt.Errorf("%w: source must be a non-empty string", ErrInvalidGapInput)
	}
	if strings.TrimSpace(in.CalcVersion) == "" {
		return GapMetric{}, fmt.Errorf("%w: calcVersion must be a non-empty string", ErrInvalidGapInput)
	}
	if in.PriceTimestamp.IsZero() {
		return GapMetric{}, fmt.Errorf("%w: priceTimestamp is required", ErrInvalidGapInput)
	}

	threshold := DefaultStaleThresholdDays
	if in.StaleThresholdDays != nil {
		threshold = *in.StaleThresholdDays
	}
	if threshold < 0 {
		return GapMetric{}, fmt.Errorf("%w: staleThresholdDays must be non-negative", ErrInvalidGapInput)
	}

	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	age := AgeDays(asOf, in.PriceTimestamp)
	stale := age > threshold
	gap := in.CurrentPrice.Sub(in.CostBasis).Div(in.CostBasis).Mul(hundred)

	metric := GapMetric{
		GapPercent: gap,
		Gap:        FormatGap(gap),
		Provenance: Provenance{
			PriceTimestamp: in.PriceTimestamp.UTC().Format(ProvenanceTimestampLayout),
			Source:         in.Source,
			CalcVersion:    in.CalcVersion,
		},
		Freshness: Freshness{
			IsStale: stale,
			Badge:   domain.BadgeFresh,
			AgeDays: age,
		},
	}
	if stale {
		metric.Freshness.Badge = domain.BadgeStale
		metric.Freshness.StaleReason = StaleReason(threshold)
	}
	return metric, nil
}

// FormatGap renders a percentage with two decimals and a leading + when positive.
func FormatGap(gap decimal.Decimal) string {
	rounded := gap.StringFixed(2)
	if gap.IsPositive() {
		return "+" + rounded + "%"
	}
	if rounded == "-0.00" {
		rounded = "0.00"
	}
	return rounded + "%"
}

// StaleReason names why a price is considered stale.
func StaleReason(thresholdDays int) string {
	return fmt.Sprintf("latest_close_older_than_%d_days", thresholdDays)
}

// AgeDays counts whole days from ts to asOf, rounding toward negative infinity.
func AgeDays(asOf, ts time.Time) int {
	const day = 24 * time.Hour
	diff := asOf.Sub(ts)
	days := int(diff / day)
	if diff < 0 && diff%day != 0 {
		days--
	}
	return days
}
