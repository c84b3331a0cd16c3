package metrics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// DefaultWindowDays approximates one calendar quarter.
const DefaultWindowDays = 92

var (
	// ErrNoBarsInWindow reports that no bar falls inside the quarter window.
	ErrNoBarsInWindow = errors.New("metrics: no bars inside quarter window")
	// ErrNoPositiveVolume reports that every windowed bar has zero or negative volume.
	ErrNoPositiveVolume = errors.New("metrics: no positive-volume bars inside quarter window")
	// ErrInvalidWindow reports a non-positive window length or malformed report period.
	ErrInvalidWindow = errors.New("metrics: invalid quarter window")
)

var four = decimal.NewFromInt(4)

// DailyBar is one daily OHLCV observation.
type DailyBar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// TypicalPrice averages open, high, low and close.
func (b DailyBar) TypicalPrice() decimal.Decimal {
	return b.Open.Add(b.High).Add(b.Low).Add(b.Close).Div(four)
}

// QuarterWindowVWAP is the volume weighted typical price over a report-period window.
type QuarterWindowVWAP struct {
	VWAP        decimal.Decimal `json:"vwap"`
	WindowStart string          `json:"windowStartDate"`
	WindowEnd   string          `json:"windowEndDate"`
	SampledBars int             `json:"sampledBars"`
}

// QuarterWindow returns the closed [start, end] interval ending on the last
// nanosecond of reportPeriod and spanning windowDays calendar days.
func QuarterWindow(reportPeriod string, windowDays int) (time.Time, time.Time, error) {
	if windowDays <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: window days must be positive, got %d", ErrInvalidWindow, windowDays)
	}
	day, err := time.ParseInLocation(domain.DateLayout, reportPeriod, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: report period %q: %v", ErrInvalidWindow, reportPeriod, err)
	}
	end := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	start := day.AddDate(0, 0, -(windowDays - 1))
	return start, end, nil
}

// ComputeQuarterWindowVWAP computes the VWAP of bars inside the window ending on reportPeriod.
// Bars with non-positive volume count as sampled but carry no weight.
func ComputeQuarterWindowVWAP(bars []DailyBar, reportPeriod string, windowDays int) (QuarterWindowVWAP, error) {
	start, end, err := QuarterWindow(reportPeriod, windowDays)
	if err != nil {
		return QuarterWindowVWAP{}, err
	}

	eligible := make([]DailyBar, 0, len(bars))
	for _, bar := range bars {
		ts := bar.Timestamp.UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		eligible = append(eligible, bar)
	}
	if len(eligible) == 0 {
		return QuarterWindowVWAP{}, fmt.Errorf("%w ending %s", ErrNoBarsInWindow, reportPeriod)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Timestamp.Before(eligible[j].Timestamp)
	})

	notional := decimal.Zero
	volume := decimal.Zero
	for _, bar := range eligible {
		if !bar.Volume.IsPositive() {
			continue
		}
		notional = notional.Add(bar.TypicalPrice().Mul(bar.Volume))
		volume = volume.Add(bar.Volume)
	}
	if !volume.IsPositive() {
		return QuarterWindowVWAP{}, fmt.Errorf("%w ending %s", ErrNoPositiveVolume, reportPeriod)
	}

	return QuarterWindowVWAP{
		VWAP:        notional.Div(volume),
		WindowStart: start.Format(domain.DateLayout),
		WindowEnd:   end.Format(domain.DateLayout),
		SampledBars: len(eligible),
	}, nil
}

// LatestBar returns the bar with the greatest timestamp.
func LatestBar(bars []DailyBar) (DailyBar, bool) {
	if len(bars) == 0 {
		return DailyBar{}, false
	}
	latest := bars[0]
	for _, bar := range bars[1:] {
		if bar.Timestamp.After(latest.Timestamp) {
			latest = bar
		}
	}
	return latest, true
}
