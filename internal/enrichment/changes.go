package enrichment

import (
	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// ClassifyChanges labels each current holding against the previous period's
// share count for the same CUSIP. With no previous period every row stays as parsed.
func ClassifyChanges(current, previous []domain.NormalizedHoldingRecord) []domain.NormalizedHoldingRecord {
	out := make([]domain.NormalizedHoldingRecord, len(current))
	copy(out, current)
	if previous == nil {
		return out
	}

	prior := sharesByCUSIP(previous)
	now := sharesByCUSIP(current)
	for i := range out {
		before, held := prior[out[i].CUSIP]
		after := now[out[i].CUSIP]
		switch {
		case !held:
			out[i].Action = domain.ActionNew
		case after.GreaterThan(before):
			out[i].Action = domain.ActionAdd
		case after.LessThan(before):
			out[i].Action = domain.ActionReduce
		default:
			out[i].Action = domain.ActionKeep
		}
	}
	return out
}

func sharesByCUSIP(holdings []domain.NormalizedHoldingRecord) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(holdings))
	for _, holding := range holdings {
		totals[holding.CUSIP] = totals[holding.CUSIP].Add(holding.Shares)
	}
	return totals
}

// DashboardPayload projects priced rows into the dashboard contract; unpriced rows are left out.
func DashboardPayload(accession string, rows []EnrichedHoldingRecord) domain.DashboardPayload {
	payload := domain.DashboardPayload{
		AccessionNumber: accession,
		Rows:            make([]domain.DashboardPositionRow, 0, len(rows)),
	}
	for _, row := range rows {
		if row.Cost == nil || row.Price == nil {
			continue
		}
		payload.Rows = append(payload.Rows, domain.DashboardPositionRow{
			Ticker: normalizeTicker(row.Ticker),
			Type:   row.Action,
			Weight: row.Weight,
			Cost:   *row.Cost,
			Price:  *row.Price,
			Gap:    row.Gap,
		})
	}
	return payload
}
