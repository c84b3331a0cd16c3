package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// FilingUpsertResult reports whether an accession was newly stored.
type FilingUpsertResult struct {
	Created           bool
	TotalKnownFilings int64
	Record            domain.FilingArtifact
}

// InstitutionUpsertResult summarises a universe upsert.
type InstitutionUpsertResult struct {
	UpsertedCount          int
	TotalKnownInstitutions int64
}

// PositionRecord is one persisted enriched holding of an institution's active filing.
type PositionRecord struct {
	InstitutionCIK  string
	ReportPeriod    string
	AccessionNumber string
	RowNumber       int
	IssuerName      string
	ClassTitle      string
	CUSIP           string
	Ticker          string
	Action          domain.FilingAction
	ValueThousands  decimal.Decimal
	Shares          decimal.Decimal
	Weight          string
	Cost            *decimal.Decimal
	Price           *decimal.Decimal
	Gap             string
	PriceTimestamp  string
	CalcVersion     string
	StaleBadge      domain.FreshnessBadge
	StaleReason     string
	UpdatedAt       time.Time
}
