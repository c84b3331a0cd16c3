package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// FilingArtifact is the validated metadata of one disclosure document.
type FilingArtifact struct {
	AccessionNumber       string          `json:"accessionNumber"`
	InstitutionCIK        string          `json:"institutionCik"`
	FilingFormType        FilingFormType  `json:"filingFormType"`
	FilingDate            string          `json:"filingDate"`
	ReportPeriod          string          `json:"reportPeriod"`
	IsAmendment           bool            `json:"isAmendment"`
	IsNotice              bool            `json:"isNotice"`
	AmendsAccessionNumber string          `json:"amendsAccessionNumber,omitempty"`
	SourceURL             string          `json:"sourceUrl,omitempty"`
	RawPayload            json.RawMessage `json:"rawPayload"`
}

// FilingPosition is one normalized row of a holdings table.
type FilingPosition struct {
	RowNumber      int             `json:"rowNumber"`
	IssuerName     string          `json:"issuerName"`
	ClassTitle     string          `json:"classTitle,omitempty"`
	CUSIP          string          `json:"cusip"`
	Ticker         string          `json:"ticker,omitempty"`
	ValueThousands decimal.Decimal `json:"valueUsdThousands"`
	Shares         decimal.Decimal `json:"shares"`
	Action         FilingAction    `json:"action"`
}

// NormalizedHoldingRecord is the parser's name for a FilingPosition.
type NormalizedHoldingRecord = FilingPosition

// ParsedFilingStatus distinguishes holdings filings from notice-only ones.
type ParsedFilingStatus string

const (
	StatusHoldings   ParsedFilingStatus = "holdings"
	StatusNoticeOnly ParsedFilingStatus = "notice_only"
)

// ParsedInformationTable bundles a filing's identity with its parsed holdings.
type ParsedInformationTable struct {
	AccessionNumber       string                    `json:"accessionNumber"`
	InstitutionCIK        string                    `json:"institutionCik"`
	ReportPeriod          string                    `json:"reportPeriod"`
	FilingDate            string                    `json:"filingDate"`
	FilingFormType        FilingFormType            `json:"filingFormType"`
	IsAmendment           bool                      `json:"isAmendment"`
	AmendsAccessionNumber string                    `json:"amendsAccessionNumber,omitempty"`
	Status                ParsedFilingStatus        `json:"status"`
	Holdings              []NormalizedHoldingRecord `json:"holdings"`
}

// RunErrorPayload is the structured error attached to failed ledger rows.
type RunErrorPayload struct {
	Source  string              `json:"source"`
	Retries int                 `json:"retries"`
	Reason  ProviderErrorReason `json:"reason"`
	Message string              `json:"message"`
	Status  int                 `json:"status,omitempty"`
}

// RunLedgerRecord is one append-only audit row for an ingestion attempt.
type RunLedgerRecord struct {
	RunID                 string           `json:"runId"`
	RunKind               RunKind          `json:"runKind"`
	RunStatus             RunStatus        `json:"runStatus"`
	TriggerMode           TriggerMode      `json:"triggerMode"`
	RequestSignature      string           `json:"requestSignature"`
	TargetAccessionNumber string           `json:"targetAccessionNumber,omitempty"`
	ParserVersion         string           `json:"parserVersion,omitempty"`
	TransformVersion      string           `json:"transformVersion,omitempty"`
	InputPayload          map[string]any   `json:"inputPayload"`
	RowCounts             map[string]int   `json:"rowCounts"`
	Warnings              []string         `json:"warnings"`
	ErrorPayload          *RunErrorPayload `json:"errorPayload,omitempty"`
	StartedAt             string           `json:"startedAt"`
	EndedAt               string           `json:"endedAt"`
}

// FilingCoverageFlags records which form variants an institution files.
type FilingCoverageFlags struct {
	Form13FHR          bool `json:"form13fHr"`
	Form13FHRAmendment bool `json:"form13fHrAmendment"`
	Form13FNT          bool `json:"form13fNt"`
	Form13FNTAmendment bool `json:"form13fNtAmendment"`
}

// InstitutionUniverseRecord is one tracked reporting institution.
type InstitutionUniverseRecord struct {
	CIK              string              `json:"cik"`
	InstitutionName  string              `json:"institutionName"`
	Ticker           string              `json:"ticker,omitempty"`
	CountryCode      string              `json:"countryCode,omitempty"`
	IsPriorityCohort bool                `json:"isPriorityCohort"`
	FilingCoverage   FilingCoverageFlags `json:"filingCoverage"`
}

// DashboardPositionRow is the presentation-facing projection of an enriched holding.
type DashboardPositionRow struct {
	Ticker string          `json:"ticker"`
	Type   FilingAction    `json:"type"`
	Weight string          `json:"weight"`
	Cost   decimal.Decimal `json:"cost"`
	Price  decimal.Decimal `json:"price"`
	Gap    string          `json:"gap"`
}

// DashboardPayload groups dashboard rows for one filing.
type DashboardPayload struct {
	AccessionNumber string                 `json:"accessionNumber"`
	Rows            []DashboardPositionRow `json:"rows"`
}
