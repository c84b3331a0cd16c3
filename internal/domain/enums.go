package domain

// FilingFormType enumerates the 13F form variants the pipeline ingests.
type FilingFormType string

const (
	FormHoldingsReport          FilingFormType = "13F-HR"
	FormHoldingsReportAmendment FilingFormType = "13F-HR/A"
	FormNotice                  FilingFormType = "13F-NT"
	FormNoticeAmendment         FilingFormType = "13F-NT/A"
)

// FilingFormTypes lists every accepted form type in canonical order.
var FilingFormTypes = []FilingFormType{
	FormHoldingsReport,
	FormHoldingsReportAmendment,
	FormNotice,
	FormNoticeAmendment,
}

// IsAmendment reports whether the form is an amendment variant.
func (f FilingFormType) IsAmendment() bool {
	return f == FormHoldingsReportAmendment || f == FormNoticeAmendment
}

// IsNotice reports whether the form is a notice-only variant.
func (f FilingFormType) IsNotice() bool {
	return f == FormNotice || f == FormNoticeAmendment
}

// Base strips the amendment suffix.
func (f FilingFormType) Base() FilingFormType {
	switch f {
	case FormHoldingsReportAmendment:
		return FormHoldingsReport
	case FormNoticeAmendment:
		return FormNotice
	default:
		return f
	}
}

// FilingAction is the change-type tag of a holding relative to the prior period.
type FilingAction string

const (
	ActionNew    FilingAction = "NEW"
	ActionAdd    FilingAction = "ADD"
	ActionReduce FilingAction = "REDUCE"
	ActionKeep   FilingAction = "KEEP"
)

// FilingActions lists every change-type tag.
var FilingActions = []FilingAction{ActionNew, ActionAdd, ActionReduce, ActionKeep}

// RunStatus is the outcome of one ingestion attempt.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunReplayed  RunStatus = "replayed"
)

// RunStatuses lists every run status.
var RunStatuses = []RunStatus{RunQueued, RunRunning, RunSucceeded, RunFailed, RunReplayed}

// RunKind names the pipeline stage an ingestion attempt belongs to.
type RunKind string

const (
	RunKindDiscovery   RunKind = "discovery"
	RunKindFilingFetch RunKind = "filing_fetch"
	RunKindParse       RunKind = "parse"
	RunKindEnrichment  RunKind = "enrichment"
	RunKindAggregate   RunKind = "aggregate"
)

// RunKinds lists every run kind.
var RunKinds = []RunKind{RunKindDiscovery, RunKindFilingFetch, RunKindParse, RunKindEnrichment, RunKindAggregate}

// TriggerMode records what started a run.
type TriggerMode string

const (
	TriggerManual    TriggerMode = "manual"
	TriggerScheduled TriggerMode = "scheduled"
	TriggerReplay    TriggerMode = "replay"
)

// ProviderErrorReason tags upstream request failures.
type ProviderErrorReason string

const (
	ReasonTimeout        ProviderErrorReason = "timeout"
	ReasonHTTPError      ProviderErrorReason = "http_error"
	ReasonNetworkError   ProviderErrorReason = "network_error"
	ReasonParseError     ProviderErrorReason = "parse_error"
	ReasonRetryExhausted ProviderErrorReason = "retry_exhausted"
)

// ProviderErrorReasons lists every provider error reason.
var ProviderErrorReasons = []ProviderErrorReason{
	ReasonTimeout,
	ReasonHTTPError,
	ReasonNetworkError,
	ReasonParseError,
	ReasonRetryExhausted,
}

// FreshnessBadge marks whether the price data behind a metric is current.
type FreshnessBadge string

const (
	BadgeFresh FreshnessBadge = "fresh"
	BadgeStale FreshnessBadge = "stale"
)
