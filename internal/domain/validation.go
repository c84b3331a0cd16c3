package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire layout of filing and report dates.
const DateLayout = "2006-01-02"

var (
	accessionPattern = regexp.MustCompile(`^[0-9]{10}-[0-9]{2}-[0-9]{6}$`)
	cikPattern       = regexp.MustCompile(`^[0-9]{10}$`)
	rawCIKPattern    = regexp.MustCompile(`^[0-9]{1,10}$`)
	cusipPattern     = regexp.MustCompile(`^[A-Z0-9]{8,9}$`)
	tickerPattern    = regexp.MustCompile(`^[A-Z.]{1,10}$`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidationError reports malformed input attributable to one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsAccessionNumber reports whether v matches ##########-##-######.
func IsAccessionNumber(v string) bool {
	return accessionPattern.MatchString(v)
}

// IsCIK reports whether v is a normalized 10 digit CIK.
func IsCIK(v string) bool {
	return cikPattern.MatchString(v)
}

// NormalizeCIK accepts 1-10 numeric digits (string or integer) and left-pads to 10.
func NormalizeCIK(value any) (string, error) {
	var raw string
	switch v := value.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case int:
		raw = strconv.Itoa(v)
	case int64:
		raw = strconv.FormatInt(v, 10)
	case json.Number:
		raw = v.String()
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "", invalid("cik", `Field "cik" must be 1-10 numeric digits before normalization.`)
		}
		raw = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "", invalid("cik", `Field "cik" must be a non-empty string.`)
	}

	if !rawCIKPattern.MatchString(raw) {
		return "", invalid("cik", `Field "cik" must be 1-10 numeric digits before normalization.`)
	}
	return strings.Repeat("0", 10-len(raw)) + raw, nil
}

// ParseFilingFormType validates a form type, tolerating case and whitespace.
func ParseFilingFormType(value string) (FilingFormType, error) {
	normalized := FilingFormType(strings.ToUpper(strings.TrimSpace(value)))
	if !slices.Contains(FilingFormTypes, normalized) {
		return "", invalid("filingFormType", "Unsupported filing form type: %s.", value)
	}
	return normalized, nil
}

// ParseFilingArtifact validates a loosely typed artifact payload.
func ParseFilingArtifact(raw map[string]any) (FilingArtifact, error) {
	if raw == nil {
		return FilingArtifact{}, invalid("", "Filing artifact must be an object.")
	}

	var (
		a   FilingArtifact
		err error
	)
	if a.AccessionNumber, err = expectString(raw, "accessionNumber"); err != nil {
		return FilingArtifact{}, err
	}
	if a.InstitutionCIK, err = expectString(raw, "institutionCik"); err != nil {
		return FilingArtifact{}, err
	}
	form, err := expectEnum(raw, "filingFormType", FilingFormTypes)
	if err != nil {
		return FilingArtifact{}, err
	}
	a.FilingFormType = form
	if a.FilingDate, err = expectString(raw, "filingDate"); err != nil {
		return FilingArtifact{}, err
	}
	if a.ReportPeriod, err = expectString(raw, "reportPeriod"); err != nil {
		return FilingArtifact{}, err
	}
	if a.IsAmendment, err = expectBool(raw, "isAmendment"); err != nil {
		return FilingArtifact{}, err
	}
	if a.IsNotice, err = expectBool(raw, "isNotice"); err != nil {
		return FilingArtifact{}, err
	}
	if a.AmendsAccessionNumber, err = expectOptionalString(raw, "amendsAccessionNumber"); err != nil {
		return FilingArtifact{}, err
	}
	if a.SourceURL, err = expectOptionalString(raw, "sourceUrl"); err != nil {
		return FilingArtifact{}, err
	}

	switch payload := raw["rawPayload"].(type) {
	case map[string]any:
		encoded, mErr := json.Marshal(payload)
		if mErr != nil {
			return FilingArtifact{}, invalid("rawPayload", `Field "rawPayload" must be an object.`)
		}
		a.RawPayload = encoded
	case json.RawMessage:
		a.RawPayload = payload
	default:
		return FilingArtifact{}, invalid("rawPayload", `Field "rawPayload" must be an object.`)
	}

	if err := a.Validate(); err != nil {
		return FilingArtifact{}, err
	}
	return a, nil
}

// Validate enforces field formats and the amendment/notice cross-field invariants.
func (a FilingArtifact) Validate() error {
	if !IsAccessionNumber(a.AccessionNumber) {
		return invalid("accessionNumber", `Field "accessionNumber" must match ##########-##-######.`)
	}
	if !IsCIK(a.InstitutionCIK) {
		return invalid("institutionCik", `Field "institutionCik" must be 10 digits.`)
	}
	if !slices.Contains(FilingFormTypes, a.FilingFormType) {
		return invalid("filingFormType", "Unsupported filing form type: %s.", a.FilingFormType)
	}
	if err := validateDate(a.FilingDate, "filingDate"); err != nil {
		return err
	}
	if err := validateDate(a.ReportPeriod, "reportPeriod"); err != nil {
		return err
	}
	if a.AmendsAccessionNumber != "" && !IsAccessionNumber(a.AmendsAccessionNumber) {
		return invalid("amendsAccessionNumber", `Field "amendsAccessionNumber" has invalid format.`)
	}
	if a.IsAmendment && a.AmendsAccessionNumber == "" {
		return invalid("amendsAccessionNumber", `Amendment filings require "amendsAccessionNumber".`)
	}
	if !a.IsAmendment && a.AmendsAccessionNumber != "" {
		return invalid("amendsAccessionNumber", `Non-amendment filings must omit "amendsAccessionNumber".`)
	}
	if a.FilingFormType.IsNotice() != a.IsNotice {
		return invalid("isNotice", "Notice flag must match 13F-NT form type.")
	}
	if a.FilingFormType.IsAmendment() != a.IsAmendment {
		return invalid("isAmendment", "Amendment flag must match amended form type.")
	}
	if !isJSONObject(a.RawPayload) {
		return invalid("rawPayload", `Field "rawPayload" must be an object.`)
	}
	return nil
}

// ParseFilingPosition validates a loosely typed holding row.
func ParseFilingPosition(raw map[string]any) (FilingPosition, error) {
	if raw == nil {
		return FilingPosition{}, invalid("", "Filing position must be an object.")
	}

	var (
		p   FilingPosition
		err error
	)
	row, err := expectNumber(raw, "rowNumber")
	if err != nil {
		return FilingPosition{}, err
	}
	if row != math.Trunc(row) || row <= 0 {
		return FilingPosition{}, invalid("rowNumber", `Field "rowNumber" must be a positive integer.`)
	}
	p.RowNumber = int(row)

	if p.IssuerName, err = expectString(raw, "issuerName"); err != nil {
		return FilingPosition{}, err
	}
	if p.ClassTitle, err = expectOptionalString(raw, "classTitle"); err != nil {
		return FilingPosition{}, err
	}
	if p.CUSIP, err = expectString(raw, "cusip"); err != nil {
		return FilingPosition{}, err
	}
	if p.Ticker, err = expectOptionalString(raw, "ticker"); err != nil {
		return FilingPosition{}, err
	}
	if p.ValueThousands, err = expectDecimal(raw, "valueUsdThousands"); err != nil {
		return FilingPosition{}, err
	}
	if p.Shares, err = expectDecimal(raw, "shares"); err != nil {
		return FilingPosition{}, err
	}
	if p.Action, err = expectEnum(raw, "action", FilingActions); err != nil {
		return FilingPosition{}, err
	}

	if err := p.Validate(); err != nil {
		return FilingPosition{}, err
	}
	return p, nil
}

// Validate enforces holding row formats.
func (p FilingPosition) Validate() error {
	if p.RowNumber <= 0 {
		return invalid("rowNumber", `Field "rowNumber" must be a positive integer.`)
	}
	if strings.TrimSpace(p.IssuerName) == "" {
		return invalid("issuerName", `Field "issuerName" must be a non-empty string.`)
	}
	if !cusipPattern.MatchString(p.CUSIP) {
		return invalid("cusip", `Field "cusip" has invalid format.`)
	}
	if p.Ticker != "" && !tickerPattern.MatchString(p.Ticker) {
		return invalid("ticker", `Field "ticker" has invalid format.`)
	}
	if p.ValueThousands.IsNegative() {
		return invalid("valueUsdThousands", `Field "valueUsdThousands" must be greater than or equal to 0.`)
	}
	if p.Shares.IsNegative() {
		return invalid("shares", `Field "shares" must be greater than or equal to 0.`)
	}
	if !slices.Contains(FilingActions, p.Action) {
		return invalid("action", "Field \"action\" must be one of: %s. Received: %s.", joinEnum(FilingActions), p.Action)
	}
	return nil
}

// ParseRunErrorPayload validates a loosely typed provider error payload.
func ParseRunErrorPayload(raw map[string]any) (RunErrorPayload, error) {
	if raw == nil {
		return RunErrorPayload{}, invalid("", "Run error payload must be an object.")
	}

	var (
		p   RunErrorPayload
		err error
	)
	if p.Source, err = expectString(raw, "source"); err != nil {
		return RunErrorPayload{}, err
	}
	retries, err := expectNumber(raw, "retries")
	if err != nil {
		return RunErrorPayload{}, err
	}
	if retries != math.Trunc(retries) || retries < 0 {
		return RunErrorPayload{}, invalid("retries", `Field "retries" must be a non-negative integer.`)
	}
	p.Retries = int(retries)
	if p.Reason, err = expectEnum(raw, "reason", ProviderErrorReasons); err != nil {
		return RunErrorPayload{}, err
	}
	if p.Message, err = expectString(raw, "message"); err != nil {
		return RunErrorPayload{}, err
	}
	if _, ok := raw["status"]; ok {
		status, sErr := expectNumber(raw, "status")
		if sErr != nil {
			return RunErrorPayload{}, sErr
		}
		if status != math.Trunc(status) {
			return RunErrorPayload{}, invalid("status", `Field "status" must be an integer HTTP status code.`)
		}
		p.Status = int(status)
	}

	if err := p.Validate(); err != nil {
		return RunErrorPayload{}, err
	}
	return p, nil
}

// Validate enforces the provider error payload contract.
func (p RunErrorPayload) Validate() error {
	if strings.TrimSpace(p.Source) == "" {
		return invalid("source", `Field "source" must be a non-empty string.`)
	}
	if p.Retries < 0 {
		return invalid("retries", `Field "retries" must be a non-negative integer.`)
	}
	if !slices.Contains(ProviderErrorReasons, p.Reason) {
		return invalid("reason", "Field \"reason\" must be one of: %s. Received: %s.", joinEnum(ProviderErrorReasons), p.Reason)
	}
	if strings.TrimSpace(p.Message) == "" {
		return invalid("message", `Field "message" must be a non-empty string.`)
	}
	if p.Status != 0 && (p.Status < 100 || p.Status > 599) {
		return invalid("status", `Field "status" must be an integer HTTP status code.`)
	}
	return nil
}

// ParseRunLedgerEntry validates the loosely typed core of a ledger row.
func ParseRunLedgerEntry(raw map[string]any) error {
	if raw == nil {
		return invalid("", "Run ledger entry must be an object.")
	}
	if _, err := expectEnum(raw, "runKind", RunKinds); err != nil {
		return err
	}
	if _, err := expectEnum(raw, "runStatus", RunStatuses); err != nil {
		return err
	}
	if _, err := expectString(raw, "requestSignature"); err != nil {
		return err
	}
	startedAt, err := expectString(raw, "startedAt")
	if err != nil {
		return err
	}
	if err := validateTimestamp(startedAt, "startedAt"); err != nil {
		return err
	}
	if _, ok := raw["endedAt"]; ok {
		endedAt, eErr := expectString(raw, "endedAt")
		if eErr != nil {
			return eErr
		}
		if err := validateTimestamp(endedAt, "endedAt"); err != nil {
			return err
		}
	}
	if payload, ok := raw["errorPayload"]; ok {
		obj, isObj := payload.(map[string]any)
		if !isObj {
			return invalid("errorPayload", "Run error payload must be an object.")
		}
		if _, err := ParseRunErrorPayload(obj); err != nil {
			return err
		}
	}
	return nil
}

// Validate enforces the ledger row contract on a typed record.
func (r RunLedgerRecord) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return invalid("runId", `Field "runId" must be a non-empty string.`)
	}
	if !slices.Contains(RunKinds, r.RunKind) {
		return invalid("runKind", "Field \"runKind\" must be one of: %s. Received: %s.", joinEnum(RunKinds), r.RunKind)
	}
	if !slices.Contains(RunStatuses, r.RunStatus) {
		return invalid("runStatus", "Field \"runStatus\" must be one of: %s. Received: %s.", joinEnum(RunStatuses), r.RunStatus)
	}
	if strings.TrimSpace(r.RequestSignature) == "" {
		return invalid("requestSignature", `Field "requestSignature" must be a non-empty string.`)
	}
	if err := validateTimestamp(r.StartedAt, "startedAt"); err != nil {
		return err
	}
	if r.EndedAt != "" {
		if err := validateTimestamp(r.EndedAt, "endedAt"); err != nil {
			return err
		}
	}
	if r.ErrorPayload != nil {
		return r.ErrorPayload.Validate()
	}
	return nil
}

// ParseDashboardPayload validates a presentation payload handed to downstream views.
func ParseDashboardPayload(raw map[string]any) (DashboardPayload, error) {
	if raw == nil {
		return DashboardPayload{}, invalid("", "Dashboard payload must be an object.")
	}
	accession, err := expectString(raw, "accessionNumber")
	if err != nil {
		return DashboardPayload{}, err
	}
	if !IsAccessionNumber(accession) {
		return DashboardPayload{}, invalid("accessionNumber", `Field "accessionNumber" must match ##########-##-######.`)
	}
	rawRows, ok := raw["rows"].([]any)
	if !ok {
		return DashboardPayload{}, invalid("rows", `Field "rows" must be an array.`)
	}

	payload := DashboardPayload{AccessionNumber: accession, Rows: make([]DashboardPositionRow, 0, len(rawRows))}
	for i, entry := range rawRows {
		obj, isObj := entry.(map[string]any)
		if !isObj {
			return DashboardPayload{}, invalid(fmt.Sprintf("rows[%d]", i), "Dashboard row %d must be an object.", i)
		}
		row, rErr := parseDashboardRow(obj, i)
		if rErr != nil {
			return DashboardPayload{}, rErr
		}
		payload.Rows = append(payload.Rows, row)
	}
	return payload, nil
}

func parseDashboardRow(raw map[string]any, index int) (DashboardPositionRow, error) {
	field := func(name string) string { return fmt.Sprintf("rows[%d].%s", index, name) }

	var (
		row DashboardPositionRow
		err error
	)
	if row.Ticker, err = expectString(raw, "ticker"); err != nil {
		return row, relabel(err, field("ticker"))
	}
	if !tickerPattern.MatchString(row.Ticker) {
		return row, invalid(field("ticker"), "Field \"%s\" has invalid format.", field("ticker"))
	}
	if row.Type, err = expectEnum(raw, "type", FilingActions); err != nil {
		return row, relabel(err, field("type"))
	}
	if row.Weight, err = expectString(raw, "weight"); err != nil {
		return row, relabel(err, field("weight"))
	}
	if row.Cost, err = expectDecimal(raw, "cost"); err != nil {
		return row, relabel(err, field("cost"))
	}
	if row.Price, err = expectDecimal(raw, "price"); err != nil {
		return row, relabel(err, field("price"))
	}
	if row.Gap, err = expectString(raw, "gap"); err != nil {
		return row, relabel(err, field("gap"))
	}
	return row, nil
}

func relabel(err error, field string) error {
	if v, ok := err.(*ValidationError); ok {
		return &ValidationError{Field: field, Message: strings.Replace(v.Message, `"`+v.Field+`"`, `"`+field+`"`, 1)}
	}
	return err
}

func expectString(raw map[string]any, field string) (string, error) {
	v, ok := raw[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", invalid(field, "Field \"%s\" must be a non-empty string.", field)
	}
	return v, nil
}

func expectOptionalString(raw map[string]any, field string) (string, error) {
	v, present := raw[field]
	if !present || v == nil {
		return "", nil
	}
	return expectString(raw, field)
}

func expectBool(raw map[string]any, field string) (bool, error) {
	v, ok := raw[field].(bool)
	if !ok {
		return false, invalid(field, "Field \"%s\" must be a boolean.", field)
	}
	return v, nil
}

func expectNumber(raw map[string]any, field string) (float64, error) {
	var n float64
	switch v := raw[field].(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalid(field, "Field \"%s\" must be a finite number.", field)
		}
		n = f
	default:
		return 0, invalid(field, "Field \"%s\" must be a finite number.", field)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, invalid(field, "Field \"%s\" must be a finite number.", field)
	}
	return n, nil
}

// expectDecimal accepts numbers or decimals and rejects negatives.
func expectDecimal(raw map[string]any, field string) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch v := raw[field].(type) {
	case decimal.Decimal:
		d = v
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, invalid(field, "Field \"%s\" must be a finite number.", field)
		}
		d = parsed
	default:
		n, err := expectNumber(raw, field)
		if err != nil {
			return decimal.Zero, err
		}
		d = decimal.NewFromFloat(n)
	}
	if d.IsNegative() {
		return decimal.Zero, invalid(field, "Field \"%s\" must be greater than or equal to 0.", field)
	}
	return d, nil
}

func expectEnum[T ~string](raw map[string]any, field string, allowed []T) (T, error) {
	s, err := expectString(raw, field)
	if err != nil {
		return "", err
	}
	if !slices.Contains(allowed, T(s)) {
		return "", invalid(field, "Field \"%s\" must be one of: %s. Received: %s.", field, joinEnum(allowed), s)
	}
	return T(s), nil
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func validateDate(value, field string) error {
	if !datePattern.MatchString(value) {
		return invalid(field, "Field \"%s\" must be YYYY-MM-DD.", field)
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		return invalid(field, "Field \"%s\" must be YYYY-MM-DD.", field)
	}
	return nil
}

func validateTimestamp(value, field string) error {
	if _, err := time.Parse(time.RFC3339Nano, value); err != nil {
		return invalid(field, "Field \"%s\" must be an ISO date-time string.", field)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
