package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/parser"
)

// TimestampLayout renders ledger timestamps with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// errorSource tags payloads for failures that did not come from a provider.
const errorSource = "ingest"

// NewRunID returns a lexicographically sortable run identifier.
func NewRunID(at time.Time) string {
	return ulid.MustNewDefault(at).String()
}

// RequestSignature hashes the request identity; the first 20 hex chars are kept.
func RequestSignature(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])[:20]
}

// Timestamp formats t for a ledger row.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ErrorPayload maps any failure onto the structured ledger error payload.
func ErrorPayload(err error) domain.RunErrorPayload {
	var (
		providerErr   *fetcher.ProviderError
		validationErr *domain.ValidationError
		parserErr     *parser.Error
	)
	switch {
	case errors.As(err, &providerErr):
		return providerErr.Payload()
	case errors.As(err, &validationErr), errors.As(err, &parserErr):
		return domain.RunErrorPayload{Source: errorSource, Reason: domain.ReasonParseError, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return domain.RunErrorPayload{Source: errorSource, Reason: domain.ReasonTimeout, Message: err.Error()}
	case err != nil:
		return domain.RunErrorPayload{Source: errorSource, Reason: domain.ReasonNetworkError, Message: err.Error()}
	default:
		return domain.RunErrorPayload{Source: errorSource, Reason: domain.ReasonNetworkError, Message: "Unknown ingestion failure"}
	}
}
