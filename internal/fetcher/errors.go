package fetcher

import (
	"fmt"

	"whaleinsight/internal/domain"
)

// ProviderError is the typed failure of an upstream request.
type ProviderError struct {
	Source  string
	Retries int
	Reason  domain.ProviderErrorReason
	Message string
	Status  int
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (%d, retries=%d): %s", e.Source, e.Reason, e.Status, e.Retries, e.Message)
	}
	return fmt.Sprintf("%s %s (retries=%d): %s", e.Source, e.Reason, e.Retries, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Payload returns the wire form recorded on failed ledger rows.
func (e *ProviderError) Payload() domain.RunErrorPayload {
	return domain.RunErrorPayload{
		Source:  e.Source,
		Retries: e.Retries,
		Reason:  e.Reason,
		Message: e.Message,
		Status:  e.Status,
	}
}

var retryableStatuses = map[int]bool{
	408: true,
	425: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableStatus reports whether an HTTP status is worth another attempt.
func IsRetryableStatus(status int) bool {
	return retryableStatuses[status]
}

func (e *ProviderError) retryable() bool {
	switch e.Reason {
	case domain.ReasonTimeout, domain.ReasonNetworkError:
		return true
	case domain.ReasonHTTPError:
		return IsRetryableStatus(e.Status)
	default:
		return false
	}
}
