package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"whaleinsight/internal/domain"
)

// RequesterOptions parameterise a policy-bound HTTP requester.
type RequesterOptions struct {
	Source  string
	Timeout time.Duration
	Retry   RetryPolicy
	Limiter *RateLimiter
	Headers map[string]string
	Client  *http.Client
	// Timer and Random replace real waits and jitter in tests.
	Timer  backoff.Timer
	Random func() float64
}

// Requester fetches a URL under a timeout, retry and rate-limit policy.
type Requester struct {
	opts   RequesterOptions
	client *http.Client
	logger zerolog.Logger
}

// NewRequester constructs a Requester.
func NewRequester(opts RequesterOptions, logger zerolog.Logger) *Requester {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Requester{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "requester").Str("source", opts.Source).Logger(),
	}
}

// FetchJSON fetches url and decodes the body into out.
func (r *Requester) FetchJSON(ctx context.Context, url string, out any) error {
	_, err := r.fetch(ctx, url, func(body []byte) error {
		return json.Unmarshal(body, out)
	})
	return err
}

// FetchBytes fetches url and returns the raw body.
func (r *Requester) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return r.fetch(ctx, url, nil)
}

func (r *Requester) fetch(ctx context.Context, url string, decode func([]byte) error) ([]byte, error) {
	var (
		body      []byte
		attempt   = -1
		permanent bool
	)

	operation := func() error {
		attempt++
		if err := r.opts.Limiter.Acquire(ctx); err != nil {
			permanent = true
			return backoff.Permanent(r.contextError(attempt, err))
		}

		payload, perr := r.attempt(ctx, url, attempt)
		if perr != nil {
			if ctx.Err() != nil || !perr.retryable() {
				permanent = true
				return backoff.Permanent(perr)
			}
			return perr
		}

		if decode != nil {
			if err := decode(payload); err != nil {
				permanent = true
				return backoff.Permanent(&ProviderError{
					Source:  r.opts.Source,
					Retries: attempt,
					Reason:  domain.ReasonParseError,
					Message: "failed to parse upstream JSON payload",
					Err:     err,
				})
			}
		}
		body = payload
		return nil
	}

	notify := func(err error, delay time.Duration) {
		r.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Dur("delay", delay).Msg("retrying upstream request")
	}

	b := backoff.WithContext(r.opts.Retry.NewBackOff(r.opts.Random), ctx)
	var err error
	if r.opts.Timer != nil {
		err = backoff.RetryNotifyWithTimer(operation, b, notify, r.opts.Timer)
	} else {
		err = backoff.RetryNotify(operation, b, notify)
	}
	if err == nil {
		return body, nil
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		return nil, r.contextError(attempt, err)
	}
	if permanent {
		return nil, perr
	}
	return nil, r.exhausted(perr)
}

func (r *Requester) attempt(ctx context.Context, url string, attempt int) ([]byte, *ProviderError) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProviderError{
			Source:  r.opts.Source,
			Retries: attempt,
			Reason:  domain.ReasonNetworkError,
			Message: "failed to build upstream request",
			Err:     err,
		}
	}
	for key, value := range r.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, r.transportError(attemptCtx, attempt, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, r.transportError(attemptCtx, attempt, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Source:  r.opts.Source,
			Retries: attempt,
			Reason:  domain.ReasonHTTPError,
			Message: httpErrorMessage(resp.StatusCode, payload),
			Status:  resp.StatusCode,
		}
	}
	return payload, nil
}

func (r *Requester) transportError(attemptCtx context.Context, attempt int, err error) *ProviderError {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{
			Source:  r.opts.Source,
			Retries: attempt,
			Reason:  domain.ReasonTimeout,
			Message: "upstream request timed out",
			Err:     err,
		}
	}
	return &ProviderError{
		Source:  r.opts.Source,
		Retries: attempt,
		Reason:  domain.ReasonNetworkError,
		Message: "upstream request failed",
		Err:     err,
	}
}

func (r *Requester) contextError(attempt int, err error) *ProviderError {
	if attempt < 0 {
		attempt = 0
	}
	reason := domain.ReasonNetworkError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = domain.ReasonTimeout
	}
	return &ProviderError{
		Source:  r.opts.Source,
		Retries: attempt,
		Reason:  reason,
		Message: "request aborted: " + err.Error(),
		Err:     err,
	}
}

// exhausted keeps a final timeout as a timeout; everything else becomes retry_exhausted.
func (r *Requester) exhausted(last *ProviderError) *ProviderError {
	retries := r.opts.Retry.MaxRetries
	if last.Reason == domain.ReasonTimeout {
		return &ProviderError{
			Source:  last.Source,
			Retries: retries,
			Reason:  domain.ReasonTimeout,
			Message: last.Message,
			Err:     last.Err,
		}
	}
	return &ProviderError{
		Source:  last.Source,
		Retries: retries,
		Reason:  domain.ReasonRetryExhausted,
		Message: fmt.Sprintf("retry limit exhausted for %s: %s", last.Source, last.Message),
		Status:  last.Status,
		Err:     last,
	}
}

type errorResponse struct {
	Error       any    `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func httpErrorMessage(status int, payload []byte) string {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Sprintf("upstream returned HTTP %d: %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Sprintf("upstream returned HTTP %d: %s", status, apiErr.Message)
		}
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed != "" && len(trimmed) <= 200 && !strings.HasPrefix(trimmed, "<") {
		return fmt.Sprintf("upstream returned HTTP %d: %s", status, trimmed)
	}
	return fmt.Sprintf("upstream returned HTTP %d", status)
}
