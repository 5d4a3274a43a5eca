package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// HTTPError is a non-200 response from a provider API.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration // from the Retry-After header on 429 and 503, else 0
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func newHTTPError(provider string, resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    truncate(strings.TrimSpace(string(body)), 500),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Retryable reports whether err is a rate limit or a server-side failure.
func Retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return retryableStatus(he.StatusCode)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return retryableStatus(ge.Code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RetryProvider retries retryable failures with exponential backoff.
type RetryProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
}

// NewRetryProvider wraps p. Delays start at one second and double per attempt.
func NewRetryProvider(p Provider, maxRetries int) *RetryProvider {
	return &RetryProvider{inner: p, maxRetries: maxRetries, baseDelay: time.Second}
}

// Name returns the wrapped provider's name.
func (r *RetryProvider) Name() string { return r.inner.Name() }

// Close closes the wrapped provider.
func (r *RetryProvider) Close() error { return Close(r.inner) }

// Complete calls the wrapped provider, retrying on 429 and 5xx responses.
func (r *RetryProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay * time.Duration(1<<(attempt-1))
			var he *HTTPError
			if errors.As(lastErr, &he) && he.RetryAfter > delay {
				delay = he.RetryAfter
			}
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("retry canceled: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		out, err := r.inner.Complete(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !Retryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("giving up after %d retries: %w", r.maxRetries, lastErr)
}
