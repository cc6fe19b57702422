package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

var (
	// ErrProviderUnavailable is wrapped by every fail-fast rejection.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidConfig indicates an unusable guard configuration.
	ErrInvalidConfig = errors.New("invalid guard configuration")
)

// Reason names why a provider was unavailable.
type Reason string

const (
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonCircuitOpen     Reason = "circuit_open"
)

// UnavailableError is returned when an execution is refused before any
// attempt is made.
type UnavailableError struct {
	Provider   string
	Reason     Reason
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s (%s), retry after %s", ErrProviderUnavailable, e.Provider, e.Reason, e.RetryAfter)
}

func (e *UnavailableError) Unwrap() error {
	return ErrProviderUnavailable
}

// HTTPStatusError reports a non-2xx provider response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

// NewHTTPStatusError builds an [*HTTPStatusError] from a response.
func NewHTTPStatusError(resp *http.Response) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
}

func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return "provider responded " + e.Status
	}
	return fmt.Sprintf("provider responded %d", e.StatusCode)
}

// Retryable reports true for 429 and 5xx responses.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies err. Errors that implement Retryable() bool decide
// for themselves; otherwise transport-level failures, timeouts included,
// are retryable and everything else is fatal. Cancellation is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
