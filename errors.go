package resilience

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError reports that an upstream service rejected a call with a
// 429-equivalent response. RetryAfter carries the server-supplied hint, if
// any; retry policies prefer it over their computed backoff delay.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Service)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// RetryAfterHint extracts a server-supplied retry-after delay from err.
// Returns false when err carries no rate-limit signal.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// CircuitOpenError reports a call rejected because the named service's
// circuit breaker is open. Until is the earliest time a trial call will be
// allowed; it is zero when no reopen time is known, such as while another
// caller's trial is in flight.
type CircuitOpenError struct {
	Service string
	Until   time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("circuit breaker for %q is open", e.Service)
	}
	return fmt.Sprintf("circuit breaker for %q is open until %s", e.Service, e.Until.Format(time.RFC3339))
}

// IsCircuitOpen reports whether err indicates an open circuit breaker.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// ExhaustedError is returned when a retry policy runs out of attempts.
// It wraps the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
