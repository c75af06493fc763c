package guardedfetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen matches any *CircuitOpenError via errors.Is.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrBodyTooLarge matches any *BodyTooLargeError via errors.Is.
	ErrBodyTooLarge = errors.New("response body too large")
)

type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry after %s", e.Key, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// TimeoutError is returned when a single attempt exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt+1, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// BodyTooLargeError is returned for a 2xx response whose body exceeds Limit.
// It counts against the circuit but is not retried.
type BodyTooLargeError struct {
	StatusCode int
	Limit      int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("upstream body exceeds %d bytes", e.Limit)
}

func (e *BodyTooLargeError) Is(target error) bool {
	return target == ErrBodyTooLarge
}

// UpstreamStatusError reports a response outside 2xx, including a 3xx the
// HTTP client did not follow. Body holds at most the first 4 MiB.
type UpstreamStatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *UpstreamStatusError) Error() string {
	if e.Status != "" {
		return "upstream responded " + e.Status
	}
	return fmt.Sprintf("upstream responded %d", e.StatusCode)
}

// GuardedFetchError wraps the last failure once a call gives up.
type GuardedFetchError struct {
	Key      string
	Attempts int
	Cause    error
}

func (e *GuardedFetchError) Error() string {
	return fmt.Sprintf("fetch %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Cause)
}

func (e *GuardedFetchError) Unwrap() error {
	return e.Cause
}

// retryable reports whether another attempt may help.
func retryable(err error, retryClientErrors bool) bool {
	if errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 500:
			return true
		case statusErr.StatusCode == 408, statusErr.StatusCode == 429:
			return true
		default:
			return retryClientErrors
		}
	}
	return true
}
