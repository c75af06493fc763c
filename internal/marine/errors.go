package marine

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
)

var (
	ErrUnknownPort      = errors.New("unknown port")
	ErrDuplicatePort    = errors.New("duplicate port")
	ErrMalformedPayload = errors.New("malformed marine payload")
	ErrNoProviders      = errors.New("no marine providers available")
)

// RefreshError collects the failure of every provider tried for one port.
type RefreshError struct {
	Port     string
	Failures []error
}

func (e *RefreshError) Error() string {
	if len(e.Failures) == 0 {
		return ErrNoProviders.Error()
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return "all marine providers failed for " + e.Port + ": " + strings.Join(msgs, "; ")
}

func (e *RefreshError) Unwrap() []error {
	return e.Failures
}

// CircuitOpen reports whether every provider was skipped by an open circuit,
// and the shortest wait until one of them admits a probe.
func (e *RefreshError) CircuitOpen() (bool, time.Duration) {
	if len(e.Failures) == 0 {
		return false, 0
	}

	var wait time.Duration
	for i, f := range e.Failures {
		var openErr *guardedfetch.CircuitOpenError
		if !errors.As(f, &openErr) {
			return false, 0
		}
		if i == 0 || openErr.RetryAfter < wait {
			wait = openErr.RetryAfter
		}
	}
	return true, wait
}

// StatusCode maps a Service error to the HTTP status served to dashboards.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrUnknownPort) {
		return http.StatusBadRequest
	}
	if open, _ := circuitOpen(err); open {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// RetryAfter returns how long a client should wait when every circuit is open.
func RetryAfter(err error) time.Duration {
	_, wait := circuitOpen(err)
	return wait
}

func circuitOpen(err error) (bool, time.Duration) {
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		return false, 0
	}
	return refreshErr.CircuitOpen()
}
