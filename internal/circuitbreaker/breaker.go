package circuitbreaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests until cooldown elapses
	StateHalfOpen              // Cooldown elapsed, one probe allowed
)

// Admission is the outcome of asking a breaker for permission to call upstream.
type Admission struct {
	Allowed bool
	Probe   bool
}

// CircuitState is a point-in-time copy of a breaker's bookkeeping.
type CircuitState struct {
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	clock            clockwork.Clock
	state            State
	failures         int
	openedAt         time.Time
	probing          bool
	failureThreshold int
	cooldown         time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, clock clockwork.Clock) *CircuitBreaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &CircuitBreaker{
		state:            StateClosed,
		clock:            clock,
		failureThreshold: normalizeThreshold(threshold),
		cooldown:         cooldown,
	}
}

// Configure replaces the threshold and cooldown used for subsequent decisions.
// Counters and the current state are left untouched.
func (cb *CircuitBreaker) Configure(threshold int, cooldown time.Duration) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureThreshold = normalizeThreshold(threshold)
	cb.cooldown = cooldown
}

func (cb *CircuitBreaker) Allow() bool {
	return cb.Admit().Allowed
}

// Admit decides whether a call may proceed. The open to half-open transition is
// evaluated lazily here: once the cooldown has elapsed the failure count is reset
// and exactly one probe is admitted until it reports back.
func (cb *CircuitBreaker) Admit() Admission {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return Admission{Allowed: true}
	case StateOpen:
		if cb.clock.Since(cb.openedAt) < cb.cooldown {
			return Admission{}
		}
		cb.state = StateHalfOpen
		cb.failures = 0
		cb.probing = true
		return Admission{Allowed: true, Probe: true}
	case StateHalfOpen:
		if cb.probing {
			return Admission{}
		}
		cb.probing = true
		return Admission{Allowed: true, Probe: true}
	default:
		return Admission{Allowed: true}
	}
}

// RecordFailure counts a failed call. It reports whether this failure moved the
// breaker into the open state.
func (cb *CircuitBreaker) RecordFailure() (opened bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	wasOpen := cb.state == StateOpen
	cb.failures++
	cb.probing = false

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.clock.Now()
	}

	return cb.state == StateOpen && !wasOpen
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.openedAt = time.Time{}
	cb.state = StateClosed
}

// Release gives back a probe slot without recording an outcome, for calls that
// were abandoned by the caller rather than failed by upstream.
func (cb *CircuitBreaker) Release() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.probing = false
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// RetryAfter returns how long an open breaker keeps rejecting calls.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return 0
	}

	remaining := cb.cooldown - cb.clock.Since(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (cb *CircuitBreaker) Snapshot() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cs := CircuitState{
		State:        cb.state,
		FailureCount: cb.failures,
	}
	if cb.state == StateOpen {
		openedAt := cb.openedAt
		cs.OpenedAt = &openedAt
	}
	return cs
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func normalizeThreshold(threshold int) int {
	if threshold < 1 {
		return 1
	}
	return threshold
}
