package circuitbreaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Registry owns one CircuitBreaker per logical request key for the lifetime of
// the process.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	cooldown  time.Duration
	clock     clockwork.Clock
}

func NewRegistry(threshold int, cooldown time.Duration, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
	}
}

func (r *Registry) GetBreaker(key string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.cooldown, r.clock)
	r.breakers[key] = cb
	return cb
}

// ResetKey drops the breaker for key so the next lookup starts closed.
func (r *Registry) ResetKey(key string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.breakers, key)
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]CircuitState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]CircuitState, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = cb.Snapshot()
	}
	return stats
}
