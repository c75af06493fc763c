// Package circuitbreaker implements per-key circuit breakers for outbound calls.
//
// A breaker stops callers from hammering an upstream that keeps failing. It has
// three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Threshold of consecutive failures reached, calls fail fast
//   - HALF-OPEN: Cooldown elapsed, a single probe call is let through
//
// The open to half-open transition is checked lazily on the next admission, so
// no timers run in the background.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(3, 16*time.Second, clockwork.NewRealClock())
//	cb := registry.GetBreaker("open-meteo:AEJEA")
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
