// Package guardedfetch wraps outbound HTTP calls with a per-attempt timeout,
// exponential backoff retries and a per-key circuit breaker.
//
// Retryable failures are transport errors, attempt timeouts, 5xx, 408 and 429.
// Any non-2xx response counts against the circuit, including client errors that
// are not retried. Caller cancellation stops the call without touching the
// circuit.
//
// Usage:
//
//	client := guardedfetch.NewClient(guardedfetch.WithLogger(log))
//	resp, err := client.Fetch(ctx, guardedfetch.Target{URL: u},
//	    guardedfetch.WithKey("open-meteo:AEJEA"))
//	if errors.Is(err, guardedfetch.ErrCircuitOpen) {
//	    // fail fast, serve cached data
//	}
package guardedfetch
