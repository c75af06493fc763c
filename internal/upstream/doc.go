// Package upstream manages the ordered set of marine data providers a refresh
// may call: a primary and any number of fallbacks.
//
// Strategies decide the order:
//
//   - failover: by configured priority (default)
//   - round-robin: rotate the starting provider on each refresh
//   - least-response: by exponentially weighted moving average (EWMA) latency
//
// Healthy providers are always offered before unhealthy ones.
package upstream
