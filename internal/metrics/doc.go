// Package metrics collects request, upstream and cache metrics for the
// dashboard service.
//
// Events flow through a buffered channel into a single collector goroutine so
// the request path never blocks; when the buffer is full events are dropped.
// The collector keeps an in-memory view served as JSON on /stats (with P50,
// P95 and P99 latencies) and mirrors the same events into Prometheus vectors
// served on /metrics.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, "failover", prometheus.NewRegistry(), logger)
//	collector.Start(ctx)
//
//	client := guardedfetch.NewClient(guardedfetch.WithObserver(collector))
//	cache := snapshot.New[marine.Conditions](store, snapshot.Options{Observer: collector})
//
//	snap := collector.Snapshot()
package metrics
