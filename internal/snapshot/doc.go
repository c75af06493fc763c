// Package snapshot caches the last known good value per key.
//
// A snapshot younger than its TTL is served without calling upstream. An
// expired one triggers a refresh; if the refresh fails the expired snapshot is
// served marked stale instead of surfacing the error. Entries are only replaced
// by successful refreshes and are never evicted on expiry.
//
// Two stores are provided: MemoryStore for a single process and RedisStore for
// replicas sharing one cache.
package snapshot
