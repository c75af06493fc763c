package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Outcome classifies how GetSnapshot answered.
type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeStale     Outcome = "stale"
	OutcomeError     Outcome = "error"
)

type Observer interface {
	SnapshotServed(key string, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) SnapshotServed(string, Outcome) {}

// RefreshFunc produces a new value for a key.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

type Result[T any] struct {
	Value     T
	FetchedAt time.Time
	ExpiresAt time.Time
	Cached    bool
	Stale     bool
}

// UpstreamError is returned when a refresh failed and there was nothing to
// fall back to.
type UpstreamError struct {
	Key   string
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("no snapshot available for %q: %v", e.Key, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

type Options struct {
	TTL      time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
	// Coalesce collapses concurrent refreshes of one key into a single call.
	Coalesce bool
}

type Cache[T any] struct {
	store    Store[T]
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer
	coalesce bool
	group    singleflight.Group
}

func New[T any](store Store[T], opts Options) *Cache[T] {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Cache[T]{
		store:    store,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
		coalesce: opts.Coalesce,
	}
}

func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// GetSnapshot serves a fresh entry as is. Otherwise it calls refresh, storing
// and returning the new value on success. When refresh fails the previous
// entry, however old, is returned marked stale; with no previous entry an
// *UpstreamError is returned.
func (c *Cache[T]) GetSnapshot(ctx context.Context, key string, refresh RefreshFunc[T]) (Result[T], error) {
	prior, ok := c.lookup(ctx, key)
	if ok && prior.Fresh(c.clock.Now()) {
		c.observer.SnapshotServed(key, OutcomeHit)
		return resultFrom(prior, true, false), nil
	}

	var priorPtr *Snapshot[T]
	if ok {
		priorPtr = &prior
	}

	if !c.coalesce {
		return c.refresh(ctx, key, priorPtr, refresh)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		// Another flight may have finished between our lookup and this one starting.
		if snap, ok := c.lookup(flightCtx, key); ok && snap.Fresh(c.clock.Now()) {
			c.observer.SnapshotServed(key, OutcomeHit)
			return resultFrom(snap, true, false), nil
		}
		return c.refresh(flightCtx, key, priorPtr, refresh)
	})

	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result[T]{}, res.Err
		}
		return res.Val.(Result[T]), nil
	}
}

// Peek returns the stored entry without refreshing it.
func (c *Cache[T]) Peek(ctx context.Context, key string) (Result[T], bool) {
	snap, ok := c.lookup(ctx, key)
	if !ok {
		return Result[T]{}, false
	}
	return resultFrom(snap, true, !snap.Fresh(c.clock.Now())), true
}

func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache[T]) Reset(ctx context.Context) error {
	return c.store.Reset(ctx)
}

func (c *Cache[T]) refresh(ctx context.Context, key string, prior *Snapshot[T], refresh RefreshFunc[T]) (Result[T], error) {
	value, err := refresh(ctx)
	if err != nil {
		if prior != nil {
			c.logger.Warn("Refresh failed, serving stale snapshot",
				"key", key,
				"fetched_at", prior.FetchedAt,
				"error", err,
			)
			c.observer.SnapshotServed(key, OutcomeStale)
			return resultFrom(*prior, true, true), nil
		}
		c.logger.Error("Refresh failed with no snapshot to fall back to", "key", key, "error", err)
		c.observer.SnapshotServed(key, OutcomeError)
		return Result[T]{}, &UpstreamError{Key: key, Cause: err}
	}

	now := c.clock.Now()
	snap := Snapshot[T]{
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.store.Set(ctx, key, snap); err != nil {
		c.logger.Error("Failed to store snapshot", "key", key, "error", err)
	}

	c.observer.SnapshotServed(key, OutcomeRefreshed)
	return resultFrom(snap, false, false), nil
}

// lookup treats store errors as a miss.
func (c *Cache[T]) lookup(ctx context.Context, key string) (Snapshot[T], bool) {
	snap, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to read snapshot", "key", key, "error", err)
		return Snapshot[T]{}, false
	}
	return snap, ok
}

func resultFrom[T any](snap Snapshot[T], cached, stale bool) Result[T] {
	return Result[T]{
		Value:     snap.Value,
		FetchedAt: snap.FetchedAt,
		ExpiresAt: snap.ExpiresAt,
		Cached:    cached,
		Stale:     stale,
	}
}
