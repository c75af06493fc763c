package snapshot

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the last successfully refreshed value for a key.
type Snapshot[T any] struct {
	Value     T         `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fresh reports whether the snapshot may be served without a refresh at now.
func (s Snapshot[T]) Fresh(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Store persists snapshots. Set replaces the whole entry for a key.
type Store[T any] interface {
	Get(ctx context.Context, key string) (Snapshot[T], bool, error)
	Set(ctx context.Context, key string, snap Snapshot[T]) error
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context) error
}

// MemoryStore keeps snapshots in process memory. Entries live until
// overwritten, deleted or the process exits.
type MemoryStore[T any] struct {
	mutex   sync.RWMutex
	entries map[string]Snapshot[T]
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{entries: make(map[string]Snapshot[T])}
}

func (m *MemoryStore[T]) Get(_ context.Context, key string) (Snapshot[T], bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	snap, ok := m.entries[key]
	return snap, ok, nil
}

func (m *MemoryStore[T]) Set(_ context.Context, key string, snap Snapshot[T]) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries[key] = snap
	return nil
}

func (m *MemoryStore[T]) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore[T]) Reset(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = make(map[string]Snapshot[T])
	return nil
}

func (m *MemoryStore[T]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries)
}
