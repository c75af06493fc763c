package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares snapshots between replicas. Values are gzip compressed
// JSON and an index sorted set tracks fetch times for Reset.
type RedisStore[T any] struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

// NewRedisStore keys every entry under prefix. Retention is the redis expiry
// and bounds the stale-fallback window: once it lapses the entry is gone and an
// upstream failure has nothing to fall back to. A zero retention keeps entries
// until they are overwritten.
func NewRedisStore[T any](client redis.Cmdable, prefix string, retention time.Duration) *RedisStore[T] {
	return &RedisStore[T]{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

func (r *RedisStore[T]) Get(ctx context.Context, key string) (Snapshot[T], bool, error) {
	var snap Snapshot[T]

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	} else if err != nil {
		return snap, false, err
	}

	decompressed, err := decompress(val)
	if err != nil {
		return snap, false, fmt.Errorf("failed to decompress: %w", err)
	}
	if decompressed == nil {
		return snap, false, nil
	}

	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return snap, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (r *RedisStore[T]) Set(ctx context.Context, key string, snap Snapshot[T]) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	compressed, err := compress(val)
	if err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), compressed, r.retention)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(snap.FetchedAt.Unix()),
			Member: r.key(key),
		})
		return nil
	})
	return err
}

func (r *RedisStore[T]) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(key))
		pipe.ZRem(ctx, r.indexKey(), r.key(key))
		return nil
	})
	return err
}

func (r *RedisStore[T]) Reset(ctx context.Context) error {
	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}

	keys = append(keys, r.indexKey())
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore[T]) key(key string) string {
	return r.prefix + ":snapshot:" + key
}

func (r *RedisStore[T]) indexKey() string {
	return r.prefix + ":snapshot_timestamps"
}

func compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
