package tracecache

import (
	"context"
	"time"
)

// Store is the shared key-value capability consumed by every component.
//
// Values written with ttl <= 0 persist until the key is deleted or the
// namespace is flushed; counters and history logs rely on that. Increment
// and ListAppend must be atomic per key — that guarantee comes from the
// backend, not from this layer.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	ListAppend(ctx context.Context, key string, value []byte) (int64, error)
	// ListRange returns entries [start, stop] inclusive; negative indexes
	// count from the end, so (0, -1) is the whole list.
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}

// rangeBounds normalizes redis-style inclusive range indexes against a list
// of n entries, returning a half-open [lo, hi) slice window.
func rangeBounds(n, start, stop int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n || stop < 0 {
		return 0, 0
	}
	return start, stop + 1
}
