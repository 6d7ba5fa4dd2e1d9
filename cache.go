package tracecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// StoreIdentity names the Cache.Store operation for its counter and
// history-log keys.
const StoreIdentity = "Cache.Store"

// Cache stores scalar values under generated keys and retrieves them with
// typed accessors. Its Store operation is instrumented: every call is
// counted under StoreIdentity and its argument/result recorded in the
// history logs.
type Cache struct {
	store    Store
	observer Observer
	storeOp  Operation
}

// New binds a cache to store and wipes the store's entire namespace.
// The flush is deliberate and destructive: every run starts from a
// known-empty namespace, including counters and history logs.
func New(ctx context.Context, store Store) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache requires a store")
	}
	if err := store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush store: %w", err)
	}
	c := &Cache{store: store}
	// Counter outermost: the increment precedes the input append.
	c.storeOp = CountCalls(store, StoreIdentity, RecordHistory(store, StoreIdentity, c.storeRaw))
	return c, nil
}

// WithObserver attaches an observer to receive operation events.
func (c *Cache) WithObserver(o Observer) *Cache {
	c.observer = o
	return c
}

// Driver reports the underlying store driver.
func (c *Cache) Driver() Driver {
	return c.store.Driver()
}

// Store writes value under a fresh opaque key and returns the key. The value
// must be a scalar (text, binary, integer, float or bool) and is written
// unmodified with no expiry. Keys are UUIDs, so no two calls return the same
// key even for identical values.
func (c *Cache) Store(ctx context.Context, value any) (string, error) {
	start := time.Now()
	key, err := c.storeOp(ctx, value)
	c.observe(ctx, "store", key, err == nil, err, start)
	return key, err
}

func (c *Cache) storeRaw(ctx context.Context, args ...any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("store expects one value, got %d", len(args))
	}
	body, err := encodeScalar(args[0])
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	if err := c.store.Set(ctx, key, body, 0); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the raw bytes stored under key. An unknown or expired key is
// the ordinary absent case, reported as (nil, false, nil), never an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	body, ok, err := c.store.Get(ctx, key)
	c.observe(ctx, "get", key, ok, err, start)
	return body, ok, err
}

// GetString returns the value under key decoded as UTF-8 text. Bytes that
// are not valid UTF-8 fail with ErrDecode.
func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	body, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_string", key, ok, err, start)
		return "", ok, err
	}
	if !utf8.Valid(body) {
		err := fmt.Errorf("%w: key %q does not hold valid utf-8 text", ErrDecode, key)
		c.observe(ctx, "get_string", key, false, err, start)
		return "", false, err
	}
	c.observe(ctx, "get_string", key, true, nil, start)
	return string(body), true, nil
}

// GetInt64 returns the value under key parsed as a base-10 integer.
// Non-numeric content fails with ErrParse.
func (c *Cache) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	start := time.Now()
	body, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_int", key, ok, err, start)
		return 0, ok, err
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		err := errParseKey(key)
		c.observe(ctx, "get_int", key, false, err, start)
		return 0, false, err
	}
	c.observe(ctx, "get_int", key, true, nil, start)
	return n, true, nil
}

func encodeScalar(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return cloneBytes(v), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	case int:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int8:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int16:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case uint:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint8:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint16:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint32:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint64:
		return []byte(strconv.FormatUint(v, 10)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

func (c *Cache) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.OnOp(ctx, op, key, hit, err, time.Since(start), c.Driver())
}
