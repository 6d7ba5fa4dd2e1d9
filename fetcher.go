package tracecache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	defaultFetchTTL = 10 * time.Second

	fetchCountPrefix = "count:"
	fetchCachePrefix = "cache:"
)

// FetchFunc is the slow external operation memoized by Fetcher. It may be
// arbitrarily slow; no retry is built in.
type FetchFunc func(ctx context.Context, url string) (string, error)

// Fetcher memoizes a slow fetch per distinct URL behind a time-bounded
// cache entry, while tracking per-URL access counts independently of cache
// hits and misses.
type Fetcher struct {
	store    Store
	fetch    FetchFunc
	ttl      time.Duration
	observer Observer
}

// NewFetcher builds a fetcher with the default 10-second cache TTL.
func NewFetcher(store Store, fetch FetchFunc) *Fetcher {
	return NewFetcherWithTTL(store, fetch, defaultFetchTTL)
}

// NewFetcherWithTTL lets callers override the cache TTL applied when ttl <= 0.
func NewFetcherWithTTL(store Store, fetch FetchFunc, ttl time.Duration) *Fetcher {
	if ttl <= 0 {
		ttl = defaultFetchTTL
	}
	return &Fetcher{
		store: store,
		fetch: fetch,
		ttl:   ttl,
	}
}

// WithObserver attaches an observer to receive fetch events.
func (f *Fetcher) WithObserver(o Observer) *Fetcher {
	f.observer = o
	return f
}

// Fetch returns the result for url, serving from cache when a live entry
// exists. The access count under "count:<url>" is incremented on every call,
// hit or miss — it measures demand, not cache performance — and is never
// rolled back. On a miss the underlying fetch runs and its result is cached
// for the TTL; a fetch failure is propagated and nothing is cached.
//
// Two concurrent misses for the same url may both invoke the underlying
// fetch and both write the cache entry; last write wins. The race is
// accepted: staleness is bounded by the TTL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	start := time.Now()
	if f.fetch == nil {
		err := errors.New("fetcher requires a fetch func")
		f.observe(ctx, "fetch", url, false, err, start)
		return "", err
	}
	if _, err := f.store.Increment(ctx, fetchCountPrefix+url, 1); err != nil {
		f.observe(ctx, "fetch", url, false, err, start)
		return "", err
	}

	cacheKey := fetchCachePrefix + url
	body, ok, err := f.store.Get(ctx, cacheKey)
	if err != nil {
		f.observe(ctx, "fetch", url, false, err, start)
		return "", err
	}
	if ok {
		f.observe(ctx, "fetch", url, true, nil, start)
		return string(body), nil
	}

	result, err := f.fetch(ctx, url)
	if err != nil {
		f.observe(ctx, "fetch", url, false, err, start)
		return "", err
	}
	if err := f.store.Set(ctx, cacheKey, []byte(result), f.ttl); err != nil {
		f.observe(ctx, "fetch", url, false, err, start)
		return "", err
	}
	f.observe(ctx, "fetch", url, false, nil, start)
	return result, nil
}

// AccessCount reads how many times url has been requested through Fetch.
// A URL never fetched reads as 0.
func (f *Fetcher) AccessCount(ctx context.Context, url string) (int64, error) {
	body, ok, err := f.store.Get(ctx, fetchCountPrefix+url)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, errParseKey(fetchCountPrefix + url)
	}
	return n, nil
}

func (f *Fetcher) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if f.observer == nil {
		return
	}
	f.observer.OnOp(ctx, op, key, hit, err, time.Since(start), f.store.Driver())
}
