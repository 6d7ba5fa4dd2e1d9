package tracecache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFetcherMemoizesWithinTTL(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	invoked := 0
	fetcher := NewFetcher(store, func(_ context.Context, url string) (string, error) {
		invoked++
		return "body of " + url, nil
	})

	for i := 0; i < 3; i++ {
		body, err := fetcher.Fetch(ctx, "http://example.com")
		if err != nil || body != "body of http://example.com" {
			t.Fatalf("fetch %d: err=%v body=%q", i, err, body)
		}
	}
	if invoked != 1 {
		t.Fatalf("underlying fetch invoked %d times, want 1", invoked)
	}
}

func TestFetcherCountsEveryAccess(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	fetcher := NewFetcher(store, func(context.Context, string) (string, error) {
		return "body", nil
	})

	for i := 0; i < 4; i++ {
		if _, err := fetcher.Fetch(ctx, "http://example.com"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	// Hits and misses count alike.
	count, err := fetcher.AccessCount(ctx, "http://example.com")
	if err != nil || count != 4 {
		t.Fatalf("access count = %d err=%v, want 4", count, err)
	}

	count, err = fetcher.AccessCount(ctx, "http://never-fetched.example")
	if err != nil || count != 0 {
		t.Fatalf("unfetched count = %d err=%v, want 0", count, err)
	}
}

func TestFetcherTracksURLsIndependently(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	invocations := make(map[string]int)
	fetcher := NewFetcher(store, func(_ context.Context, url string) (string, error) {
		invocations[url]++
		return url + " body", nil
	})

	urls := []string{"http://a.example", "http://b.example"}
	for _, url := range urls {
		for i := 0; i < 2; i++ {
			body, err := fetcher.Fetch(ctx, url)
			if err != nil || body != url+" body" {
				t.Fatalf("fetch %s: err=%v body=%q", url, err, body)
			}
		}
	}
	for _, url := range urls {
		if invocations[url] != 1 {
			t.Fatalf("%s invoked %d times, want 1", url, invocations[url])
		}
		count, err := fetcher.AccessCount(ctx, url)
		if err != nil || count != 2 {
			t.Fatalf("%s access count = %d err=%v, want 2", url, count, err)
		}
	}
}

func TestFetcherRefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	invoked := 0
	fetcher := NewFetcherWithTTL(store, func(context.Context, string) (string, error) {
		invoked++
		return fmt.Sprintf("body-%d", invoked), nil
	}, 30*time.Millisecond)

	body, err := fetcher.Fetch(ctx, "http://example.com")
	if err != nil || body != "body-1" {
		t.Fatalf("first fetch: err=%v body=%q", err, body)
	}
	time.Sleep(60 * time.Millisecond)
	body, err = fetcher.Fetch(ctx, "http://example.com")
	if err != nil || body != "body-2" {
		t.Fatalf("fetch after ttl: err=%v body=%q", err, body)
	}
	if invoked != 2 {
		t.Fatalf("underlying fetch invoked %d times, want 2", invoked)
	}
	// The count survives the cache entry's expiry.
	count, err := fetcher.AccessCount(ctx, "http://example.com")
	if err != nil || count != 2 {
		t.Fatalf("access count = %d err=%v, want 2", count, err)
	}
}

func TestFetcherDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	fetchErr := errors.New("upstream down")
	fail := true
	fetcher := NewFetcher(store, func(context.Context, string) (string, error) {
		if fail {
			return "", fetchErr
		}
		return "recovered", nil
	})

	if _, err := fetcher.Fetch(ctx, "http://example.com"); !errors.Is(err, fetchErr) {
		t.Fatalf("fetch error not propagated: %v", err)
	}
	// The failed attempt still counts.
	count, err := fetcher.AccessCount(ctx, "http://example.com")
	if err != nil || count != 1 {
		t.Fatalf("access count = %d err=%v, want 1", count, err)
	}

	fail = false
	body, err := fetcher.Fetch(ctx, "http://example.com")
	if err != nil || body != "recovered" {
		t.Fatalf("fetch after recovery: err=%v body=%q", err, body)
	}
}

func TestFetcherRequiresFetchFunc(t *testing.T) {
	fetcher := NewFetcher(newMemoryStore(0), nil)
	if _, err := fetcher.Fetch(context.Background(), "http://example.com"); err == nil {
		t.Fatalf("expected error for nil fetch func")
	}
}

func TestFetcherDefaultTTL(t *testing.T) {
	fetcher := NewFetcherWithTTL(newMemoryStore(0), nil, 0)
	if fetcher.ttl != defaultFetchTTL {
		t.Fatalf("ttl = %s, want %s", fetcher.ttl, defaultFetchTTL)
	}
}
