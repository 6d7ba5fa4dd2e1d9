package tracecache

import (
	"context"
	"testing"
	"time"
)

type observedOp struct {
	op     string
	key    string
	hit    bool
	err    error
	driver Driver
}

func TestCacheObserverSeesOperations(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	var events []observedOp
	cache.WithObserver(ObserverFunc(func(_ context.Context, op, key string, hit bool, err error, _ time.Duration, driver Driver) {
		events = append(events, observedOp{op: op, key: key, hit: hit, err: err, driver: driver})
	}))

	key, err := cache.Store(ctx, "v")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, _, err := cache.Get(ctx, key); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, _, err := cache.Get(ctx, "absent"); err != nil {
		t.Fatalf("get absent: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("observed %d events, want 3", len(events))
	}
	if events[0].op != "store" || !events[0].hit || events[0].key != key {
		t.Fatalf("store event = %+v", events[0])
	}
	if events[1].op != "get" || !events[1].hit {
		t.Fatalf("get event = %+v", events[1])
	}
	if events[2].op != "get" || events[2].hit {
		t.Fatalf("miss event = %+v", events[2])
	}
	for _, e := range events {
		if e.driver != DriverMemory {
			t.Fatalf("event driver = %s", e.driver)
		}
	}
}

func TestFetcherObserverDistinguishesHitAndMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(0)

	var events []observedOp
	fetcher := NewFetcher(store, func(context.Context, string) (string, error) {
		return "body", nil
	}).WithObserver(ObserverFunc(func(_ context.Context, op, key string, hit bool, err error, _ time.Duration, driver Driver) {
		events = append(events, observedOp{op: op, key: key, hit: hit, err: err, driver: driver})
	}))

	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(ctx, "http://example.com"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	if len(events) != 2 {
		t.Fatalf("observed %d events, want 2", len(events))
	}
	if events[0].hit {
		t.Fatalf("first fetch should be a miss: %+v", events[0])
	}
	if !events[1].hit {
		t.Fatalf("second fetch should be a hit: %+v", events[1])
	}
}

func TestNilObserverFuncIsSafe(t *testing.T) {
	var f ObserverFunc
	f.OnOp(context.Background(), "op", "key", false, nil, 0, DriverNull)
}
