// Package tracetest provides a backend-agnostic contract suite for Store
// implementations.
package tracetest

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goforj/tracecache"
)

// Options configures shared store contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// NullSemantics enables relaxed expectations for the null store.
	NullSemantics bool
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
	// SkipFlush disables the flush assertion for backends where it is
	// expensive or unavailable.
	SkipFlush bool
}

// RunStoreContract runs the backend-agnostic store contract suite.
func RunStoreContract(t *testing.T, store tracecache.Store, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}

	ctx := context.Background()
	key := func(s string) string {
		return fmt.Sprintf("%s:%s", caseName, s)
	}

	// Round trip, no expiry.
	if err := store.Set(ctx, key("scalar"), []byte("payload"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, key("scalar"))
	if opts.NullSemantics {
		if err != nil || ok {
			t.Fatalf("null store should miss: ok=%v err=%v", ok, err)
		}
	} else {
		if err != nil || !ok || !bytes.Equal(body, []byte("payload")) {
			t.Fatalf("round trip failed: ok=%v err=%v body=%q", ok, err, body)
		}
	}

	// Missing key is absent, not an error.
	if _, ok, err := store.Get(ctx, key("missing")); err != nil || ok {
		t.Fatalf("missing key should be absent: ok=%v err=%v", ok, err)
	}

	// Counter is monotonic and starts at zero.
	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, key("counter"), 1)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if !opts.NullSemantics && got != want {
			t.Fatalf("counter = %d, want %d", got, want)
		}
	}

	// Lists are append-only and ordered.
	for i := 0; i < 3; i++ {
		length, err := store.ListAppend(ctx, key("list"), []byte(fmt.Sprintf("entry-%d", i)))
		if err != nil {
			t.Fatalf("list append failed: %v", err)
		}
		if !opts.NullSemantics && length != int64(i+1) {
			t.Fatalf("list length = %d, want %d", length, i+1)
		}
	}
	entries, err := store.ListRange(ctx, key("list"), 0, -1)
	if err != nil {
		t.Fatalf("list range failed: %v", err)
	}
	if !opts.NullSemantics {
		if len(entries) != 3 {
			t.Fatalf("list range returned %d entries, want 3", len(entries))
		}
		for i, entry := range entries {
			if string(entry) != fmt.Sprintf("entry-%d", i) {
				t.Fatalf("list entry %d = %q", i, entry)
			}
		}
		// Tail slice via negative indexes.
		tail, err := store.ListRange(ctx, key("list"), -2, -1)
		if err != nil || len(tail) != 2 || string(tail[0]) != "entry-1" {
			t.Fatalf("tail range failed: err=%v entries=%q", err, tail)
		}
	}

	// TTL expiry.
	if !opts.NullSemantics {
		if err := store.Set(ctx, key("expiring"), []byte("gone soon"), ttl); err != nil {
			t.Fatalf("set with ttl failed: %v", err)
		}
		if _, ok, err := store.Get(ctx, key("expiring")); err != nil || !ok {
			t.Fatalf("expiring key should be live: ok=%v err=%v", ok, err)
		}
		time.Sleep(wait)
		if _, ok, err := store.Get(ctx, key("expiring")); err != nil || ok {
			t.Fatalf("expiring key should be absent after ttl: ok=%v err=%v", ok, err)
		}
	}

	// Delete removes both scalar and list state.
	if err := store.Delete(ctx, key("scalar")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("scalar")); err != nil || ok {
		t.Fatalf("deleted key should be absent: ok=%v err=%v", ok, err)
	}

	if !opts.SkipFlush {
		if err := store.Flush(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
		if _, ok, err := store.Get(ctx, key("counter")); err != nil || ok {
			t.Fatalf("flushed counter should be absent: ok=%v err=%v", ok, err)
		}
		if entries, err := store.ListRange(ctx, key("list"), 0, -1); err != nil || len(entries) != 0 {
			t.Fatalf("flushed list should be empty: err=%v entries=%d", err, len(entries))
		}
	}
}
