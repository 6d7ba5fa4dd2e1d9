package tracecache

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

type stubNATSEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *stubNATSEntry) Bucket() string             { return "stub" }
func (e *stubNATSEntry) Key() string                { return e.key }
func (e *stubNATSEntry) Value() []byte              { return e.value }
func (e *stubNATSEntry) Revision() uint64           { return e.revision }
func (e *stubNATSEntry) Created() time.Time         { return time.Time{} }
func (e *stubNATSEntry) Delta() uint64              { return 0 }
func (e *stubNATSEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

type stubNATSKeyLister struct {
	ch chan string
}

func (l *stubNATSKeyLister) Keys() <-chan string { return l.ch }
func (l *stubNATSKeyLister) Stop() error         { return nil }

// stubNATSKeyValue is an in-memory NATSKeyValue with real revision semantics,
// so the optimistic Create/Update paths are exercised for real.
type stubNATSKeyValue struct {
	entries map[string]*stubNATSEntry
	nextRev uint64

	getErr    error
	putErr    error
	createErr error
	updateErr error

	// rejectUpdates makes Update fail with ErrKeyExists that many times,
	// simulating a concurrent writer landing first.
	rejectUpdates int
}

func newStubNATSKeyValue() *stubNATSKeyValue {
	return &stubNATSKeyValue{entries: make(map[string]*stubNATSEntry)}
}

func (kv *stubNATSKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	if kv.getErr != nil {
		return nil, kv.getErr
	}
	entry, ok := kv.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	return entry, nil
}

func (kv *stubNATSKeyValue) Put(key string, value []byte) (uint64, error) {
	if kv.putErr != nil {
		return 0, kv.putErr
	}
	kv.nextRev++
	kv.entries[key] = &stubNATSEntry{key: key, value: value, revision: kv.nextRev}
	return kv.nextRev, nil
}

func (kv *stubNATSKeyValue) Create(key string, value []byte) (uint64, error) {
	if kv.createErr != nil {
		return 0, kv.createErr
	}
	if _, ok := kv.entries[key]; ok {
		return 0, nats.ErrKeyExists
	}
	return kv.Put(key, value)
}

func (kv *stubNATSKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	if kv.updateErr != nil {
		return 0, kv.updateErr
	}
	if kv.rejectUpdates > 0 {
		kv.rejectUpdates--
		return 0, nats.ErrKeyExists
	}
	entry, ok := kv.entries[key]
	if !ok || entry.revision != last {
		return 0, nats.ErrKeyExists
	}
	return kv.Put(key, value)
}

func (kv *stubNATSKeyValue) Delete(key string, _ ...nats.DeleteOpt) error {
	if _, ok := kv.entries[key]; !ok {
		return nats.ErrKeyNotFound
	}
	delete(kv.entries, key)
	return nil
}

func (kv *stubNATSKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	delete(kv.entries, key)
	return nil
}

func (kv *stubNATSKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	ch := make(chan string, len(kv.entries))
	for key := range kv.entries {
		ch <- key
	}
	close(ch)
	return &stubNATSKeyLister{ch: ch}, nil
}

func TestNATSStoreNilKeyValueErrors(t *testing.T) {
	store := newNATSStore(nil, "")
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error when kv is nil")
	}
	if err := store.Set(ctx, "k", []byte("v"), 0); err == nil {
		t.Fatalf("expected set error when kv is nil")
	}
	if _, err := store.Increment(ctx, "k", 1); err == nil {
		t.Fatalf("expected increment error when kv is nil")
	}
	if _, err := store.ListAppend(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected list append error when kv is nil")
	}
	if _, err := store.ListRange(ctx, "k", 0, -1); err == nil {
		t.Fatalf("expected list range error when kv is nil")
	}
	if err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete error when kv is nil")
	}
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush error when kv is nil")
	}
}

func TestNATSStoreScalarRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	store := newNATSStore(kv, "pfx")

	if err := store.Set(ctx, "greeting", []byte("hello"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, "greeting")
	if err != nil || !ok || string(body) != "hello" {
		t.Fatalf("round trip failed: ok=%v err=%v body=%q", ok, err, body)
	}

	if err := store.Set(ctx, "fleeting", []byte("x"), 20*time.Millisecond); err != nil {
		t.Fatalf("set with ttl failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, err := store.Get(ctx, "fleeting"); err != nil || ok {
		t.Fatalf("expired key should be absent: ok=%v err=%v", ok, err)
	}
}

func TestNATSStoreIncrement(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	store := newNATSStore(kv, "pfx")

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "counter", 1)
		if err != nil || got != want {
			t.Fatalf("increment = %d err=%v, want %d", got, err, want)
		}
	}

	if err := store.Set(ctx, "text", []byte("not a number"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := store.Increment(ctx, "text", 1); err == nil {
		t.Fatalf("increment of non-numeric value should fail")
	}
}

func TestNATSStoreIncrementRetriesOnRevisionConflict(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	store := newNATSStore(kv, "pfx")

	if _, err := store.Increment(ctx, "counter", 1); err != nil {
		t.Fatalf("seed increment failed: %v", err)
	}

	// Reject the first update attempt; the store must re-read and retry.
	kv.rejectUpdates = 1
	got, err := store.Increment(ctx, "counter", 1)
	if err != nil || got != 2 {
		t.Fatalf("increment after conflict = %d err=%v, want 2", got, err)
	}
	if kv.rejectUpdates != 0 {
		t.Fatalf("update was never retried")
	}
}

func TestNATSStoreListAppendAndRange(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	store := newNATSStore(kv, "pfx")

	for i, entry := range []string{"a", "b", "c"} {
		length, err := store.ListAppend(ctx, "log", []byte(entry))
		if err != nil || length != int64(i+1) {
			t.Fatalf("append %d: length=%d err=%v", i, length, err)
		}
	}
	all, err := store.ListRange(ctx, "log", 0, -1)
	if err != nil || len(all) != 3 || string(all[1]) != "b" {
		t.Fatalf("list range failed: err=%v entries=%q", err, all)
	}
	tail, err := store.ListRange(ctx, "log", -2, -1)
	if err != nil || len(tail) != 2 || string(tail[0]) != "b" {
		t.Fatalf("tail range failed: err=%v entries=%q", err, tail)
	}
}

func TestNATSStoreFlushRespectsPrefix(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	mine := newNATSStore(kv, "pfx")
	other := newNATSStore(kv, "other")

	if err := mine.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := other.Set(ctx, "b", []byte("2"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := mine.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok, _ := mine.Get(ctx, "a"); ok {
		t.Fatalf("own key should be flushed")
	}
	if _, ok, _ := other.Get(ctx, "b"); !ok {
		t.Fatalf("other prefix must survive the flush")
	}
}

func TestNATSStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue()
	store := newNATSStore(kv, "pfx")

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
}
