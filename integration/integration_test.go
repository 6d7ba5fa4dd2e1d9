//go:build integration

package integration_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	goredis "github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goforj/tracecache"
	"github.com/goforj/tracecache/tracetest"
)

func startRedisContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-bookworm",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis container host: %v", err)
	}
	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis container port: %v", err)
	}
	return container, net.JoinHostPort(host, port.Port())
}

func newRedisStore(t *testing.T, ctx context.Context) tracecache.Store {
	t.Helper()
	container, addr := startRedisContainer(t, ctx)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(shutdownCtx)
	})
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return tracecache.NewRedisStore(ctx, client, tracecache.WithPrefix("itest"))
}

func TestRedisStoreContract(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t, ctx)
	tracetest.RunStoreContract(t, store, tracetest.Options{
		TTL:     time.Second,
		TTLWait: 1500 * time.Millisecond,
	})
}

func TestRedisEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t, ctx)

	cache, err := tracecache.New(ctx, store)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	key, err := cache.Store(ctx, "hello")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	text, ok, err := cache.GetString(ctx, key)
	if err != nil || !ok || text != "hello" {
		t.Fatalf("get string: ok=%v err=%v text=%q", ok, err, text)
	}
	calls, err := tracecache.Calls(ctx, store, tracecache.StoreIdentity)
	if err != nil || calls != 1 {
		t.Fatalf("calls = %d err=%v, want 1", calls, err)
	}

	invoked := 0
	fetcher := tracecache.NewFetcherWithTTL(store, func(context.Context, string) (string, error) {
		invoked++
		return "page body", nil
	}, time.Second)

	for i := 0; i < 2; i++ {
		page, err := fetcher.Fetch(ctx, "http://example.com")
		if err != nil || page != "page body" {
			t.Fatalf("fetch %d: err=%v page=%q", i, err, page)
		}
	}
	if invoked != 1 {
		t.Fatalf("underlying fetch invoked %d times, want 1", invoked)
	}
	count, err := fetcher.AccessCount(ctx, "http://example.com")
	if err != nil || count != 2 {
		t.Fatalf("access count = %d err=%v, want 2", count, err)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := fetcher.Fetch(ctx, "http://example.com"); err != nil {
		t.Fatalf("fetch after ttl: %v", err)
	}
	if invoked != 2 {
		t.Fatalf("underlying fetch invoked %d times after ttl, want 2", invoked)
	}

	var report strings.Builder
	if err := tracecache.Replay(ctx, store, tracecache.StoreIdentity, &report); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.HasPrefix(report.String(), "Cache.Store was called 1 times:") {
		t.Fatalf("unexpected replay report: %q", report.String())
	}
}
