// Command pagecache demonstrates the memoizing fetcher against a live redis:
// it fetches a (slow) URL twice and reports the cache behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goforj/tracecache"
)

func main() {
	var (
		redisAddr = flag.String("redis", "127.0.0.1:6379", "redis address")
		url       = flag.String("url", "http://example.com", "url to fetch")
		ttl       = flag.Duration("ttl", 10*time.Second, "cache ttl")
		timeout   = flag.Duration("timeout", 30*time.Second, "http timeout")
	)
	flag.Parse()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	store := tracecache.NewRedisStore(ctx, client, tracecache.WithPrefix("pagecache"))

	fetcher := tracecache.NewFetcherWithTTL(store, tracecache.NewHTTPFetch(&http.Client{Timeout: *timeout}), *ttl).
		WithObserver(tracecache.ObserverFunc(func(_ context.Context, op, key string, hit bool, err error, dur time.Duration, driver tracecache.Driver) {
			log.Printf("%s %s driver=%s hit=%v dur=%s err=%v", op, key, driver, hit, dur, err)
		}))

	for i := 0; i < 2; i++ {
		page, err := fetcher.Fetch(ctx, *url)
		if err != nil {
			log.Fatalf("fetch %s: %v", *url, err)
		}
		fmt.Printf("fetch %d: %d bytes\n", i+1, len(page))
	}

	count, err := fetcher.AccessCount(ctx, *url)
	if err != nil {
		log.Fatalf("access count: %v", err)
	}
	fmt.Printf("%s requested %d times\n", *url, count)
}
