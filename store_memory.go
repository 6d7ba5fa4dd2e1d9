package tracecache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	cache *gocache.Cache
	mu    sync.Mutex
	lists map[string][][]byte
}

// newMemoryStore keeps scalars in go-cache and lists in a guarded map,
// since go-cache has no list primitive. History lists never expire.
func newMemoryStore(cleanupInterval time.Duration) Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
		lists: make(map[string][][]byte),
	}
}

func (s *memoryStore) Driver() Driver {
	return DriverMemory
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.cache.Set(key, cloneBytes(value), ttl)
	return nil
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if item, ok := s.cache.Get(key); ok {
		body, ok := item.([]byte)
		if !ok {
			return 0, errParseKey(key)
		}
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return 0, errParseKey(key)
		}
		current = n
	}
	next := current + delta
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), gocache.NoExpiration)
	return next, nil
}

func (s *memoryStore) ListAppend(_ context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], cloneBytes(value))
	return int64(len(s.lists[key])), nil
}

func (s *memoryStore) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.lists[key]
	lo, hi := rangeBounds(int64(len(entries)), start, stop)
	out := make([][]byte, 0, hi-lo)
	for _, entry := range entries[lo:hi] {
		out = append(out, cloneBytes(entry))
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	s.mu.Lock()
	delete(s.lists, key)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Flush()
	s.mu.Lock()
	s.lists = make(map[string][][]byte)
	s.mu.Unlock()
	return nil
}
