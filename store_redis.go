package tracecache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the store.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

type redisStore struct {
	client RedisClient
	prefix string
}

func newRedisStore(client RedisClient, prefix string) Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *redisStore) Driver() Driver {
	return DriverRedis
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errors.New("redis store client unavailable")
	}
	value, err := s.client.Get(ctx, s.storeKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("redis store client unavailable")
	}
	if ttl < 0 {
		ttl = 0
	}
	// expiration 0 means the key persists, matching the contract.
	return s.client.Set(ctx, s.storeKey(key), value, ttl).Err()
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if s.client == nil {
		return 0, errors.New("redis store client unavailable")
	}
	return s.client.IncrBy(ctx, s.storeKey(key), delta).Result()
}

func (s *redisStore) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	if s.client == nil {
		return 0, errors.New("redis store client unavailable")
	}
	return s.client.RPush(ctx, s.storeKey(key), value).Result()
}

func (s *redisStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.client == nil {
		return nil, errors.New("redis store client unavailable")
	}
	entries, err := s.client.LRange(ctx, s.storeKey(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		out = append(out, []byte(entry))
	}
	return out, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errors.New("redis store client unavailable")
	}
	return s.client.Del(ctx, s.storeKey(key)).Err()
}

func (s *redisStore) Flush(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis store client unavailable")
	}
	pattern := s.storeKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) storeKey(key string) string {
	return s.prefix + ":" + key
}
