package lookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the remote-cache variant of the lookup store backed by
// Redis. Expiry is native, so PurgeExpired is a no-op and CounterIncr
// returns the post-increment value atomically.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(config Config) *RedisStore {
	port := config.Port
	if port == 0 {
		port = 6379
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.Host, port),
			Password: config.Password,
			DB:       config.Database,
		}),
	}
}

func (s *RedisStore) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, string(key), value, ttl).Err()
}

func (s *RedisStore) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	value, err := s.client.Get(ctx, string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) KeyExists(ctx context.Context, key []byte) (bool, error) {
	count, err := s.client.Exists(ctx, string(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *RedisStore) KeyDelete(ctx context.Context, key []byte) error {
	return s.client.Del(ctx, string(key)).Err()
}

func (s *RedisStore) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, string(key), delta)
	if ttl > 0 {
		pipe.Expire(ctx, string(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) CounterGet(ctx context.Context, key []byte) (int64, error) {
	value, err := s.client.Get(ctx, string(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

func (s *RedisStore) CounterDelete(ctx context.Context, key []byte) error {
	return s.client.Del(ctx, string(key)).Err()
}

// PurgeExpired is a no-op: Redis expires entries natively.
func (s *RedisStore) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
