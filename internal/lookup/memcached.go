package lookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore is the remote-cache variant of the lookup store backed
// by Memcached. Expiry is native, so PurgeExpired is a no-op. Memcached
// can only increment existing numeric items, so CounterIncr seeds the
// counter on a miss and retries once to cover racing first writers.
type MemcachedStore struct {
	client *memcache.Client
}

var _ Store = (*MemcachedStore)(nil)

// NewMemcachedStore creates a Memcached-backed store.
func NewMemcachedStore(config Config) *MemcachedStore {
	port := config.Port
	if port == 0 {
		port = 11211
	}
	return &MemcachedStore{
		client: memcache.New(fmt.Sprintf("%s:%d", config.Host, port)),
	}
}

func ttlSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	return int32(ttl / time.Second)
}

func (s *MemcachedStore) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	return s.client.Set(&memcache.Item{
		Key:        string(key),
		Value:      value,
		Expiration: ttlSeconds(ttl),
	})
}

func (s *MemcachedStore) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	item, err := s.client.Get(string(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return item.Value, nil
}

func (s *MemcachedStore) KeyExists(ctx context.Context, key []byte) (bool, error) {
	value, err := s.KeyGet(ctx, key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (s *MemcachedStore) KeyDelete(ctx context.Context, key []byte) error {
	if err := s.client.Delete(string(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

func (s *MemcachedStore) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 {
		value, err := s.client.Decrement(string(key), uint64(-delta))
		if err != nil {
			if errors.Is(err, memcache.ErrCacheMiss) {
				return 0, nil
			}
			return 0, err
		}
		return int64(value), nil
	}

	value, err := s.client.Increment(string(key), uint64(delta))
	if err == nil {
		return int64(value), nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, err
	}

	// Seed the counter; on a lost race increment the winner's item.
	err = s.client.Add(&memcache.Item{
		Key:        string(key),
		Value:      []byte(strconv.FormatInt(delta, 10)),
		Expiration: ttlSeconds(ttl),
	})
	if err == nil {
		return delta, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, err
	}
	value, err = s.client.Increment(string(key), uint64(delta))
	if err != nil {
		return 0, err
	}
	return int64(value), nil
}

func (s *MemcachedStore) CounterGet(ctx context.Context, key []byte) (int64, error) {
	item, err := s.client.Get(string(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(string(item.Value), 10, 64)
}

func (s *MemcachedStore) CounterDelete(ctx context.Context, key []byte) error {
	return s.KeyDelete(ctx, key)
}

// PurgeExpired is a no-op: Memcached expires entries natively.
func (s *MemcachedStore) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
