package lookup

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/busybox42/tlsrptd/internal/metrics"
	"github.com/busybox42/tlsrptd/internal/storage"
)

// now returns the current unix timestamp; overridable in tests.
var now = func() uint64 { return uint64(time.Now().Unix()) }

// purgeBatchSize caps the number of operations in a single deletion
// batch during an expiry sweep.
const purgeBatchSize = 1000

// neverExpires marks entries without a TTL.
const neverExpires = math.MaxUint64

// KVStore is the transactional key-value variant of the lookup store,
// built on the bedrock ordered storage backend. It is the only variant
// supporting the full contract. Expiry timestamps are stored inline
// ahead of each value and checked at read time, so an expired entry
// behaves as absent before the sweeper removes it.
type KVStore struct {
	backend storage.Backend
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps an existing storage backend.
func NewKVStore(backend storage.Backend) *KVStore {
	return &KVStore{backend: backend}
}

// NewKVStoreFromConfig opens a SQLite-backed store at config.Path, or an
// in-memory one when no path is configured.
func NewKVStoreFromConfig(config Config) (*KVStore, error) {
	if config.Path == "" {
		return NewKVStore(storage.NewMemoryBackend()), nil
	}
	backend, err := storage.OpenSQLite(storage.SQLiteConfig{Path: config.Path})
	if err != nil {
		return nil, err
	}
	return NewKVStore(backend), nil
}

func lookupKey(key []byte) []byte {
	return append([]byte{storage.ClassLookupKey}, key...)
}

func counterKey(key []byte) []byte {
	return append([]byte{storage.ClassCounter}, key...)
}

func counterExpiryKey(key []byte) []byte {
	return append([]byte{storage.ClassCounterExpiry}, key...)
}

func encodeExpiry(expiresAt uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, storage.U64Len), expiresAt)
}

func expiresAt(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return neverExpires
	}
	return now() + uint64(ttl/time.Second)
}

func (s *KVStore) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	stored := make([]byte, 0, storage.U64Len+len(value))
	stored = binary.BigEndian.AppendUint64(stored, expiresAt(ttl))
	stored = append(stored, value...)

	batch := storage.NewBatch().Set(lookupKey(key), stored)
	return s.backend.Write(ctx, batch)
}

func (s *KVStore) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	stored, err := s.backend.Get(ctx, lookupKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	expires, err := storage.DecodeUint64(stored, 0)
	if err != nil {
		return nil, fmt.Errorf("lookup: invalid stored entry: %w", err)
	}
	if expires <= now() {
		return nil, nil
	}
	return stored[storage.U64Len:], nil
}

func (s *KVStore) KeyExists(ctx context.Context, key []byte) (bool, error) {
	value, err := s.KeyGet(ctx, key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (s *KVStore) KeyDelete(ctx context.Context, key []byte) error {
	return s.backend.Write(ctx, storage.NewBatch().Clear(lookupKey(key)))
}

// CounterIncr writes the counter's expiry record and the delta in one
// atomic batch. The bedrock backend cannot return the post-increment
// value, so 0 is returned and callers re-read with CounterGet. That
// re-read is not linearizable under concurrent writers; the rate limiter
// accepts this as documented best-effort behavior.
func (s *KVStore) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	batch := storage.NewBatch()
	if ttl > 0 {
		batch.Set(counterExpiryKey(key), encodeExpiry(now()+uint64(ttl/time.Second)))
	}
	batch.Add(counterKey(key), delta)

	if err := s.backend.Write(ctx, batch); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *KVStore) CounterGet(ctx context.Context, key []byte) (int64, error) {
	return s.backend.GetCounter(ctx, counterKey(key))
}

func (s *KVStore) CounterDelete(ctx context.Context, key []byte) error {
	batch := storage.NewBatch().
		Clear(counterKey(key)).
		Clear(counterExpiryKey(key))
	return s.backend.Write(ctx, batch)
}

// PurgeExpired scans the TTL'd key and counter namespaces in ascending
// key order and physically deletes entries past their expiry, in batches
// of at most purgeBatchSize operations. A counter and its expiry record
// are always cleared in the same batch.
func (s *KVStore) PurgeExpired(ctx context.Context) error {
	if err := s.purgeKeys(ctx); err != nil {
		return err
	}
	return s.purgeCounters(ctx)
}

func (s *KVStore) purgeKeys(ctx context.Context) error {
	from, to := storage.ClassRange(storage.ClassLookupKey)
	current := now()

	var expired [][]byte
	err := s.backend.Iterate(ctx, storage.IterateParams{From: from, To: to, Ascending: true},
		func(key, value []byte) (bool, error) {
			expires, err := storage.DecodeUint64(value, 0)
			if err != nil {
				return false, err
			}
			if expires <= current {
				k := make([]byte, len(key)-1)
				copy(k, key[1:])
				expired = append(expired, k)
			}
			return true, nil
		})
	if err != nil {
		return err
	}

	batch := storage.NewBatch()
	for _, key := range expired {
		batch.Clear(lookupKey(key))
		if batch.Len() >= purgeBatchSize {
			if err := s.backend.Write(ctx, batch); err != nil {
				return err
			}
			batch = storage.NewBatch()
		}
	}
	if batch.Len() > 0 {
		if err := s.backend.Write(ctx, batch); err != nil {
			return err
		}
	}
	metrics.Get().PurgeDeleted.Add(float64(len(expired)))
	return nil
}

func (s *KVStore) purgeCounters(ctx context.Context) error {
	from, to := storage.ClassRange(storage.ClassCounterExpiry)
	current := now()

	var expired [][]byte
	err := s.backend.Iterate(ctx, storage.IterateParams{From: from, To: to, Ascending: true},
		func(key, value []byte) (bool, error) {
			expires, err := storage.DecodeUint64(value, 0)
			if err != nil {
				return false, err
			}
			if expires <= current {
				k := make([]byte, len(key)-1)
				copy(k, key[1:])
				expired = append(expired, k)
			}
			return true, nil
		})
	if err != nil {
		return err
	}

	batch := storage.NewBatch()
	for _, key := range expired {
		batch.Clear(counterKey(key))
		batch.Clear(counterExpiryKey(key))
		if batch.Len() >= purgeBatchSize {
			if err := s.backend.Write(ctx, batch); err != nil {
				return err
			}
			batch = storage.NewBatch()
		}
	}
	if batch.Len() > 0 {
		if err := s.backend.Write(ctx, batch); err != nil {
			return err
		}
	}
	metrics.Get().PurgeDeleted.Add(float64(len(expired)))
	return nil
}

func (s *KVStore) Close() error {
	return s.backend.Close()
}
