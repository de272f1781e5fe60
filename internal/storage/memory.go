package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an ordered in-memory Backend. It implements the same
// contracts as the durable backends and is the default when no database
// is configured; tests use it to exercise the full pipeline without
// external dependencies.
type MemoryBackend struct {
	mu       sync.RWMutex
	values   map[string][]byte
	counters map[string]int64
	closed   bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:   make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	value, ok := m.values[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryBackend) GetCounter(ctx context.Context, key []byte) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	return m.counters[string(key)], nil
}

func (m *MemoryBackend) Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}

	// Snapshot matching keys so the callback runs without holding the lock.
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		kb := []byte(k)
		if bytes.Compare(kb, params.From) >= 0 && bytes.Compare(kb, params.To) <= 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if !params.Ascending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	snapshot := make([][]byte, len(keys))
	for i, k := range keys {
		v := m.values[k]
		snapshot[i] = make([]byte, len(v))
		copy(snapshot[i], v)
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		cont, err := fn([]byte(k), snapshot[i])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (m *MemoryBackend) Write(ctx context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, op := range batch.ops {
		key := string(op.key)
		switch op.kind {
		case opSet:
			value := make([]byte, len(op.value))
			copy(value, op.value)
			m.values[key] = value
		case opClear:
			delete(m.values, key)
			delete(m.counters, key)
		case opAdd:
			m.counters[key] += op.delta
		}
	}
	return nil
}

func (m *MemoryBackend) DeleteRange(ctx context.Context, from, to []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for k := range m.values {
		kb := []byte(k)
		if bytes.Compare(kb, from) >= 0 && bytes.Compare(kb, to) <= 0 {
			delete(m.values, k)
		}
	}
	for k := range m.counters {
		kb := []byte(k)
		if bytes.Compare(kb, from) >= 0 && bytes.Compare(kb, to) <= 0 {
			delete(m.counters, k)
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.values = make(map[string][]byte)
	m.counters = make(map[string]int64)
	return nil
}
