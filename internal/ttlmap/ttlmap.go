// Package ttlmap provides a process-wide TTL map used for session and
// access-token caches. Expiry is checked lazily on every read, so a
// background sweep is only needed to bound memory, never for
// correctness.
package ttlmap

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Map is a concurrency-safe map whose entries carry an expiry deadline.
type Map[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

// New creates an empty map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{items: make(map[K]entry[V])}
}

// InsertWithTTL stores value under key until the TTL elapses. A zero or
// negative ttl stores nothing.
func (m *Map[K, V]) InsertWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// GetWithTTL retrieves a live value. Expired entries behave as absent
// and are removed on access.
func (m *Map[K, V]) GetWithTTL(key K) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; the entry may have been renewed.
		if current, ok := m.items[key]; ok && time.Now().After(current.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a key.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, including not yet swept
// expired ones.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// SweepExpired removes expired entries and returns how many were
// deleted.
func (m *Map[K, V]) SweepExpired() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.items {
		if now.After(e.expiresAt) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}
