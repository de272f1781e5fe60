package storage

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: backend is closed")
)

// IterateFunc is invoked for each key/value pair visited by Iterate.
// Returning false stops the scan early without error.
type IterateFunc func(key, value []byte) (bool, error)

// IterateParams bounds a range scan. From and To are inclusive.
type IterateParams struct {
	From      []byte
	To        []byte
	Ascending bool
}

// Backend is the bedrock ordered key-value store that the lookup store
// and the report event log are built on. Implementations must be safe for
// concurrent use; Write applies a batch atomically.
type Backend interface {
	// Get retrieves the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetCounter retrieves the counter stored under key, 0 if absent.
	GetCounter(ctx context.Context, key []byte) (int64, error)

	// Iterate visits all keys in [params.From, params.To] in key order.
	Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error

	// Write applies all operations in the batch atomically.
	Write(ctx context.Context, batch *Batch) error

	// DeleteRange removes all keys in [from, to] inclusive.
	DeleteRange(ctx context.Context, from, to []byte) error

	// Close releases the backend's resources.
	Close() error
}

type opKind int

const (
	opSet opKind = iota
	opClear
	opAdd
)

type operation struct {
	kind  opKind
	key   []byte
	value []byte
	delta int64
}

// Batch accumulates operations for a single atomic write.
type Batch struct {
	ops []operation
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Set upserts a value.
func (b *Batch) Set(key, value []byte) *Batch {
	b.ops = append(b.ops, operation{kind: opSet, key: key, value: value})
	return b
}

// Clear removes a key. Both the value and any counter stored under the
// same key are removed, so a counter can never outlive a paired record
// deleted in the same batch.
func (b *Batch) Clear(key []byte) *Batch {
	b.ops = append(b.ops, operation{kind: opClear, key: key})
	return b
}

// Add applies a signed delta to the counter stored under key, creating it
// at zero first if absent.
func (b *Batch) Add(key []byte, delta int64) *Batch {
	b.ops = append(b.ops, operation{kind: opAdd, key: key, delta: delta})
	return b
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}
