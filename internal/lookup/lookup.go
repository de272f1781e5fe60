// Package lookup provides a rate-limited key-value facade over several
// heterogeneous storage backends: the transactional KV store, remote
// caches (Redis, Memcached), parametrized SQL queries, in-memory lists
// and LDAP directories. Only the transactional KV variant supports every
// operation; the others return ErrUnsupported for capability gaps rather
// than silently succeeding.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned by store variants that lack the requested
// capability. It is always surfaced to the caller.
var ErrUnsupported = errors.New("lookup: operation not supported by this store")

// Store is the contract every lookup backend variant must honor.
//
// Reads of entries whose TTL has passed behave as absent whether or not
// the sweeper has physically removed them yet. A zero ttl means the
// entry never expires.
type Store interface {
	// KeySet upserts a key-value pair with an optional TTL.
	KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error

	// KeyGet retrieves a value, returning (nil, nil) for absent or
	// logically expired entries.
	KeyGet(ctx context.Context, key []byte) ([]byte, error)

	// KeyExists reports whether a live entry exists for key.
	KeyExists(ctx context.Context, key []byte) (bool, error)

	// KeyDelete removes a key. Deleting an absent key is not an error.
	KeyDelete(ctx context.Context, key []byte) error

	// CounterIncr applies a signed delta to a counter and returns its new
	// value when the backend supports an atomic increment-and-return.
	// Backends that cannot return the post-increment value return 0;
	// callers needing the value must re-read with CounterGet.
	CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error)

	// CounterGet retrieves a counter's value, 0 if absent.
	CounterGet(ctx context.Context, key []byte) (int64, error)

	// CounterDelete removes a counter and its expiry record.
	CounterDelete(ctx context.Context, key []byte) error

	// PurgeExpired physically removes entries whose TTL has passed.
	// Backends with native expiry treat this as a no-op.
	PurgeExpired(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Config selects and configures a store variant.
type Config struct {
	Type     string // "kv", "redis", "memcached", "query", "list", "ldap"
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	Database int

	// KV variant
	Path string // sqlite database path, empty for in-memory

	// Query variant
	Driver      string // "mysql", "postgres" or "sqlite3"
	DSN         string
	GetQuery    string
	SetQuery    string
	ExistsQuery string
	DeleteQuery string

	// List variant
	Entries []string

	// LDAP variant
	BaseDN     string
	BindDN     string
	Filter     string
	Attribute  string
	TLSEnabled bool
}

// Factory creates a store variant from configuration.
func Factory(config Config) (Store, error) {
	switch config.Type {
	case "kv", "":
		return NewKVStoreFromConfig(config)
	case "redis":
		return NewRedisStore(config), nil
	case "memcached":
		return NewMemcachedStore(config), nil
	case "query":
		return NewQueryStore(config)
	case "list":
		return NewMemoryList(config.Entries)
	case "ldap":
		return NewLDAPStore(config), nil
	default:
		return nil, fmt.Errorf("lookup: unsupported store type: %s", config.Type)
	}
}
