package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// QueryStore is the relational-query variant of the lookup store: each
// supported operation maps to a configured parametrized SQL statement
// receiving the key as its single argument. Counters, TTLs and expiry
// sweeps have no SQL mapping and return ErrUnsupported.
type QueryStore struct {
	db          *sql.DB
	getQuery    string
	setQuery    string
	existsQuery string
	deleteQuery string
}

var _ Store = (*QueryStore)(nil)

// NewQueryStore opens a database connection for the configured driver
// ("mysql", "postgres" or "sqlite3") and binds the configured queries.
func NewQueryStore(config Config) (*QueryStore, error) {
	driver := config.Driver
	switch driver {
	case "mysql", "sqlite3":
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("lookup: unsupported query driver: %s", config.Driver)
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &QueryStore{
		db:          db,
		getQuery:    config.GetQuery,
		setQuery:    config.SetQuery,
		existsQuery: config.ExistsQuery,
		deleteQuery: config.DeleteQuery,
	}, nil
}

func (s *QueryStore) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	if s.setQuery == "" {
		return ErrUnsupported
	}
	_, err := s.db.ExecContext(ctx, s.setQuery, string(key), string(value))
	return err
}

func (s *QueryStore) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	if s.getQuery == "" {
		return nil, ErrUnsupported
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getQuery, string(key)).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (s *QueryStore) KeyExists(ctx context.Context, key []byte) (bool, error) {
	query := s.existsQuery
	if query == "" {
		query = s.getQuery
	}
	if query == "" {
		return false, ErrUnsupported
	}
	var value any
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *QueryStore) KeyDelete(ctx context.Context, key []byte) error {
	if s.deleteQuery == "" {
		return ErrUnsupported
	}
	_, err := s.db.ExecContext(ctx, s.deleteQuery, string(key))
	return err
}

func (s *QueryStore) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	return 0, ErrUnsupported
}

func (s *QueryStore) CounterGet(ctx context.Context, key []byte) (int64, error) {
	return 0, ErrUnsupported
}

func (s *QueryStore) CounterDelete(ctx context.Context, key []byte) error {
	return ErrUnsupported
}

// PurgeExpired is a no-op: query-backed tables carry no TTL metadata.
func (s *QueryStore) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *QueryStore) Close() error {
	return s.db.Close()
}
