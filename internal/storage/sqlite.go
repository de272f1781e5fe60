package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrWorkerFailed is returned when a database worker exits without
// delivering a result for a submitted job.
var ErrWorkerFailed = errors.New("storage: database worker failed")

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path     string
	MaxConns int
	Workers  int
}

// SQLiteBackend implements Backend on a single SQLite database. All
// database work runs on a dedicated worker pool; callers wait on a
// single-use completion channel so a dying worker surfaces as an error
// instead of a hang.
type SQLiteBackend struct {
	db     *sql.DB
	jobs   chan sqliteJob
	logger *slog.Logger

	closeMu sync.RWMutex
	closed  bool
}

var _ Backend = (*SQLiteBackend)(nil)

type sqliteJob struct {
	run  func() error
	done chan error
}

// OpenSQLite opens (creating if needed) the database at cfg.Path and
// starts the worker pool.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000",
		cfg.Path,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)

	s := &SQLiteBackend{
		db:   db,
		jobs: make(chan sqliteJob),
		logger: slog.Default().With(
			"component", "sqlite-storage",
			"database", cfg.Path,
		),
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}

	return s, nil
}

func (s *SQLiteBackend) createTables() error {
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS v (
			k BLOB PRIMARY KEY,
			v BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS c (
			k BLOB PRIMARY KEY,
			v INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *SQLiteBackend) worker() {
	for job := range s.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("database worker panicked", "panic", r)
					close(job.done)
				}
			}()
			job.done <- job.run()
		}()
	}
}

// spawn submits f to the worker pool and waits for its completion
// channel. The channel is buffered so the worker never blocks on a
// caller that has already given up. Submission holds a read lock so
// Close cannot close the job channel under a concurrent send.
func (s *SQLiteBackend) spawn(ctx context.Context, f func() error) error {
	done := make(chan error, 1)

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return ErrClosed
	}
	select {
	case s.jobs <- sqliteJob{run: f, done: done}:
		s.closeMu.RUnlock()
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err, ok := <-done:
		if !ok {
			return ErrWorkerFailed
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.spawn(ctx, func() error {
		row := s.db.QueryRow(`SELECT v FROM v WHERE k = ?`, key)
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteBackend) GetCounter(ctx context.Context, key []byte) (int64, error) {
	var value int64
	err := s.spawn(ctx, func() error {
		row := s.db.QueryRow(`SELECT v FROM c WHERE k = ?`, key)
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				value = 0
				return nil
			}
			return fmt.Errorf("failed to read counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *SQLiteBackend) Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error {
	order := "ASC"
	if !params.Ascending {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT k, v FROM v WHERE k >= ? AND k <= ? ORDER BY k %s`, order)

	return s.spawn(ctx, func() error {
		rows, err := s.db.Query(query, params.From, params.To)
		if err != nil {
			return fmt.Errorf("failed to iterate: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var key, value []byte
			if err := rows.Scan(&key, &value); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			cont, err := fn(key, value)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return rows.Err()
	})
}

func (s *SQLiteBackend) Write(ctx context.Context, batch *Batch) error {
	return s.spawn(ctx, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for _, op := range batch.ops {
			switch op.kind {
			case opSet:
				_, err = tx.Exec(
					`INSERT INTO v (k, v) VALUES (?, ?)
					 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
					op.key, op.value,
				)
			case opClear:
				if _, err = tx.Exec(`DELETE FROM v WHERE k = ?`, op.key); err == nil {
					_, err = tx.Exec(`DELETE FROM c WHERE k = ?`, op.key)
				}
			case opAdd:
				_, err = tx.Exec(
					`INSERT INTO c (k, v) VALUES (?, ?)
					 ON CONFLICT(k) DO UPDATE SET v = v + excluded.v`,
					op.key, op.delta,
				)
			}
			if err != nil {
				return fmt.Errorf("failed to apply batch operation: %w", err)
			}
		}

		return tx.Commit()
	})
}

func (s *SQLiteBackend) DeleteRange(ctx context.Context, from, to []byte) error {
	return s.spawn(ctx, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM v WHERE k >= ? AND k <= ?`, from, to); err != nil {
			return fmt.Errorf("failed to delete range: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM c WHERE k >= ? AND k <= ?`, from, to); err != nil {
			return fmt.Errorf("failed to delete range: %w", err)
		}

		return tx.Commit()
	})
}

func (s *SQLiteBackend) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.jobs)
	return s.db.Close()
}
