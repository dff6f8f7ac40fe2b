// Package postgres backs the cache with a shared Postgres table, the store
// every worker process sees. Per-key mutual exclusion rides on
// transaction-scoped advisory locks: non-blocking, keyed by a hash of the
// cache key, covering keys that have no row yet, and released by the server
// itself on commit, rollback, or connection death.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolffiex/peakcache/metrics"
	"github.com/wolffiex/peakcache/store"
)

const (
	schemaSQL = `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`
	indexSQL = `
		CREATE INDEX IF NOT EXISTS cache_entries_expires_idx
		ON cache_entries (expires_at)`

	lockSQL = `SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`
	readSQL = `
		SELECT value, expires_at FROM cache_entries
		WHERE key = $1 AND expires_at > now()`
	upsertSQL = `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	sweepSQL = `DELETE FROM cache_entries WHERE expires_at <= now()`
	clearSQL = `DELETE FROM cache_entries`
	statsSQL = `
		SELECT count(*), count(*) FILTER (WHERE expires_at <= now())
		FROM cache_entries`
)

// Store is the Postgres-backed entry store and lock primitive.
type Store struct {
	db  *sql.DB
	reg *metrics.Registry
	log log.Interface
}

// Option adjusts Store construction.
type Option func(*Store)

// WithLogger overrides the store's logger.
func WithLogger(l log.Interface) Option {
	return func(s *Store) { s.log = l }
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, reg *metrics.Registry, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewFromDB(db, reg, opts...), nil
}

// NewFromDB wraps an existing database handle. The caller keeps ownership of
// the handle's lifecycle unless Close is used.
func NewFromDB(db *sql.DB, reg *metrics.Registry, opts ...Option) *Store {
	s := &Store{db: db, reg: reg, log: log.Log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema idempotently creates the cache table and its expiry index.
// Concurrent callers may race on the IF NOT EXISTS statements; any error is
// reported but processes should keep running with degraded caching.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{schemaSQL, indexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.WithError(err).Error("cache schema creation failed")
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Read returns the entry for key only if it is unexpired, else nil.
func (s *Store) Read(ctx context.Context, key string) (*store.Entry, error) {
	s.reg.Inc(metrics.ReadsTotal)

	var (
		value     []byte
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, readSQL, key).Scan(&value, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.reg.Inc(metrics.MissesTotal)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %q: %w", key, err)
	}

	return &store.Entry{Key: key, Value: value, ExpiresAt: expiresAt}, nil
}

// Upsert inserts or overwrites the entry atomically.
func (s *Store) Upsert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.reg.Inc(metrics.UpsertsTotal)

	expiresAt := time.Now().UTC().Add(ttl)
	if _, err := s.db.ExecContext(ctx, upsertSQL, key, string(value), expiresAt); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

// SweepExpired deletes all rows whose expiry has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, sweepSQL)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll deletes every row, expired or not.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, clearSQL)
	if err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports total and expired row counts.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, statsSQL).Scan(&st.Total, &st.Expired)
	if err != nil {
		return store.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// TryLock implements store.Locker with one non-blocking attempt.
//
// The advisory lock is taken first so that a key with no row at all still
// admits only one computing process. On a hit the transaction commits
// immediately; nothing was written and the lock is gone. Only the acquired
// path leaves the transaction open, owned by the returned guard.
func (s *Store) TryLock(ctx context.Context, key string) (store.Lease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Lease{}, fmt.Errorf("begin: %w", err)
	}

	var locked bool
	if err := tx.QueryRowContext(ctx, lockSQL, key).Scan(&locked); err != nil {
		_ = tx.Rollback()
		return store.Lease{}, fmt.Errorf("advisory lock %q: %w", key, err)
	}
	if !locked {
		_ = tx.Rollback()
		return store.Lease{Outcome: store.OutcomeBusy}, nil
	}

	var (
		value     []byte
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx, readSQL, key).Scan(&value, &expiresAt)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return store.Lease{}, fmt.Errorf("release after hit %q: %w", key, err)
		}
		return store.Lease{Outcome: store.OutcomeHit, Value: value}, nil
	case errors.Is(err, sql.ErrNoRows):
		return store.Lease{
			Outcome: store.OutcomeAcquired,
			Guard:   &guard{tx: tx, key: key, reg: s.reg},
		}, nil
	default:
		_ = tx.Rollback()
		return store.Lease{}, fmt.Errorf("read under lock %q: %w", key, err)
	}
}

// guard owns the open transaction behind an acquired lease and releases it
// exactly once.
type guard struct {
	tx   *sql.Tx
	key  string
	reg  *metrics.Registry
	once sync.Once
}

var errGuardDone = errors.New("postgres: guard already committed or aborted")

func (g *guard) Commit(ctx context.Context, value []byte, ttl time.Duration) error {
	err := errGuardDone
	g.once.Do(func() {
		expiresAt := time.Now().UTC().Add(ttl)
		if _, e := g.tx.ExecContext(ctx, upsertSQL, g.key, string(value), expiresAt); e != nil {
			_ = g.tx.Rollback()
			err = fmt.Errorf("upsert %q: %w", g.key, e)
			return
		}
		if e := g.tx.Commit(); e != nil {
			err = fmt.Errorf("commit %q: %w", g.key, e)
			return
		}
		g.reg.Inc(metrics.UpsertsTotal)
		err = nil
	})
	return err
}

func (g *guard) Abort(ctx context.Context) error {
	err := errGuardDone
	g.once.Do(func() {
		if e := g.tx.Rollback(); e != nil {
			err = fmt.Errorf("abort %q: %w", g.key, e)
			return
		}
		err = nil
	})
	return err
}
