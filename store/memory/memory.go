// Package memory is an in-process storage backend. It implements the same
// store and lock contract as the Postgres backend, which makes it the test
// double for the facade and a usable backend for single-process deployments
// where cross-process coordination is not needed.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolffiex/peakcache/metrics"
	"github.com/wolffiex/peakcache/store"
)

// Store is a concurrency-safe in-memory entry store with a per-key lock
// table standing in for the database's advisory locks.
type Store struct {
	mu      sync.Mutex
	entries map[string]store.Entry
	held    map[string]bool
	reg     *metrics.Registry
}

// New initializes and returns a new Store.
func New(reg *metrics.Registry) *Store {
	return &Store{
		entries: make(map[string]store.Entry),
		held:    make(map[string]bool),
		reg:     reg,
	}
}

// EnsureSchema is a no-op; the maps are the schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

// Read returns the entry for key only if it is unexpired, else nil.
func (s *Store) Read(ctx context.Context, key string) (*store.Entry, error) {
	s.reg.Inc(metrics.ReadsTotal)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.IsExpired(time.Now()) {
		s.reg.Inc(metrics.MissesTotal)
		return nil, nil
	}

	out := entry
	return &out, nil
}

// Upsert inserts or overwrites the entry for key.
func (s *Store) Upsert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.reg.Inc(metrics.UpsertsTotal)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = store.Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

// SweepExpired removes all expired entries and returns the count.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	var removed int64

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.entries {
		if v.IsExpired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// ClearAll removes every entry and returns the count.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.entries))
	s.entries = make(map[string]store.Entry)
	return removed, nil
}

// Stats reports total and expired entry counts.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := store.Stats{Total: int64(len(s.entries))}
	for _, v := range s.entries {
		if v.IsExpired(now) {
			st.Expired++
		}
	}
	return st, nil
}

// TryLock implements store.Locker. The held map plays the role of the
// database's per-key advisory locks: a key in the map is owned by some
// in-flight computation, and everyone else sees busy.
func (s *Store) TryLock(ctx context.Context, key string) (store.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held[key] {
		return store.Lease{Outcome: store.OutcomeBusy}, nil
	}

	if entry, ok := s.entries[key]; ok && !entry.IsExpired(time.Now()) {
		return store.Lease{
			Outcome: store.OutcomeHit,
			Value:   append([]byte(nil), entry.Value...),
		}, nil
	}

	s.held[key] = true
	return store.Lease{
		Outcome: store.OutcomeAcquired,
		Guard:   &guard{store: s, key: key},
	}, nil
}

// guard releases the per-key lock exactly once, on commit or abort.
type guard struct {
	store *Store
	key   string
	once  sync.Once
}

var errGuardDone = errors.New("memory: guard already committed or aborted")

func (g *guard) Commit(ctx context.Context, value []byte, ttl time.Duration) error {
	err := errGuardDone
	g.once.Do(func() {
		g.store.mu.Lock()
		defer g.store.mu.Unlock()

		g.store.entries[g.key] = store.Entry{
			Key:       g.key,
			Value:     append([]byte(nil), value...),
			ExpiresAt: time.Now().Add(ttl),
		}
		delete(g.store.held, g.key)
		g.store.reg.Inc(metrics.UpsertsTotal)
		err = nil
	})
	return err
}

func (g *guard) Abort(ctx context.Context) error {
	err := errGuardDone
	g.once.Do(func() {
		g.store.mu.Lock()
		defer g.store.mu.Unlock()

		delete(g.store.held, g.key)
		err = nil
	})
	return err
}
