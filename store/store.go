// Package store defines the storage contract for the memoization cache: a
// durable entry store, a per-key non-blocking lock primitive, and the
// Coordinator that turns the two into the hit/acquired/busy decision.
package store

import (
	"context"
	"time"
)

// Store is durable CRUD over cache entries, independent of locking policy.
//
// Implementations absorb their own transport failures where the contract
// says so; callers treat a nil entry as a miss regardless of cause.
type Store interface {
	// EnsureSchema idempotently creates backing structures. Safe to call
	// concurrently from multiple processes at startup.
	EnsureSchema(ctx context.Context) error

	// Read returns the entry for key only if it is unexpired, else nil.
	Read(ctx context.Context, key string) (*Entry, error)

	// Upsert inserts or overwrites the entry atomically with
	// expires_at = now + ttl.
	Upsert(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SweepExpired deletes all expired rows and returns the count removed.
	SweepExpired(ctx context.Context) (int64, error)

	// ClearAll deletes every row and returns the count removed.
	ClearAll(ctx context.Context) (int64, error)

	// Stats reports row totals for the admin surface.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time census of the backing table.
type Stats struct {
	Total   int64
	Expired int64
}

// Outcome classifies one lock attempt.
type Outcome int

const (
	// OutcomeHit: a valid entry existed; Lease.Value holds its payload.
	OutcomeHit Outcome = iota
	// OutcomeAcquired: the caller holds exclusive compute rights for the
	// key; Lease.Guard must be committed or aborted.
	OutcomeAcquired
	// OutcomeBusy: another process holds the key and the bounded re-check
	// found no value.
	OutcomeBusy
	// OutcomeUnavailable: storage failed; callers should compute uncached.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeAcquired:
		return "acquired"
	case OutcomeBusy:
		return "busy"
	case OutcomeUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Lease is the result of one TryLock or TryAcquireOrRead call.
// Value is set only on OutcomeHit; Guard only on OutcomeAcquired.
type Lease struct {
	Outcome Outcome
	Value   []byte
	Guard   Guard
}

// Guard holds the open transaction behind an acquired lease. Exactly one of
// Commit or Abort must be called, and each is effective at most once. If
// neither runs (crashed holder), the storage layer's own transaction or
// connection lifetime eventually releases the lock.
type Guard interface {
	// Commit upserts the value inside the held transaction and releases
	// the lock.
	Commit(ctx context.Context, value []byte, ttl time.Duration) error

	// Abort releases the lock without writing.
	Abort(ctx context.Context) error
}

// Locker is the storage-level primitive: a single non-blocking attempt to
// either read a valid entry under the key's lock or take the lock for
// computing. It never waits; busy-path policy lives in the Coordinator.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lease, error)
}
