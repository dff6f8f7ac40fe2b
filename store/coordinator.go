package store

import (
	"context"
	"time"

	"github.com/apex/log"

	"github.com/wolffiex/peakcache/metrics"
)

const (
	// DefaultBusyDelay is the bounded wait before the busy-path re-check.
	// A fixed short delay, deliberately not a backoff: a crashed lock
	// holder must never starve other processes for long.
	DefaultBusyDelay = 500 * time.Millisecond

	// DefaultBusyRetries is how many delay-then-recheck rounds run before
	// reporting busy upward.
	DefaultBusyRetries = 1
)

// Coordinator wraps a backend Locker with the busy-path policy: when the
// per-key lock is held elsewhere, wait once for BusyDelay and re-check with a
// plain non-locking read. A valid entry found there is reported as a hit;
// otherwise the caller learns the key is busy and decides what to do. Storage
// failures are absorbed here and reported as OutcomeUnavailable.
type Coordinator struct {
	backend Backend
	delay   time.Duration
	retries int
	reg     *metrics.Registry
	log     log.Interface
}

// CoordinatorOption adjusts Coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithBusyDelay overrides the bounded wait before each busy re-check.
func WithBusyDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.delay = d }
}

// WithBusyRetries overrides how many delay-then-recheck rounds run.
func WithBusyRetries(n int) CoordinatorOption {
	return func(c *Coordinator) { c.retries = n }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(l log.Interface) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// Backend is the combined surface a storage backend offers the Coordinator.
type Backend interface {
	Locker
	Read(ctx context.Context, key string) (*Entry, error)
}

// NewCoordinator builds a Coordinator over a storage backend.
func NewCoordinator(backend Backend, reg *metrics.Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		backend: backend,
		delay:   DefaultBusyDelay,
		retries: DefaultBusyRetries,
		reg:     reg,
		log:     log.Log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryAcquireOrRead performs one non-blocking lock attempt plus the bounded
// busy-path re-check. It never returns an error: storage failures degrade to
// OutcomeUnavailable so callers fall through to uncached computation.
func (c *Coordinator) TryAcquireOrRead(ctx context.Context, key string) Lease {
	lease, err := c.backend.TryLock(ctx, key)
	if err != nil {
		c.reg.Inc(metrics.StoreErrorsTotal)
		c.log.WithError(err).WithField("key", key).Warn("cache lock attempt failed, degrading to uncached")
		return Lease{Outcome: OutcomeUnavailable}
	}

	switch lease.Outcome {
	case OutcomeHit:
		c.reg.Inc(metrics.HitsTotal)
		return lease
	case OutcomeAcquired:
		c.reg.Inc(metrics.LockAcquiredTotal)
		return lease
	}

	// Busy: another process is computing. Wait once per configured round,
	// then look again without locking in case it finished meanwhile.
	c.reg.Inc(metrics.LockBusyTotal)
	for i := 0; i < c.retries; i++ {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Lease{Outcome: OutcomeBusy}
		}

		entry, err := c.backend.Read(ctx, key)
		if err != nil {
			c.reg.Inc(metrics.StoreErrorsTotal)
			c.log.WithError(err).WithField("key", key).Warn("cache busy re-check failed")
			return Lease{Outcome: OutcomeUnavailable}
		}
		if entry != nil {
			c.reg.Inc(metrics.BusyRecheckHitsTotal)
			c.log.WithField("key", key).Debug("cache value appeared during busy wait")
			return Lease{Outcome: OutcomeHit, Value: entry.Value}
		}
	}

	return Lease{Outcome: OutcomeBusy}
}
