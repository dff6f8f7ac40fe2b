// Package peakcache is a distributed single-flight memoization cache for
// expensive, side-effecting computations shared by many worker processes.
//
// Results live in a shared store (Postgres in production) under a
// caller-chosen key with a TTL. For each key, at most one process computes at
// a time: the store's per-key lock decides between serving a cached value,
// granting compute rights, or reporting that someone else is already working.
// A busy caller waits once for a short bounded delay, re-checks, and then
// computes uncached rather than queue behind another process. Within one
// process, concurrent callers for the same key collapse into a single flight
// before the store is touched at all.
//
// Caching is strictly best-effort: if the store is unreachable or a value
// cannot be serialized, callers still get their computed result and only the
// logs know the difference. Compute failures are never cached and always
// propagate, wrapped in *ComputeError.
package peakcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/singleflight"

	"github.com/wolffiex/peakcache/metrics"
	"github.com/wolffiex/peakcache/store"
)

// Cache is the memoization facade. All policy lives here; the coordinator
// only reports lock outcomes and the store only moves bytes.
type Cache struct {
	coord *store.Coordinator
	group singleflight.Group
	reg   *metrics.Registry
	log   log.Interface
}

// Option adjusts Cache construction.
type Option func(*Cache)

// WithLogger overrides the cache's logger.
func WithLogger(l log.Interface) Option {
	return func(c *Cache) { c.log = l }
}

// New builds a Cache over a lock coordinator.
func New(coord *store.Coordinator, reg *metrics.Registry, opts ...Option) *Cache {
	c := &Cache{
		coord: coord,
		reg:   reg,
		log:   log.Log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached value for key, or runs compute exactly as
// the caller would have and caches the result for ttl. Values are stored as
// JSON, so T must round-trip through encoding/json.
//
// Concurrent same-process callers for one key share a single invocation and
// its result (or error). The shared flight runs under the first caller's
// context; compute should honor ctx so caller-side timeouts release the
// per-key lock promptly.
//
// The only errors returned are *ComputeError values wrapping whatever
// compute itself failed with.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.run(ctx, key, ttl,
			func(ctx context.Context) (any, error) { return compute(ctx) },
			func(data []byte) (any, error) {
				var out T
				if err := json.Unmarshal(data, &out); err != nil {
					return nil, err
				}
				return out, nil
			})
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// run is the per-flight state machine: hit, acquired, or busy, each ending
// in a returned value or a propagated compute error.
func (c *Cache) run(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (any, error), decode func([]byte) (any, error)) (any, error) {
	lease := c.coord.TryAcquireOrRead(ctx, key)

	switch lease.Outcome {
	case store.OutcomeHit:
		out, err := decode(lease.Value)
		if err == nil {
			return out, nil
		}
		// A payload we can no longer decode is as good as no cache.
		c.reg.Inc(metrics.EncodeFailuresTotal)
		c.log.WithError(err).WithField("key", key).Warn("cached payload undecodable, computing uncached")
		return c.computeUncached(ctx, key, compute)

	case store.OutcomeAcquired:
		val, err := c.compute(ctx, key, compute)
		if err != nil {
			// Release the lock without writing; a failed computation
			// must never poison the cache.
			c.abort(key, lease.Guard)
			return nil, err
		}

		data, err := json.Marshal(val)
		if err != nil {
			c.reg.Inc(metrics.EncodeFailuresTotal)
			c.log.WithError(err).WithField("key", key).Warn("result not serializable, returning uncached")
			c.abort(key, lease.Guard)
			return val, nil
		}

		if err := lease.Guard.Commit(ctx, data, ttl); err != nil {
			c.reg.Inc(metrics.StoreErrorsTotal)
			c.log.WithError(err).WithField("key", key).Warn("cache write failed, returning uncached")
		}
		return val, nil

	default:
		// Busy after the bounded re-check, or storage gone. Duplicate
		// work beats blocking on another process.
		return c.computeUncached(ctx, key, compute)
	}
}

func (c *Cache) compute(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	c.reg.Inc(metrics.ComputesTotal)
	val, err := compute(ctx)
	if err != nil {
		c.reg.Inc(metrics.ComputeFailuresTotal)
		return nil, &ComputeError{Key: key, Err: err}
	}
	return val, nil
}

func (c *Cache) computeUncached(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	c.reg.Inc(metrics.UncachedComputesTotal)
	return c.compute(ctx, key, compute)
}

// abort releases an acquired guard. It runs on a fresh context because the
// caller's context may already be cancelled, and that is exactly when prompt
// release matters most.
func (c *Cache) abort(key string, g store.Guard) {
	if err := g.Abort(context.Background()); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache lock release failed")
	}
}
