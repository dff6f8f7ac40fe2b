package metrics

import (
	"sync"
	"sync/atomic"
)

// Key is a strongly typed metric identifier.
type Key string

// Metric keys (centralized)
const (
	// Facade
	HitsTotal             Key = "cache_hits_total"
	ComputesTotal         Key = "cache_computes_total"
	ComputeFailuresTotal  Key = "cache_compute_failures_total"
	UncachedComputesTotal Key = "cache_uncached_computes_total"
	EncodeFailuresTotal   Key = "cache_encode_failures_total"

	// Coordinator
	LockAcquiredTotal    Key = "lock_acquired_total"
	LockBusyTotal        Key = "lock_busy_total"
	BusyRecheckHitsTotal Key = "lock_busy_recheck_hits_total"
	StoreErrorsTotal     Key = "store_errors_total"

	// Store
	UpsertsTotal Key = "store_upserts_total"
	ReadsTotal   Key = "store_reads_total"
	MissesTotal  Key = "store_misses_total"

	// Sweeper
	SweepRunsTotal    Key = "sweep_runs_total"
	SweepRemovedTotal Key = "sweep_removed_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[Key]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[Key]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key Key) {
	r.Add(key, 1)
}

// Add increments a metric by delta.
func (r *Registry) Add(key Key, delta int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	var val int64
	r.counters[key] = &val
	atomic.AddInt64(&val, delta)
}

// Get returns the current value of a single counter.
func (r *Registry) Get(key Key) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ptr, ok := r.counters[key]; ok {
		return atomic.LoadInt64(ptr)
	}
	return 0
}

// Snapshot returns a deep copy of all metrics.
// Safe for concurrent use and immune to external mutation.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for key, ptr := range r.counters {
		out[string(key)] = atomic.LoadInt64(ptr)
	}
	return out
}
