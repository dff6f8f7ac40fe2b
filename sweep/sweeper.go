// Package sweep physically deletes logically-expired cache rows. Expiry
// itself never depends on it; reads already refuse dead rows, the sweeper
// only reclaims storage.
package sweep

import (
	"context"
	"time"

	"github.com/apex/log"

	"github.com/wolffiex/peakcache/metrics"
)

// Store is the minimal contract the sweeper needs, kept narrow so any
// backend satisfies it.
type Store interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired rows from the store.
type Sweeper struct {
	store    Store
	interval time.Duration
	reg      *metrics.Registry
	log      log.Interface
}

// New creates a Sweeper.
func New(store Store, interval time.Duration, reg *metrics.Registry, logger log.Interface) *Sweeper {
	if logger == nil {
		logger = log.Log
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		reg:      reg,
		log:      logger,
	}
}

// Start runs the sweep loop until the context is cancelled. It blocks and
// should typically run in its own goroutine. Each pass is index-scoped on
// the store side, so normal cache traffic continues alongside it.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.log.Debug("sweeper stopped")
			return
		}
	}
}

// RunOnce performs a single sweep pass and returns the rows removed.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	return s.runOnce(ctx)
}

func (s *Sweeper) runOnce(ctx context.Context) int64 {
	s.reg.Inc(metrics.SweepRunsTotal)

	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.log.WithError(err).Warn("sweep pass failed")
		return 0
	}
	if removed > 0 {
		s.reg.Add(metrics.SweepRemovedTotal, removed)
		s.log.WithField("removed", removed).Info("swept expired cache entries")
	}
	return removed
}
