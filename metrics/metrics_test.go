package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_IncAndAdd(t *testing.T) {
	r := NewRegistry()

	r.Inc(HitsTotal)
	r.Add(HitsTotal, 2)

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap[string(HitsTotal)])
}

func TestRegistry_MultipleMetrics(t *testing.T) {
	r := NewRegistry()

	r.Inc(ReadsTotal)
	r.Inc(MissesTotal)
	r.Add(SweepRemovedTotal, 5)

	snap := r.Snapshot()

	assert.Equal(t, int64(1), snap[string(ReadsTotal)])
	assert.Equal(t, int64(1), snap[string(MissesTotal)])
	assert.Equal(t, int64(5), snap[string(SweepRemovedTotal)])
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, int64(0), r.Get(LockBusyTotal))

	r.Inc(LockBusyTotal)
	assert.Equal(t, int64(1), r.Get(LockBusyTotal))
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	wg := sync.WaitGroup{}

	workers := 50
	increments := 100

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				r.Inc(ComputesTotal)
			}
		}()
	}

	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(workers*increments), snap[string(ComputesTotal)])
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	r := NewRegistry()

	r.Inc(HitsTotal)
	snap1 := r.Snapshot()

	// Mutate snapshot
	snap1[string(HitsTotal)] = 999

	// Fetch fresh snapshot
	snap2 := r.Snapshot()

	assert.Equal(t, int64(1), snap2[string(HitsTotal)],
		"internal state should not be affected by snapshot mutation")
}
