package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolffiex/peakcache/metrics"
	"github.com/wolffiex/peakcache/store"
)

var ctx = context.Background()

func TestStoreReadUpsert(t *testing.T) {
	s := New(metrics.NewRegistry())

	t.Run("upsert then read", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, "key1", []byte("hello"), time.Minute))

		entry, err := s.Read(ctx, "key1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("hello"), entry.Value)
	})

	t.Run("read missing key", func(t *testing.T) {
		entry, err := s.Read(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, "key1", []byte("updated"), time.Minute))

		entry, err := s.Read(ctx, "key1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("updated"), entry.Value)
	})
}

func TestStoreExpiry(t *testing.T) {
	s := New(metrics.NewRegistry())

	require.NoError(t, s.Upsert(ctx, "temp", []byte("value"), 20*time.Millisecond))

	entry, err := s.Read(ctx, "temp")
	require.NoError(t, err)
	require.NotNil(t, entry, "entry should be a hit before its ttl")

	time.Sleep(30 * time.Millisecond)

	entry, err = s.Read(ctx, "temp")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired entry must not read as a hit even before a sweep")
}

// A cached forecast reads back inside its ttl window and is gone after it.
func TestStoreForecastWindow(t *testing.T) {
	s := New(metrics.NewRegistry())

	require.NoError(t, s.Upsert(ctx, "forecast", []byte("Sunny, 72F"), 50*time.Millisecond))

	entry, err := s.Read(ctx, "forecast")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Sunny, 72F", string(entry.Value))

	time.Sleep(60 * time.Millisecond)

	entry, err = s.Read(ctx, "forecast")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStoreSweepExpired(t *testing.T) {
	s := New(metrics.NewRegistry())

	require.NoError(t, s.Upsert(ctx, "dead", []byte("v1"), -time.Second))
	require.NoError(t, s.Upsert(ctx, "alive", []byte("v2"), time.Minute))

	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entry, err := s.Read(ctx, "dead")
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = s.Read(ctx, "alive")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	// Sweeping again removes nothing.
	removed, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestStoreClearAll(t *testing.T) {
	s := New(metrics.NewRegistry())

	require.NoError(t, s.Upsert(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, s.Upsert(ctx, "k2", []byte("v2"), -time.Second))

	removed, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{}, st)
}

func TestStoreStats(t *testing.T) {
	s := New(metrics.NewRegistry())

	require.NoError(t, s.Upsert(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, s.Upsert(ctx, "k2", []byte("v2"), -time.Second))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, int64(1), st.Expired)
}

func TestTryLock(t *testing.T) {
	t.Run("hit on valid entry", func(t *testing.T) {
		s := New(metrics.NewRegistry())
		require.NoError(t, s.Upsert(ctx, "k", []byte("v"), time.Minute))

		lease, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, store.OutcomeHit, lease.Outcome)
		assert.Equal(t, []byte("v"), lease.Value)
	})

	t.Run("acquired on missing entry", func(t *testing.T) {
		s := New(metrics.NewRegistry())

		lease, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, store.OutcomeAcquired, lease.Outcome)
		require.NotNil(t, lease.Guard)

		require.NoError(t, lease.Guard.Commit(ctx, []byte("computed"), time.Minute))

		entry, err := s.Read(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("computed"), entry.Value)
	})

	t.Run("acquired on expired entry", func(t *testing.T) {
		s := New(metrics.NewRegistry())
		require.NoError(t, s.Upsert(ctx, "k", []byte("stale"), -time.Second))

		lease, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, store.OutcomeAcquired, lease.Outcome)
		require.NoError(t, lease.Guard.Abort(ctx))
	})

	t.Run("busy while held", func(t *testing.T) {
		s := New(metrics.NewRegistry())

		first, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, store.OutcomeAcquired, first.Outcome)

		second, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, store.OutcomeBusy, second.Outcome)

		require.NoError(t, first.Guard.Abort(ctx))

		third, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, store.OutcomeAcquired, third.Outcome)
		require.NoError(t, third.Guard.Abort(ctx))
	})

	t.Run("abort leaves no entry", func(t *testing.T) {
		s := New(metrics.NewRegistry())

		lease, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		require.NoError(t, lease.Guard.Abort(ctx))

		entry, err := s.Read(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("guard is single use", func(t *testing.T) {
		s := New(metrics.NewRegistry())

		lease, err := s.TryLock(ctx, "k")
		require.NoError(t, err)
		require.NoError(t, lease.Guard.Commit(ctx, []byte("v"), time.Minute))
		assert.Error(t, lease.Guard.Abort(ctx))
		assert.Error(t, lease.Guard.Commit(ctx, []byte("w"), time.Minute))
	})
}

func TestTryLockConcurrent(t *testing.T) {
	s := New(metrics.NewRegistry())

	var wg sync.WaitGroup
	var acquired, busy int
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := s.TryLock(ctx, "key")
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			switch lease.Outcome {
			case store.OutcomeAcquired:
				acquired++
				// Hold the lock until everyone has attempted.
			case store.OutcomeBusy:
				busy++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one goroutine may acquire an uninitialized key")
	assert.Equal(t, 19, busy)
}
