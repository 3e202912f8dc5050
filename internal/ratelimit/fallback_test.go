package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFallback(t *testing.T) (*FallbackStore, *time.Time) {
	t.Helper()
	store := NewFallbackStore(time.Minute, zap.NewNop())
	t.Cleanup(store.Close)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestHalvedLimit(t *testing.T) {
	assert.Equal(t, 30, HalvedLimit(60))
	assert.Equal(t, 2, HalvedLimit(5))
	assert.Equal(t, 1, HalvedLimit(1))
	assert.Equal(t, 1, HalvedLimit(0))
}

func TestFallbackFixedWindow(t *testing.T) {
	store, _ := newTestFallback(t)

	for i := 0; i < 3; i++ {
		decision := store.Check("ip:10.0.0.1", 3)
		require.True(t, decision.Allowed, "request %d", i+1)
		assert.Equal(t, 3-(i+1), decision.Remaining)
	}

	decision := store.Check("ip:10.0.0.1", 3)
	require.False(t, decision.Allowed)
	assert.Equal(t, time.Minute, decision.RetryAfter)
}

func TestFallbackWindowExpiry(t *testing.T) {
	store, now := newTestFallback(t)

	for i := 0; i < 2; i++ {
		require.True(t, store.Check("ip:10.0.0.2", 2).Allowed)
	}
	require.False(t, store.Check("ip:10.0.0.2", 2).Allowed)

	// A fresh fixed window starts once the old one has fully elapsed.
	*now = now.Add(time.Minute)
	assert.True(t, store.Check("ip:10.0.0.2", 2).Allowed)
}

func TestFallbackReset(t *testing.T) {
	store, _ := newTestFallback(t)

	assert.False(t, store.Reset("ip:10.0.0.3"))

	store.Check("ip:10.0.0.3", 1)
	require.False(t, store.Check("ip:10.0.0.3", 1).Allowed)

	assert.True(t, store.Reset("ip:10.0.0.3"))
	assert.True(t, store.Check("ip:10.0.0.3", 1).Allowed)
}

func TestFallbackSweepEvictsStaleEntries(t *testing.T) {
	store, now := newTestFallback(t)

	store.Check("ip:old", 5)
	*now = now.Add(3 * time.Minute)
	store.Check("ip:fresh", 5)
	require.Equal(t, 2, store.Len())

	// The first entry's window ended more than two windows ago; the second
	// is still within the retention horizon.
	*now = now.Add(time.Minute)
	removed := store.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

// The sweep goroutine must stop promptly on Close so shutdown is not held up.
func TestFallbackLifecycle(t *testing.T) {
	store := NewFallbackStore(10*time.Millisecond, zap.NewNop())
	store.Start()

	done := make(chan struct{})
	go func() {
		store.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fallback store did not stop in time")
	}
}

func TestFallbackConcurrentChecks(t *testing.T) {
	store := NewFallbackStore(time.Minute, zap.NewNop())
	t.Cleanup(store.Close)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	allowed := make([]int, workers)
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if store.Check("ip:shared", 100).Allowed {
					allowed[w]++
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	assert.Equal(t, 100, total)
}
