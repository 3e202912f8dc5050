package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 6; i++ {
		m.RecordAllowed()
	}
	for i := 0; i < 2; i++ {
		m.RecordBlocked()
	}
	m.RecordError()
	m.RecordReset()

	s := m.Snapshot()
	assert.Equal(t, uint64(6), s.Allowed)
	assert.Equal(t, uint64(2), s.Blocked)
	assert.Equal(t, uint64(1), s.Errors)
	assert.Equal(t, uint64(1), s.Resets)
	assert.InDelta(t, 0.25, s.BlockRate, 1e-9)
}

func TestMetricsBlockRateWithoutTraffic(t *testing.T) {
	s := NewMetrics().Snapshot()
	assert.Zero(t, s.BlockRate)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordAllowed()
	m.RecordBlocked()
	m.Reset()

	s := m.Snapshot()
	assert.Zero(t, s.Allowed)
	assert.Zero(t, s.Blocked)
	assert.Zero(t, s.BlockRate)
}

func TestMetricsConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.RecordAllowed()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), m.Snapshot().Allowed)
}
