package ratelimit

import "sync/atomic"

// Metrics aggregates allow/block/error counters for the engine. Counters are
// monotonic for the process lifetime and only zeroed by an explicit admin
// reset, which is distinct from a per-identifier quota reset.
type Metrics struct {
	allowed atomic.Uint64
	blocked atomic.Uint64
	errors  atomic.Uint64
	resets  atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Allowed   uint64  `json:"allowed"`
	Blocked   uint64  `json:"blocked"`
	Errors    uint64  `json:"errors"`
	Resets    uint64  `json:"resets"`
	BlockRate float64 `json:"block_rate"` // blocked / (allowed + blocked)
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordAllowed() { m.allowed.Add(1) }
func (m *Metrics) RecordBlocked() { m.blocked.Add(1) }
func (m *Metrics) RecordError()   { m.errors.Add(1) }
func (m *Metrics) RecordReset()   { m.resets.Add(1) }

// Snapshot reads all counters. The counters are read independently, so a
// snapshot taken under concurrent traffic may be off by in-flight checks,
// which is fine for operational reporting.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Allowed: m.allowed.Load(),
		Blocked: m.blocked.Load(),
		Errors:  m.errors.Load(),
		Resets:  m.resets.Load(),
	}
	if total := s.Allowed + s.Blocked; total > 0 {
		s.BlockRate = float64(s.Blocked) / float64(total)
	}
	return s
}

// Reset zeroes all counters. Administrative action only.
func (m *Metrics) Reset() {
	m.allowed.Store(0)
	m.blocked.Store(0)
	m.errors.Store(0)
	m.resets.Store(0)
}
