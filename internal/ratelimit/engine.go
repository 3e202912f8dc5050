package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event types published to the abuse-event stream.
const (
	EventDenied   = "quota_denied"
	EventDegraded = "store_degraded"
	EventReset    = "quota_reset"
)

// EventPublisher receives notable quota events (denials, degraded-mode
// transitions, admin resets). Implementations must not block the request
// path.
type EventPublisher interface {
	Publish(ctx context.Context, event, identifier string, at time.Time)
}

// Engine is the single entry point for quota checks. It hides the split
// between the shared sliding-window store and the local degraded-mode
// fallback from callers.
type Engine struct {
	store    WindowStore
	fallback *FallbackStore
	metrics  *Metrics
	events   EventPublisher
	logger   *zap.Logger

	// downFor is an optional cooldown: after a shared-store failure the
	// engine skips the store for this long instead of paying a failed round
	// trip on every request. Zero means retry the store on every check.
	downFor   time.Duration
	downUntil atomic.Int64
	degraded  atomic.Bool

	now func() time.Time
}

func NewEngine(store WindowStore, fallback *FallbackStore, metrics *Metrics, events EventPublisher, downFor time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		fallback: fallback,
		metrics:  metrics,
		events:   events,
		logger:   logger,
		downFor:  downFor,
		now:      time.Now,
	}
}

// Check evaluates one request for an identifier against its limits and
// returns a decision. Store connectivity problems never surface to the
// caller; they degrade to the conservative local fallback.
func (e *Engine) Check(ctx context.Context, identifier string, limits QuotaLimits) Decision {
	now := e.now()
	windows := limits.Windows()

	if e.storeUsable(now) {
		result, err := e.store.Admit(ctx, identifier, windows, now)
		if err == nil {
			e.markHealthy()
			return e.decide(ctx, identifier, result, windows, now)
		}

		// One error increment per failed check, regardless of how many
		// granularities the call covered.
		e.metrics.RecordError()
		e.markDegraded(now, identifier, err)
	}

	return e.checkFallback(ctx, identifier, limits)
}

func (e *Engine) decide(ctx context.Context, identifier string, result AdmitResult, windows []Window, now time.Time) Decision {
	if result.Allowed {
		remaining := windows[0].Limit
		for i, w := range windows {
			if r := w.Limit - int(result.Counts[i]) - 1; r < remaining {
				remaining = r
			}
		}
		if remaining < 0 {
			remaining = 0
		}
		e.metrics.RecordAllowed()
		return Decision{
			Allowed:   true,
			Remaining: remaining,
			ResetTime: now.Add(windows[0].Size),
		}
	}

	exceeded := result.Exceeded
	if exceeded < 0 || exceeded >= len(windows) {
		exceeded = 0
	}
	w := windows[exceeded]

	e.metrics.RecordBlocked()
	e.publish(ctx, EventDenied, identifier)
	e.logger.Debug("quota exceeded",
		zap.String("identifier", identifier),
		zap.String("granularity", string(w.Granularity)),
		zap.Int("limit", w.Limit))

	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(w.Size),
		RetryAfter: w.Size,
	}
}

// checkFallback answers from the per-instance fixed-window counter with the
// halved limit. Callers cannot tell degraded-mode throttling from healthy
// throttling.
func (e *Engine) checkFallback(ctx context.Context, identifier string, limits QuotaLimits) Decision {
	limit := HalvedLimit(limits.RequestsPerMinute)
	decision := e.fallback.Check(identifier, limit)
	if decision.Allowed {
		e.metrics.RecordAllowed()
	} else {
		e.metrics.RecordBlocked()
		e.publish(ctx, EventDenied, identifier)
	}
	return decision
}

func (e *Engine) storeUsable(now time.Time) bool {
	if e.downFor <= 0 {
		return true
	}
	return now.UnixNano() >= e.downUntil.Load()
}

func (e *Engine) markDegraded(now time.Time, identifier string, err error) {
	if e.downFor > 0 {
		e.downUntil.Store(now.Add(e.downFor).UnixNano())
	}
	// Log the transition once, not once per request during an outage.
	if e.degraded.CompareAndSwap(false, true) {
		e.logger.Warn("shared window store unreachable, serving from local fallback",
			zap.String("identifier", identifier),
			zap.Error(err))
		e.publish(context.Background(), EventDegraded, identifier)
	}
}

func (e *Engine) markHealthy() {
	if e.degraded.CompareAndSwap(true, false) {
		e.logger.Info("shared window store recovered, leaving degraded mode")
	}
}

func (e *Engine) publish(ctx context.Context, event, identifier string) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, event, identifier, e.now())
}

// Reset clears shared and local quota state for one identifier and reports
// whether anything was cleared. Safe to call on identifiers with no state.
func (e *Engine) Reset(ctx context.Context, identifier string) (bool, error) {
	local := e.fallback.Reset(identifier)

	shared, err := e.store.Reset(ctx, identifier)
	if err != nil {
		e.metrics.RecordError()
		return local, err
	}

	reset := shared || local
	if reset {
		e.metrics.RecordReset()
		e.publish(ctx, EventReset, identifier)
	}
	return reset, nil
}

// EngineStats is the metrics snapshot enriched with shared-store occupancy.
type EngineStats struct {
	MetricsSnapshot
	Degraded          bool                `json:"degraded"`
	ActiveIdentifiers map[Granularity]int `json:"active_identifiers,omitempty"`
}

// Stats returns the counters plus, when the shared store answers, the number
// of active identifiers at each granularity.
func (e *Engine) Stats(ctx context.Context) EngineStats {
	stats := EngineStats{
		MetricsSnapshot: e.metrics.Snapshot(),
		Degraded:        e.degraded.Load(),
	}

	granularities := []Granularity{GranularityMinute, GranularityDay}
	counts := make([]int, len(granularities))

	g, ctx := errgroup.WithContext(ctx)
	for i, gran := range granularities {
		i, gran := i, gran
		g.Go(func() error {
			n, err := e.store.ActiveIdentifiers(ctx, gran)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("failed to count active identifiers", zap.Error(err))
		return stats
	}

	stats.ActiveIdentifiers = make(map[Granularity]int, len(granularities))
	for i, gran := range granularities {
		stats.ActiveIdentifiers[gran] = counts[i]
	}
	return stats
}

// MetricsSnapshot returns just the counters without touching the store.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes the counters. Administrative action, separate from
// per-identifier quota resets.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}
