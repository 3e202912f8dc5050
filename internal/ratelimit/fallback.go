package ratelimit

import (
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

const fallbackShardCount = 16

// HalvedLimit converts a shared per-minute limit into the conservative
// per-instance limit used in degraded mode. During a shared-store outage each
// instance counts alone, so mirroring the global limit would let total
// admitted traffic scale with instance count.
func HalvedLimit(limit int) int {
	half := limit / 2
	if half < 1 {
		return 1
	}
	return half
}

type fallbackEntry struct {
	count       int
	windowStart time.Time
}

type fallbackShard struct {
	mu      sync.Mutex
	entries map[string]*fallbackEntry
}

// FallbackStore is the in-process, fixed-window counter used only while the
// shared store is unreachable. State is private to the instance and bounded
// by a periodic sweep of expired windows.
type FallbackStore struct {
	shards [fallbackShardCount]*fallbackShard
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	done      chan struct{}
}

func NewFallbackStore(window time.Duration, logger *zap.Logger) *FallbackStore {
	if window <= 0 {
		window = time.Minute
	}
	s := &FallbackStore{
		window: window,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &fallbackShard{entries: make(map[string]*fallbackEntry)}
	}
	return s
}

func (s *FallbackStore) shard(identifier string) *fallbackShard {
	h := murmur3.Sum64([]byte(identifier))
	return s.shards[h%fallbackShardCount]
}

// Check admits or denies one request against a fixed window. A fresh or
// expired window restarts at count 1 and always admits.
func (s *FallbackStore) Check(identifier string, limit int) Decision {
	now := s.now()
	sh := s.shard(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[identifier]
	if !ok || now.Sub(e.windowStart) >= s.window {
		sh.entries[identifier] = &fallbackEntry{count: 1, windowStart: now}
		return Decision{
			Allowed:   true,
			Remaining: limit - 1,
			ResetTime: now.Add(s.window),
		}
	}

	reset := e.windowStart.Add(s.window)
	e.count++
	if e.count > limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: s.window,
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: limit - e.count,
		ResetTime: reset,
	}
}

// Reset drops the local window for one identifier. Returns whether an entry
// existed.
func (s *FallbackStore) Reset(identifier string) bool {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[identifier]; !ok {
		return false
	}
	delete(sh.entries, identifier)
	return true
}

// Len reports the number of tracked identifiers across all shards.
func (s *FallbackStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// Start launches the background sweep. The sweep locks one shard at a time so
// request checks on other shards never wait on it.
func (s *FallbackStore) Start() {
	s.startOnce.Do(func() { s.started = true; go s.run() })
}

func (s *FallbackStore) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := s.sweep()
			if removed > 0 {
				s.logger.Debug("fallback store sweep completed",
					zap.Int("removed", removed),
					zap.Int("remaining", s.Len()))
			}
		case <-s.stop:
			return
		}
	}
}

// sweep deletes entries whose window ended more than 2x the window size ago,
// bounding memory to the identifiers seen in the last few window periods.
func (s *FallbackStore) sweep() int {
	cutoff := s.now().Add(-2 * s.window)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.windowStart.Add(s.window).Before(cutoff) {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Close stops the sweep goroutine and waits for it to exit. Idempotent.
func (s *FallbackStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.done
		}
	})
}
