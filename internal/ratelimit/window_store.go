package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quota-service/internal/client"
)

const windowKeyPrefix = "quota:"

// AdmitResult is the shared store's answer for one check. Counts are the
// post-prune, pre-record counts per window, in the order the windows were
// passed.
type AdmitResult struct {
	Allowed  bool
	Exceeded int // index of the first exceeded window when denied
	Counts   []int64
}

// WindowStore is the authoritative, cross-instance sliding-window counter.
// Implementations must prune, count and record as a single atomic unit and
// must surface I/O failures to the caller without retrying; the engine
// degrades to the local fallback on any error.
type WindowStore interface {
	Admit(ctx context.Context, identifier string, windows []Window, now time.Time) (AdmitResult, error)
	Reset(ctx context.Context, identifier string) (bool, error)
	ActiveIdentifiers(ctx context.Context, g Granularity) (int, error)
}

// admitScript prunes every granularity key, counts what remains, and records
// the admission only when all windows are under their limits. Running both
// keys through one script keeps the check atomic across granularities: a
// denied request never leaves an entry behind in any window.
//
// Scores and window sizes are in milliseconds. Each key's expiry is about
// twice its window so abandoned identifiers age out without a sweep.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local token = ARGV[2]
local n = #KEYS
local allowed = 1
local exceeded = 0
local counts = {}

for i = 1, n do
    local window = tonumber(ARGV[3 * i])
    local limit = tonumber(ARGV[3 * i + 1])
    redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - window)
    local count = redis.call('ZCARD', KEYS[i])
    counts[i] = count
    if allowed == 1 and count >= limit then
        allowed = 0
        exceeded = i
    end
end

if allowed == 1 then
    for i = 1, n do
        redis.call('ZADD', KEYS[i], now, token)
        redis.call('EXPIRE', KEYS[i], tonumber(ARGV[3 * i + 2]))
    end
end

local reply = {allowed, exceeded}
for i = 1, n do
    reply[i + 2] = counts[i]
end
return reply
`)

// RedisWindowStore implements WindowStore on Redis sorted sets. One key per
// identifier per granularity, score = event timestamp, member = a unique
// token per admitted request.
type RedisWindowStore struct {
	client  *client.RedisClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisWindowStore(rc *client.RedisClient, timeout time.Duration, logger *zap.Logger) *RedisWindowStore {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &RedisWindowStore{client: rc, timeout: timeout, logger: logger}
}

func windowKey(g Granularity, identifier string) string {
	return fmt.Sprintf("%s%s:%s", windowKeyPrefix, g, identifier)
}

func (s *RedisWindowStore) Admit(ctx context.Context, identifier string, windows []Window, now time.Time) (AdmitResult, error) {
	if identifier == "" {
		return AdmitResult{}, ErrEmptyIdentifier
	}

	// The store call is the only network hop on the request hot path; a
	// short deadline turns a hanging Redis into an ordinary error.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys := make([]string, 0, len(windows))
	args := make([]interface{}, 0, 2+3*len(windows))
	args = append(args, now.UnixMilli(), uuid.NewString())
	for _, w := range windows {
		keys = append(keys, windowKey(w.Granularity, identifier))
		ttl := int64(math.Ceil((2 * w.Size).Seconds()))
		args = append(args, w.Size.Milliseconds(), w.Limit, ttl)
	}

	raw, err := admitScript.Run(ctx, s.client.Client, keys, args...).Result()
	if err != nil {
		return AdmitResult{}, fmt.Errorf("sliding window admit failed: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2+len(windows) {
		return AdmitResult{}, fmt.Errorf("unexpected reply from admit script: %v", raw)
	}

	result := AdmitResult{
		Allowed:  reply[0].(int64) == 1,
		Exceeded: int(reply[1].(int64)) - 1, // lua tables are 1-based
		Counts:   make([]int64, len(windows)),
	}
	for i := range windows {
		result.Counts[i] = reply[i+2].(int64)
	}

	s.logger.Debug("sliding window admit",
		zap.String("identifier", identifier),
		zap.Bool("allowed", result.Allowed),
		zap.Int64s("counts", result.Counts))

	return result, nil
}

// Reset deletes every granularity key for one identifier. Idempotent; reports
// whether any key existed.
func (s *RedisWindowStore) Reset(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, ErrEmptyIdentifier
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	keys := []string{
		windowKey(GranularityMinute, identifier),
		windowKey(GranularityDay, identifier),
	}
	deleted, err := s.client.Client.Del(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reset quota for %s: %w", identifier, err)
	}

	s.logger.Info("quota reset",
		zap.String("identifier", identifier),
		zap.Int64("keys_deleted", deleted))

	return deleted > 0, nil
}

// ActiveIdentifiers counts the keys currently live at one granularity.
// Observability only; SCAN keeps it safe against large keyspaces.
func (s *RedisWindowStore) ActiveIdentifiers(ctx context.Context, g Granularity) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := s.client.ScanCount(ctx, windowKeyPrefix+string(g)+":*")
	if err != nil {
		return 0, fmt.Errorf("failed to count active identifiers at %s: %w", g, err)
	}
	return count, nil
}
