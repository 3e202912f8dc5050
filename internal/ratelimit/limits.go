package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyIdentifier = errors.New("empty rate limit identifier")
	ErrInvalidLimits   = errors.New("invalid quota limits")
)

// Granularity is one of the time spans a quota is tracked at.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityDay    Granularity = "day"
)

// Window returns the trailing interval this granularity counts over.
func (g Granularity) Window() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// QuotaLimits carries the per-granularity request budget for one check call.
// It is supplied by the caller and never mutated by the engine.
type QuotaLimits struct {
	RequestsPerMinute int
	RequestsPerDay    int
	Burst             int // extra headroom on top of the per-minute limit
}

// Window pairs a granularity with its span and the caller's effective limit.
type Window struct {
	Granularity Granularity
	Size        time.Duration
	Limit       int
}

// Windows expands the limits into per-granularity windows, shortest first.
// The burst allowance widens only the shortest window.
func (l QuotaLimits) Windows() []Window {
	return []Window{
		{Granularity: GranularityMinute, Size: GranularityMinute.Window(), Limit: l.RequestsPerMinute + l.Burst},
		{Granularity: GranularityDay, Size: GranularityDay.Window(), Limit: l.RequestsPerDay},
	}
}

// Validate rejects limits that would silently disable enforcement. A zero or
// negative quota is a configuration mistake, never "unlimited".
func (l QuotaLimits) Validate() error {
	if l.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive, got %d: %w", l.RequestsPerMinute, ErrInvalidLimits)
	}
	if l.RequestsPerDay <= 0 {
		return fmt.Errorf("requests per day must be positive, got %d: %w", l.RequestsPerDay, ErrInvalidLimits)
	}
	if l.Burst < 0 {
		return fmt.Errorf("burst must be >= 0, got %d: %w", l.Burst, ErrInvalidLimits)
	}
	if l.RequestsPerDay < l.RequestsPerMinute {
		return fmt.Errorf("daily limit %d is below the per-minute limit %d: %w", l.RequestsPerDay, l.RequestsPerMinute, ErrInvalidLimits)
	}
	return nil
}

// Decision is the outcome of a single quota check. Produced fresh per call,
// never persisted.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // zero when allowed
}
