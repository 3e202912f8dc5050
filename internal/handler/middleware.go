package handler

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"quota-service/internal/ratelimit"
)

// Principal is the already-authenticated caller, resolved upstream and placed
// in the request context before the quota middleware runs.
type Principal struct {
	UserID string
	Tier   string
}

type principalKeyType struct{}

var principalKey principalKeyType

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// IdentifierStrategy selects how a request maps to a quota identifier.
type IdentifierStrategy int

const (
	// StrategyTier keys authenticated callers as user:<id> with limits from
	// their subscription tier, and falls back to the IP strategy for
	// anonymous callers.
	StrategyTier IdentifierStrategy = iota

	// StrategyIP always keys by source address with the stricter anonymous
	// limits. Used for unauthenticated and security-sensitive endpoints.
	StrategyIP
)

// Policy is the per-route quota configuration, resolved once at startup.
type Policy struct {
	Strategy   IdentifierStrategy
	TierLimits map[string]ratelimit.QuotaLimits
	Default    ratelimit.QuotaLimits // tier-aware fallback for unknown tiers
	Anonymous  ratelimit.QuotaLimits // IP-keyed limits
	Skip       func(r *http.Request) bool
}

// resolve maps a request to its quota identifier and limits. It always
// produces an identifier: a request with no resolvable identity lands in the
// shared unknown bucket rather than escaping enforcement.
func (p Policy) resolve(r *http.Request) (string, ratelimit.QuotaLimits) {
	if p.Strategy == StrategyTier {
		if principal, ok := PrincipalFromContext(r.Context()); ok && principal.UserID != "" {
			limits := p.Default
			if l, ok := p.TierLimits[strings.ToLower(principal.Tier)]; ok {
				limits = l
			}
			return "user:" + principal.UserID, limits
		}
	}

	if ip := clientIP(r); ip != "" {
		return "ip:" + ip, p.Anonymous
	}
	return "ip:unknown", p.Anonymous
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return forwarded
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// rateLimitError is the JSON body sent with a 429.
type rateLimitError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"` // seconds
	ResetTime  string `json:"resetTime"`  // RFC 3339
}

// RateLimit enforces the policy's quota on every request passing through it.
// Denials short-circuit with 429; faults inside identifier resolution degrade
// to allow, but an engine denial is always honored.
func RateLimit(engine *ratelimit.Engine, policy Policy, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy.Skip != nil && policy.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			identifier, limits, ok := safeResolve(policy, r, logger)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision := engine.Check(r.Context(), identifier, limits)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rateLimitError{
				Error:      "rate_limit_exceeded",
				Message:    "too many requests, retry later",
				RetryAfter: retryAfter,
				ResetTime:  decision.ResetTime.Format(time.RFC3339),
			})
		})
	}
}

// safeResolve shields request handling from faults inside identifier
// resolution. Only these internal faults may fail open; quota denials never
// pass through here.
func safeResolve(policy Policy, r *http.Request, logger *zap.Logger) (identifier string, limits ratelimit.QuotaLimits, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("identifier resolution panicked, allowing request",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path))
			ok = false
		}
	}()
	identifier, limits = policy.resolve(r)
	return identifier, limits, true
}
