// Package ratelimit implements fixed-window rate limiting over the shared store
package ratelimit

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"vexgate/internal/types"
)

// Service-wide defaults applied when no policy is configured
const (
	DefaultLimit         = 100
	DefaultWindowSeconds = 60
)

// Limiter counts requests per (identity, path) in the shared store so the
// limit holds across gateway replicas. Store failures fail open: losing the
// limiter must not take down the data path.
type Limiter struct {
	store    types.KeyValueStore
	defaults types.RateLimitPolicy
	clock    clock.Clock
	logger   types.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock injects the clock used for window reset math
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) { l.clock = clk }
}

// New creates a limiter with the given default policy
func New(store types.KeyValueStore, defaults types.RateLimitPolicy, logger types.Logger, opts ...Option) *Limiter {
	if defaults.Limit <= 0 {
		defaults.Limit = DefaultLimit
	}
	if defaults.WindowSeconds <= 0 {
		defaults.WindowSeconds = DefaultWindowSeconds
	}

	l := &Limiter{
		store:    store,
		defaults: defaults,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request against the (identity, path) window and reports
// whether it is within the limit. The policy argument overrides the
// defaults when non-nil.
func (l *Limiter) Check(ctx context.Context, identity, path string, policy *types.RateLimitPolicy) types.RateLimitResult {
	limit, window := l.defaults.Limit, l.defaults.Window()
	if policy != nil {
		if policy.Limit > 0 {
			limit = policy.Limit
		}
		if policy.WindowSeconds > 0 {
			window = policy.Window()
		}
	}

	key := fmt.Sprintf("rate:%s:%s", identity, path)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("Rate-limit store unavailable, failing open",
			"identity", identity,
			"path", path,
			"error", err,
		)
		return types.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   l.clock.Now().Add(window).Unix(),
		}
	}

	// A fresh window gets its expiry on the call that created the key.
	// The INCR/EXPIRE pair is not atomic; losing that narrow race leaves
	// the key without an expiry, which only overcounts until an operator
	// clears it.
	ttl := window
	if count == 1 {
		if err := l.store.Expire(ctx, key, window); err != nil {
			l.logger.Warn("Failed to set rate-limit window expiry", "identity", identity, "path", path, "error", err)
		}
	} else {
		remaining, err := l.store.TTL(ctx, key)
		if err == nil && remaining >= 0 {
			ttl = remaining
		}
	}
	resetAt := l.clock.Now().Add(ttl).Unix()

	if count > int64(limit) {
		return types.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return types.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
