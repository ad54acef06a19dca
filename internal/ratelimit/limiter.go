package ratelimit

import (
	"log/slog"
	"time"
)

// Policy configures one endpoint class's admission gates.
type Policy struct {
	Window          time.Duration
	MaxRequests     int
	BurstCapacity   int
	RefillPerSecond float64
}

// Decision is the outcome of an admission check, with everything a
// caller needs to build rate-limit response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter combines a token bucket and a fixed-window counter into a
// single admit/reject decision. The bucket absorbs short bursts; the
// window caps sustained throughput. A request must pass both gates.
type Limiter struct {
	policy   Policy
	buckets  *BucketStore
	windows  *WindowStore
	adaptive *AdaptiveController
	logger   *slog.Logger
}

// NewLimiter creates a Limiter with its own per-identity state. An
// AdaptiveController may be shared across limiters; nil disables
// load-based scaling.
func NewLimiter(policy Policy, adaptive *AdaptiveController, logger *slog.Logger) *Limiter {
	return &Limiter{
		policy:   policy,
		buckets:  NewBucketStore(policy.BurstCapacity, policy.RefillPerSecond),
		windows:  NewWindowStore(),
		adaptive: adaptive,
		logger:   logger,
	}
}

// Policy returns the limiter's configured policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Check evaluates both gates for one request from identity.
func (l *Limiter) Check(identity string) Decision {
	maxRequests := l.policy.MaxRequests
	if l.adaptive != nil {
		maxRequests = l.adaptive.Scale(maxRequests)
	}

	// Burst gate first: a drained bucket rejects without consuming a
	// window slot.
	if !l.buckets.Consume(identity, 1) {
		count, resetAt := l.windows.Peek(identity, l.policy.Window)
		l.logger.Debug("burst capacity exhausted",
			slog.String("identity", identity),
			slog.Int("window_count", count))
		return rejected(maxRequests, count, resetAt, time.Now())
	}

	count, resetAt := l.windows.Increment(identity, l.policy.Window)
	if count > maxRequests {
		return rejected(maxRequests, count, resetAt, time.Now())
	}

	return Decision{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests - count,
		ResetAt:   resetAt,
	}
}

// Peek reports the identity's remaining burst tokens.
func (l *Limiter) Peek(identity string) int {
	return l.buckets.Peek(identity)
}

// Cleanup reclaims idle per-identity state from both stores.
func (l *Limiter) Cleanup() int {
	return l.buckets.Cleanup() + l.windows.Cleanup()
}

func rejected(limit, count int, resetAt, now time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	retryAfter := resetAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}
