package bruteforce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palisade/internal/audit"
	"palisade/internal/models"
)

// Config holds the guard's tunables.
type Config struct {
	MaxAttempts        int
	LockoutDuration    time.Duration
	Window             time.Duration
	BlacklistThreshold int
}

// DefaultConfig mirrors the deployment defaults: five attempts per
// hour window, fifteen-minute lockout, blacklist at twenty cumulative
// failures.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        5,
		LockoutDuration:    15 * time.Minute,
		Window:             time.Hour,
		BlacklistThreshold: 20,
	}
}

const maxBackoff = 30 * time.Second

// Meta carries request context into audit events.
type Meta struct {
	IPAddress string
	UserAgent string
}

// FailureResult tells the caller what the failure did to the
// identity's state. Delay is the backoff the caller should apply
// before responding; the guard itself never sleeps.
type FailureResult struct {
	Failures          int
	RemainingAttempts int
	Delay             time.Duration
	Locked            bool
	LockedUntil       time.Time
	Blacklisted       bool
}

// Guard drives the lockout state machine: NORMAL, ACCUMULATING,
// LOCKED, and the terminal BLACKLISTED. All state is in-memory and
// updated synchronously; expired lockouts are cleared lazily on the
// next check.
type Guard struct {
	cfg       Config
	ledger    *Ledger
	blacklist *Blacklist
	chain     *audit.Chain
	logger    *slog.Logger

	mu       sync.Mutex
	lockouts map[string]time.Time
	now      func() time.Time
}

// NewGuard wires the guard to its ledger, blacklist and audit chain.
// The chain may be nil in tests.
func NewGuard(cfg Config, blacklist *Blacklist, chain *audit.Chain, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:       cfg,
		ledger:    NewLedger(cfg.Window),
		blacklist: blacklist,
		chain:     chain,
		logger:    logger,
		lockouts:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Ledger exposes the underlying attempt ledger for breach heuristics.
func (g *Guard) Ledger() *Ledger { return g.ledger }

// RecordFailure registers one authentication failure for identity and
// applies any state transition it triggers.
func (g *Guard) RecordFailure(ctx context.Context, identity string, meta Meta) FailureResult {
	if g.blacklist.Contains(identity) {
		return FailureResult{Blacklisted: true}
	}

	windowCount, cumulative := g.ledger.RecordFailure(identity)

	result := FailureResult{
		Failures:          windowCount,
		RemainingAttempts: g.cfg.MaxAttempts - windowCount,
		Delay:             backoffDelay(windowCount),
	}
	if result.RemainingAttempts < 0 {
		result.RemainingAttempts = 0
	}

	if cumulative >= g.cfg.BlacklistThreshold {
		g.blacklist.Add(ctx, identity, "failure_threshold_exceeded")
		g.audit(models.AuditEventTypeBlacklist, models.RiskLevelCritical, identity, meta, models.AuditDetails{
			"cumulative_failures": cumulative,
			"threshold":           g.cfg.BlacklistThreshold,
		})
		result.Blacklisted = true
		return result
	}

	if windowCount >= g.cfg.MaxAttempts {
		lockedUntil := g.now().Add(g.cfg.LockoutDuration)

		g.mu.Lock()
		g.lockouts[identity] = lockedUntil
		g.mu.Unlock()

		g.audit(models.AuditEventTypeLockout, models.RiskLevelHigh, identity, meta, models.AuditDetails{
			"failures":     windowCount,
			"locked_until": lockedUntil.UTC().Format(time.RFC3339),
		})
		g.logger.Warn("identity locked out",
			slog.String("identity", identity),
			slog.Int("failures", windowCount),
			slog.Time("locked_until", lockedUntil))

		result.Locked = true
		result.LockedUntil = lockedUntil
	}

	return result
}

// CheckLockout reports whether identity is currently locked and for
// how much longer. An expired lockout is cleared together with the
// in-window attempt history, so accumulation restarts from scratch.
func (g *Guard) CheckLockout(identity string) (bool, time.Duration) {
	if g.blacklist.Contains(identity) {
		return true, 0
	}

	now := g.now()

	g.mu.Lock()
	lockedUntil, ok := g.lockouts[identity]
	expired := ok && !now.Before(lockedUntil)
	if expired {
		delete(g.lockouts, identity)
		ok = false
	}
	g.mu.Unlock()

	if expired {
		// Fresh start: the served lockout wipes the attempt history
		g.ledger.ClearWindow(identity)
	}
	if !ok {
		return false, 0
	}

	// Lockout still active
	return true, lockedUntil.Sub(now)
}

// RecordSuccess clears the identity's attempt history and any active
// lockout. It never clears a blacklist entry.
func (g *Guard) RecordSuccess(identity string) {
	g.ledger.Clear(identity)

	g.mu.Lock()
	delete(g.lockouts, identity)
	g.mu.Unlock()
}

// Cleanup reaps expired lockouts and idle ledger records.
func (g *Guard) Cleanup() int {
	now := g.now()

	g.mu.Lock()
	removed := 0
	for identity, until := range g.lockouts {
		if !now.Before(until) {
			delete(g.lockouts, identity)
			removed++
		}
	}
	g.mu.Unlock()

	return removed + g.ledger.Cleanup()
}

func (g *Guard) audit(eventType, riskLevel, identity string, meta Meta, details models.AuditDetails) {
	if g.chain == nil {
		return
	}
	g.chain.Append(audit.Event{
		Type:      eventType,
		RiskLevel: riskLevel,
		Actor:     identity,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	})
}

// backoffDelay doubles per consecutive failure, capped at 30s. The
// caller applies it before responding to slow automated retries.
func backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 6 {
		return maxBackoff
	}
	delay := time.Duration(1<<(failures-1)) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
