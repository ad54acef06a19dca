package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"palisade/internal/audit"
	"palisade/internal/bruteforce"
	"palisade/internal/models"
	"palisade/internal/ratelimit"
	pkghttp "palisade/pkg/http"
	pkglogger "palisade/pkg/logger"
)

// Endpoint classes, each with its own admission policy.
const (
	ClassAuth      = "AUTH"
	ClassAPI       = "API"
	ClassStatic    = "STATIC"
	ClassExpensive = "EXPENSIVE"
)

// Admission is the single front door for every request: blacklist
// check, lockout check, then the per-class rate limiter. Checks run in
// that order so a blacklisted caller never reaches cheaper gates.
type Admission struct {
	limiters  map[string]*ratelimit.Limiter
	blacklist *bruteforce.Blacklist
	guard     *bruteforce.Guard
	chain     *audit.Chain
	stats     *ratelimit.RedisStats
	secondary *pkglogger.SecurityLogger
	logger    *slog.Logger
}

// NewAdmission wires the admission layer. chain and stats may be nil.
func NewAdmission(
	limiters map[string]*ratelimit.Limiter,
	blacklist *bruteforce.Blacklist,
	guard *bruteforce.Guard,
	chain *audit.Chain,
	stats *ratelimit.RedisStats,
	secondary *pkglogger.SecurityLogger,
	logger *slog.Logger,
) *Admission {
	return &Admission{
		limiters:  limiters,
		blacklist: blacklist,
		guard:     guard,
		chain:     chain,
		stats:     stats,
		secondary: secondary,
		logger:    logger,
	}
}

// Identity derives the rate-limiting identity for a request. Requests
// are keyed by client IP; RealIP middleware must run first so
// RemoteAddr holds the right address behind a proxy. For direct
// connections RemoteAddr is host:port, and the ephemeral port must not
// leak into the key or every new connection would start fresh.
func Identity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// ForClass returns the admission middleware for one endpoint class.
func (a *Admission) ForClass(class string) func(http.Handler) http.Handler {
	limiter, ok := a.limiters[class]
	if !ok {
		// Misconfigured route group; fail loudly at startup rather than
		// silently admitting everything.
		panic("no admission limiter configured for class " + class)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Identity(r)

			if a.blacklist.Contains(identity) {
				a.record(r, identity, class, false)
				a.logDenial(r, identity, class, "blacklisted", models.RiskLevelHigh)
				pkghttp.WriteBlacklisted(w)
				return
			}

			if class == ClassAuth {
				if locked, remaining := a.guard.CheckLockout(identity); locked {
					if remaining == 0 {
						// Blacklist caught between checks
						pkghttp.WriteBlacklisted(w)
						return
					}
					a.record(r, identity, class, false)
					a.logDenial(r, identity, class, "account_locked", models.RiskLevelMedium)
					pkghttp.WriteLocked(w, remaining, "account temporarily locked")
					return
				}
			}

			decision := limiter.Check(identity)
			setRateHeaders(w, decision)

			if !decision.Allowed {
				a.record(r, identity, class, false)
				a.logDenial(r, identity, class, "rate_limit_exceeded", models.RiskLevelMedium)
				a.auditReject(r, identity, class, decision)
				pkghttp.WriteRateLimited(w, decision.RetryAfter, "rate limit exceeded")
				return
			}

			a.record(r, identity, class, true)
			next.ServeHTTP(w, r)
		})
	}
}

// setRateHeaders exposes the decision on every response, allowed or
// not, so well-behaved clients can pace themselves.
func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

// auditReject records rejections on sensitive classes only; STATIC and
// API rejections are high-volume noise the chain does not need.
func (a *Admission) auditReject(r *http.Request, identity, class string, d ratelimit.Decision) {
	if a.chain == nil || (class != ClassAuth && class != ClassExpensive) {
		return
	}

	a.chain.Append(audit.Event{
		Type:      models.AuditEventTypeRateLimit,
		RiskLevel: models.RiskLevelMedium,
		Actor:     identity,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Details: models.AuditDetails{
			"class": class,
			"path":  r.URL.Path,
			"limit": d.Limit,
		},
	})
}

// logDenial mirrors every rejection onto the secondary security
// channel, which stays available even when the audit chain is not.
func (a *Admission) logDenial(r *http.Request, identity, class, reason, risk string) {
	if a.secondary == nil {
		return
	}
	a.secondary.LogDecision(pkglogger.SecurityEvent{
		EventType:     "admission_denied",
		RiskLevel:     risk,
		Identity:      identity,
		IPAddress:     r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		Allowed:       false,
		FailureReason: reason,
		Metadata:      map[string]string{"class": class, "path": r.URL.Path},
	})
}

func (a *Admission) record(r *http.Request, identity, class string, allowed bool) {
	if a.stats == nil {
		return
	}
	// Fire and forget; stats must never delay a request. The request
	// context is not used because it dies with the handler.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.stats.Record(ctx, identity, class, allowed)
	}()
}
