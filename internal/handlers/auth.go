package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"palisade/internal/audit"
	"palisade/internal/breach"
	"palisade/internal/bruteforce"
	"palisade/internal/models"
	"palisade/internal/secrets"
	pkghttp "palisade/pkg/http"
)

// CredentialChecker reports whether a username/password pair is valid.
type CredentialChecker func(username, password string) bool

// StaticCredentials builds a checker over a fixed credential set.
// Comparison is constant-time on the password.
func StaticCredentials(creds map[string]string) CredentialChecker {
	return func(username, password string) bool {
		expected, ok := creds[username]
		if !ok {
			// Burn comparable time for unknown users
			subtle.ConstantTimeCompare([]byte(password), []byte(password))
			return false
		}
		return len(expected) == len(password) &&
			subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
	}
}

// AuthHandler drives the protected login flow: lockout checks, failure
// accounting with backoff, breach heuristics and token issuance.
type AuthHandler struct {
	guard    *bruteforce.Guard
	verifier *secrets.TokenVerifier
	detector *breach.Detector
	breaches *breach.Service
	chain    *audit.Chain
	check    CredentialChecker
	logger   *slog.Logger

	// sleep applies the failure backoff; injectable for tests
	sleep func(time.Duration)
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	guard *bruteforce.Guard,
	verifier *secrets.TokenVerifier,
	detector *breach.Detector,
	breaches *breach.Service,
	chain *audit.Chain,
	check CredentialChecker,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		guard:    guard,
		verifier: verifier,
		detector: detector,
		breaches: breaches,
		chain:    chain,
		check:    check,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=254"`
	Password string `json:"password" validate:"required,min=1,max=512"`
}

// Login authenticates a username/password pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	identity := "user:" + req.Username
	meta := bruteforce.Meta{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}

	// Injection probes in the username field are a breach signal on
	// their own, independent of the credential outcome.
	if result := h.detector.CheckInjection(identity, req.Username); result != nil {
		h.breaches.Evaluate(r.Context(), result)
		pkghttp.WriteBadRequest(w, "invalid username")
		return
	}

	if locked, remaining := h.guard.CheckLockout(identity); locked {
		if remaining == 0 {
			pkghttp.WriteBlacklisted(w)
			return
		}
		pkghttp.WriteLocked(w, remaining, "account temporarily locked")
		return
	}

	if !h.check(req.Username, req.Password) {
		h.loginFailed(w, r, identity, req.Username, meta)
		return
	}

	h.guard.RecordSuccess(identity)
	h.audit(models.AuditEventTypeLoginSuccess, models.RiskLevelLow, identity, meta, nil)

	token, err := h.verifier.Issue(identity)
	if err != nil {
		h.logger.Error("token issuance failed",
			slog.String("identity", identity), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to issue token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
	})
}

func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, identity, username string, meta bruteforce.Meta) {
	result := h.guard.RecordFailure(r.Context(), identity, meta)

	h.audit(models.AuditEventTypeLoginFailure, models.RiskLevelMedium, identity, meta, models.AuditDetails{
		"failures":           result.Failures,
		"remaining_attempts": result.RemainingAttempts,
	})

	// Feed the failure history to the breach heuristics. Evaluate fails
	// open, so the response below is never blocked by it.
	if breachResult := h.detector.CheckBruteForce(identity, h.guard.Ledger().Timestamps(identity)); breachResult != nil {
		h.breaches.Evaluate(r.Context(), breachResult)
	}

	// Backoff before responding to slow automated retries
	h.sleep(result.Delay)

	switch {
	case result.Blacklisted:
		pkghttp.WriteBlacklisted(w)
	case result.Locked:
		pkghttp.WriteLocked(w, time.Until(result.LockedUntil), "account temporarily locked")
	default:
		w.Header().Set("X-Remaining-Attempts", strconv.Itoa(result.RemainingAttempts))
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials",
			"invalid username or password")
	}
}

func (h *AuthHandler) audit(eventType, riskLevel, identity string, meta bruteforce.Meta, details models.AuditDetails) {
	if h.chain == nil {
		return
	}
	h.chain.Append(audit.Event{
		Type:      eventType,
		RiskLevel: riskLevel,
		Actor:     identity,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	})
}
