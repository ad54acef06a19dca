package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palisade/internal/bruteforce"
	"palisade/internal/ratelimit"
	pkglogger "palisade/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testAdmission(t *testing.T, policy ratelimit.Policy) (*Admission, *bruteforce.Blacklist, *bruteforce.Guard) {
	t.Helper()

	blacklist := bruteforce.NewBlacklist(nil, testLogger())
	guard := bruteforce.NewGuard(bruteforce.DefaultConfig(), blacklist, nil, testLogger())

	limiters := map[string]*ratelimit.Limiter{
		ClassAuth: ratelimit.NewLimiter(policy, nil, testLogger()),
		ClassAPI:  ratelimit.NewLimiter(policy, nil, testLogger()),
	}

	return NewAdmission(limiters, blacklist, guard, nil, nil, nil, testLogger()), blacklist, guard
}

func newRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/resource", nil)
	r.RemoteAddr = "203.0.113.5"
	return r
}

func TestAdmission_AllowsAndSetsHeaders(t *testing.T) {
	admission, _, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 10, BurstCapacity: 5, RefillPerSecond: 1,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestAdmission_RejectsWhenWindowExhausted(t *testing.T) {
	admission, _, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 2, BurstCapacity: 10, RefillPerSecond: 10,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest())
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAdmission_RejectsWhenBurstExhausted(t *testing.T) {
	admission, _, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 100, BurstCapacity: 1, RefillPerSecond: 0.001,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestAdmission_BlacklistedGets403(t *testing.T) {
	admission, blacklist, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 10, BurstCapacity: 5, RefillPerSecond: 1,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	blacklist.Add(context.Background(), "ip:203.0.113.5", "test")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "IP_BLACKLISTED")
	// No retry hint for terminal blocks
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestAdmission_LockedOutAuthGets429(t *testing.T) {
	admission, _, guard := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 100, BurstCapacity: 50, RefillPerSecond: 10,
	})
	handler := admission.ForClass(ClassAuth)(okHandler())

	identity := "ip:203.0.113.5"
	meta := bruteforce.Meta{IPAddress: "203.0.113.5"}
	for i := 0; i < 5; i++ {
		guard.RecordFailure(context.Background(), identity, meta)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACCOUNT_LOCKED")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAdmission_LockoutDoesNotApplyToAPIClass(t *testing.T) {
	admission, _, guard := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 100, BurstCapacity: 50, RefillPerSecond: 10,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	identity := "ip:203.0.113.5"
	for i := 0; i < 5; i++ {
		guard.RecordFailure(context.Background(), identity, bruteforce.Meta{})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmission_UnknownClassPanics(t *testing.T) {
	admission, _, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 10, BurstCapacity: 5, RefillPerSecond: 1,
	})

	assert.Panics(t, func() { admission.ForClass("UNKNOWN") })
}

func TestIdentity_StripsEphemeralPort(t *testing.T) {
	r := newRequest()
	r.RemoteAddr = "203.0.113.5:41234"
	assert.Equal(t, "ip:203.0.113.5", Identity(r))

	// RealIP leaves a bare address when a forwarding header was present
	r.RemoteAddr = "203.0.113.5"
	assert.Equal(t, "ip:203.0.113.5", Identity(r))
}

func TestAdmission_ReconnectingClientSharesBudget(t *testing.T) {
	admission, blacklist, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 1, BurstCapacity: 1, RefillPerSecond: 0.001,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	// Same client IP on two different source ports must draw from one
	// budget, and a blacklist entry must hold across reconnects.
	first := newRequest()
	first.RemoteAddr = "203.0.113.5:50001"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := newRequest()
	second.RemoteAddr = "203.0.113.5:50002"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	blacklist.Add(context.Background(), "ip:203.0.113.5", "test")

	third := newRequest()
	third.RemoteAddr = "203.0.113.5:50003"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, third)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmission_DenialsReachSecurityLog(t *testing.T) {
	blacklist := bruteforce.NewBlacklist(nil, testLogger())
	guard := bruteforce.NewGuard(bruteforce.DefaultConfig(), blacklist, nil, testLogger())
	limiters := map[string]*ratelimit.Limiter{
		ClassAPI: ratelimit.NewLimiter(ratelimit.Policy{
			Window: time.Minute, MaxRequests: 1, BurstCapacity: 1, RefillPerSecond: 0.001,
		}, nil, testLogger()),
	}

	var buf bytes.Buffer
	secondary := pkglogger.NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	admission := NewAdmission(limiters, blacklist, guard, nil, nil, secondary, testLogger())
	handler := admission.ForClass(ClassAPI)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, buf.String(), "allowed requests stay off the security channel")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, buf.String(), "admission_denied")
	assert.Contains(t, buf.String(), "rate_limit_exceeded")
	assert.Contains(t, buf.String(), "ip:203.0.113.5")
}

func TestAdmission_IdentitiesAreIndependent(t *testing.T) {
	admission, _, _ := testAdmission(t, ratelimit.Policy{
		Window: time.Minute, MaxRequests: 1, BurstCapacity: 1, RefillPerSecond: 0.001,
	})
	handler := admission.ForClass(ClassAPI)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := newRequest()
	other.RemoteAddr = "198.51.100.7"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}
