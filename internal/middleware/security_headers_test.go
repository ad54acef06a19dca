package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applySecurityHeaders(t *testing.T, env string, mutate func(*http.Request)) http.Header {
	t.Helper()

	handler := SecurityHeaders(SecurityHeadersConfig{Env: env})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Header()
}

func TestSecurityHeaders_Production(t *testing.T) {
	headers := applySecurityHeaders(t, "production", nil)

	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "1; mode=block", headers.Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", headers.Get("Referrer-Policy"))
	assert.NotEmpty(t, headers.Get("Permissions-Policy"))

	csp := headers.Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "script-src 'none'", "nothing served here runs scripts")
	assert.Contains(t, csp, "style-src 'self' 'unsafe-inline'", "decoy pages style themselves inline")
}

func TestSecurityHeaders_Development(t *testing.T) {
	headers := applySecurityHeaders(t, "development", nil)

	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Contains(t, headers.Get("Content-Security-Policy"), "'unsafe-inline'")
	assert.Empty(t, headers.Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_HSTSOnlyBehindTLS(t *testing.T) {
	headers := applySecurityHeaders(t, "production", nil)
	assert.Empty(t, headers.Get("Strict-Transport-Security"))

	headers = applySecurityHeaders(t, "production", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	assert.Contains(t, headers.Get("Strict-Transport-Security"), "max-age=31536000")
}
