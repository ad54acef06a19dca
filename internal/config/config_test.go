package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("AUDIT_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Setenv("TOKEN_SECRET", "a-perfectly-reasonable-dev-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Database.Enabled)
	assert.Empty(t, cfg.Redis.Addr)

	assert.Equal(t, 5, cfg.Admission.Auth.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Admission.Auth.Window)
	assert.Equal(t, 100, cfg.Admission.API.MaxRequests)
	assert.Equal(t, 300, cfg.Admission.Static.MaxRequests)
	assert.Equal(t, 10, cfg.Admission.Expensive.MaxRequests)

	assert.Equal(t, 5, cfg.Guard.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Guard.LockoutDuration)
	assert.Equal(t, 20, cfg.Guard.BlacklistThreshold)

	assert.Equal(t, 30*24*time.Hour, cfg.Rotation.GracePeriod)
}

func TestLoadMissingAuditKey(t *testing.T) {
	t.Setenv("AUDIT_ENCRYPTION_KEY", "")
	t.Setenv("TOKEN_SECRET", "a-perfectly-reasonable-dev-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIT_ENCRYPTION_KEY")
}

func TestLoadAuditKeyWrongLength(t *testing.T) {
	t.Setenv("AUDIT_ENCRYPTION_KEY", "deadbeef")
	t.Setenv("TOKEN_SECRET", "a-perfectly-reasonable-dev-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_MAX_REQUESTS", "3")
	t.Setenv("GUARD_LOCKOUT_DURATION", "30m")
	t.Setenv("NOTIFY_RECIPIENTS", "a@example.com, b@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Admission.Auth.MaxRequests)
	assert.Equal(t, 30*time.Minute, cfg.Guard.LockoutDuration)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.Recipients)
}

func TestValidateSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"short in development", "tooshort", "development", true},
		{"ok in development", "sixteen-chars-ok", "development", false},
		{"ok in dev, short in prod", "sixteen-chars-ok", "production", true},
		{"long enough in production", strings.Repeat("x", 32), "production", false},
		{"common weak value", "changeme", "development", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSecret(tt.secret, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "pw", Name: "palisade", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=palisade sslmode=disable",
		db.DSN())
}
