package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types for the audit chain
const (
	AuditEventTypeLoginFailure   = "login_failure"
	AuditEventTypeLoginSuccess   = "login_success"
	AuditEventTypeLockout        = "account_lockout"
	AuditEventTypeBlacklist      = "identity_blacklisted"
	AuditEventTypeHoneypot       = "honeypot_triggered"
	AuditEventTypeRateLimit      = "rate_limit_rejected"
	AuditEventTypeBreachDetected = "breach_detected"
	AuditEventTypeSecretRotation = "secret_rotation"
	AuditEventTypeAdminAction    = "admin_action"
)

// Risk levels, ordered by severity
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// AuditEntry is one link of the hash chain. Details are stored
// encrypted; Hash covers every other field plus PreviousHash, so any
// retroactive edit breaks the chain from that entry forward.
type AuditEntry struct {
	ID               uuid.UUID `db:"id"`
	EventType        string    `db:"event_type"`
	RiskLevel        string    `db:"risk_level"`
	Actor            *string   `db:"actor"`
	IPAddress        string    `db:"ip_address"`
	UserAgent        *string   `db:"user_agent"`
	EncryptedDetails []byte    `db:"encrypted_details"`
	IV               []byte    `db:"iv"`
	AuthTag          []byte    `db:"auth_tag"`
	CreatedAt        time.Time `db:"created_at"`
	Hash             string    `db:"hash"`
	PreviousHash     string    `db:"previous_hash"`
}

// AuditDetails holds the plaintext context of an audit event before
// encryption and after decryption. Never persisted as-is.
type AuditDetails map[string]interface{}
