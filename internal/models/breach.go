package models

import (
	"time"

	"github.com/google/uuid"
)

// Breach types
const (
	BreachTypeBruteForce     = "brute_force"
	BreachTypeUnusualVolume  = "unusual_access_volume"
	BreachTypeAPIAbuse       = "api_abuse"
	BreachTypeInjection      = "injection_attempt"
	BreachTypePaymentFraud   = "payment_fraud"
)

// Breach severities
const (
	BreachSeverityLow      = "LOW"
	BreachSeverityMedium   = "MEDIUM"
	BreachSeverityHigh     = "HIGH"
	BreachSeverityCritical = "CRITICAL"
)

// DisclosureWindow is the time budget between detection and mandatory
// notification.
const DisclosureWindow = 72 * time.Hour

// BreachRecord is a persisted security incident. NotifiedAt is nil
// until the disclosure workflow has actually sent a notification.
type BreachRecord struct {
	ID                  uuid.UUID  `db:"id"`
	Severity            string     `db:"severity"`
	BreachType          string     `db:"breach_type"`
	AffectedRecordCount int        `db:"affected_record_count"`
	AffectedIdentities  []string   `db:"affected_identities"`
	Description         string     `db:"description"`
	MitigationSteps     []string   `db:"mitigation_steps"`
	DetectedAt          time.Time  `db:"detected_at"`
	NotifiedAt          *time.Time `db:"notified_at"`
}

// DisclosureDeadline is derived from DetectedAt, never stored.
func (b *BreachRecord) DisclosureDeadline() time.Time {
	return b.DetectedAt.Add(DisclosureWindow)
}

// HoursUntilDeadline returns the remaining disclosure budget in hours,
// clamped at zero once the deadline has passed.
func (b *BreachRecord) HoursUntilDeadline(now time.Time) float64 {
	remaining := b.DisclosureDeadline().Sub(now).Hours()
	if remaining < 0 {
		return 0
	}
	return remaining
}
