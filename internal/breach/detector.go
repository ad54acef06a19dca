package breach

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"palisade/internal/models"
)

// Thresholds are deployment tunables, not normative constants.
type Thresholds struct {
	BruteForceCount  int
	BruteForceWindow time.Duration
	VolumeRecords    int
	APIAbuseCount    int
	APIAbuseWindow   time.Duration
	PaymentFailures  int
	PaymentWindow    time.Duration
}

// DefaultThresholds returns the stock heuristic configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BruteForceCount:  10,
		BruteForceWindow: 15 * time.Minute,
		VolumeRecords:    1000,
		APIAbuseCount:    1000,
		APIAbuseWindow:   60 * time.Second,
		PaymentFailures:  5,
		PaymentWindow:    10 * time.Minute,
	}
}

// Result describes a heuristic firing. Nil means no breach detected.
type Result struct {
	Severity            string
	BreachType          string
	AffectedRecordCount int
	AffectedIdentities  []string
	Description         string
	MitigationSteps     []string
}

// SQL control tokens that have no business appearing in user input.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)\b(or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+`),
	regexp.MustCompile(`(?i);\s*(drop|truncate|alter)\s+table\b`),
	regexp.MustCompile(`(?i)\binto\s+(out|dump)file\b`),
	regexp.MustCompile(`(?i)\bexec(\s|\()+(s|x)p\w+`),
	regexp.MustCompile(`(--|#|/\*)\s*$`),
	regexp.MustCompile(`(?i)'\s*or\s*'[^']*'\s*=\s*'`),
}

// Detector runs independent, stateless heuristics over data callers
// supply. It holds no per-identity state of its own.
type Detector struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(thresholds Thresholds, logger *slog.Logger) *Detector {
	return &Detector{thresholds: thresholds, logger: logger}
}

// CheckBruteForce fires when one identity accumulates enough failed
// logins inside the brute-force window.
func (d *Detector) CheckBruteForce(identity string, failures []time.Time) *Result {
	cutoff := time.Now().Add(-d.thresholds.BruteForceWindow)

	count := 0
	for _, ts := range failures {
		if !ts.Before(cutoff) {
			count++
		}
	}

	if count < d.thresholds.BruteForceCount {
		return nil
	}

	return &Result{
		Severity:            models.BreachSeverityCritical,
		BreachType:          models.BreachTypeBruteForce,
		AffectedRecordCount: count,
		AffectedIdentities:  []string{identity},
		Description: fmt.Sprintf("%d failed login attempts for %s within %s",
			count, identity, d.thresholds.BruteForceWindow),
		MitigationSteps: []string{
			"identity locked out by brute-force guard",
			"review audit chain for accessed resources",
			"force credential reset for targeted accounts",
		},
	}
}

// CheckAccessVolume fires when a single operation touches an unusual
// number of records for one actor.
func (d *Detector) CheckAccessVolume(actor string, recordCount int) *Result {
	if recordCount < d.thresholds.VolumeRecords {
		return nil
	}

	return &Result{
		Severity:            models.BreachSeverityHigh,
		BreachType:          models.BreachTypeUnusualVolume,
		AffectedRecordCount: recordCount,
		AffectedIdentities:  []string{actor},
		Description:         fmt.Sprintf("single operation by %s touched %d records", actor, recordCount),
		MitigationSteps: []string{
			"review the query and its authorization scope",
			"check for data exfiltration in egress logs",
		},
	}
}

// CheckAPIAbuse fires when one identity hammers one endpoint beyond
// the abuse ceiling within the abuse window.
func (d *Detector) CheckAPIAbuse(identity, endpoint string, requestCount int, window time.Duration) *Result {
	if window > d.thresholds.APIAbuseWindow || requestCount < d.thresholds.APIAbuseCount {
		return nil
	}

	return &Result{
		Severity:            models.BreachSeverityCritical,
		BreachType:          models.BreachTypeAPIAbuse,
		AffectedRecordCount: requestCount,
		AffectedIdentities:  []string{identity},
		Description: fmt.Sprintf("%d requests to %s from %s within %s",
			requestCount, endpoint, identity, window),
		MitigationSteps: []string{
			"identity rate limited",
			"consider blacklisting the source",
		},
	}
}

// CheckInjection fires on any input containing SQL control tokens,
// regardless of volume.
func (d *Detector) CheckInjection(identity, input string) *Result {
	matched := ""
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(input) {
			matched = pattern.String()
			break
		}
	}
	if matched == "" {
		return nil
	}

	return &Result{
		Severity:            models.BreachSeverityCritical,
		BreachType:          models.BreachTypeInjection,
		AffectedRecordCount: 1,
		AffectedIdentities:  []string{identity},
		Description:         fmt.Sprintf("input from %s matched injection pattern %s", identity, matched),
		MitigationSteps: []string{
			"request rejected before reaching the data layer",
			"verify parameterized queries on the targeted endpoint",
		},
	}
}

// CheckPaymentFraud fires when one account accumulates enough failed
// payment attempts inside the payment window.
func (d *Detector) CheckPaymentFraud(account string, failures []time.Time) *Result {
	cutoff := time.Now().Add(-d.thresholds.PaymentWindow)

	count := 0
	for _, ts := range failures {
		if !ts.Before(cutoff) {
			count++
		}
	}

	if count < d.thresholds.PaymentFailures {
		return nil
	}

	return &Result{
		Severity:            models.BreachSeverityHigh,
		BreachType:          models.BreachTypePaymentFraud,
		AffectedRecordCount: count,
		AffectedIdentities:  []string{account},
		Description: fmt.Sprintf("%d failed payment attempts for %s within %s",
			count, account, d.thresholds.PaymentWindow),
		MitigationSteps: []string{
			"suspend payment methods on the account",
			"notify the payment processor's fraud desk",
		},
	}
}
