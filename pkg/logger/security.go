package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a security-relevant decision worth logging
// even when the durable audit chain is unavailable.
type SecurityEvent struct {
	EventType     string
	RiskLevel     string
	Identity      string
	IPAddress     string
	UserAgent     string
	Allowed       bool
	FailureReason string
	Metadata      map[string]string
}

// SecurityLogger is the best-effort secondary channel for security
// events. AuditChain failures land here so the primary business
// operation never pays for a broken audit path.
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// LogDecision logs an admission or abuse-defense decision
func (sl *SecurityLogger) LogDecision(event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security_decision"),
		slog.String("event_type", event.EventType),
		slog.Bool("allowed", event.Allowed),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.RiskLevel != "" {
		attrs = append(attrs, slog.String("risk_level", event.RiskLevel))
	}
	if event.Identity != "" {
		attrs = append(attrs, slog.String("identity", event.Identity))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	if event.Allowed {
		sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "security", attrs...)
	} else {
		sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "security", attrs...)
	}
}

// LogAuditFailure records an audit-chain write failure. The failed
// event's identifying fields are preserved so the trail can be
// reconstructed manually.
func (sl *SecurityLogger) LogAuditFailure(eventType, identity string, err error) {
	sl.logger.LogAttrs(context.Background(), slog.LevelError, "audit_chain_failure",
		slog.String("audit_type", "chain_failure"),
		slog.String("event_type", eventType),
		slog.String("identity", identity),
		slog.Any("error", err),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}
