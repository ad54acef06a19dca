package breach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"palisade/internal/audit"
	"palisade/internal/models"
)

// Repository is the durable backend for breach records.
type Repository interface {
	Create(ctx context.Context, record *models.BreachRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BreachRecord, error)
	ListUnnotified(ctx context.Context, severities []string) ([]*models.BreachRecord, error)
	MarkNotified(ctx context.Context, id uuid.UUID, notifiedAt time.Time) error
}

// Service persists detector findings and answers disclosure-deadline
// queries. RecordBreach opens the 72-hour clock; NotifiedAt is set
// exclusively by the notification workflow.
type Service struct {
	repo   Repository
	chain  *audit.Chain
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the service to its repository and audit chain.
func NewService(repo Repository, chain *audit.Chain, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		chain:  chain,
		logger: logger,
		now:    time.Now,
	}
}

// RecordBreach persists a heuristic firing as a BreachRecord and
// returns its id.
func (s *Service) RecordBreach(ctx context.Context, result *Result) (uuid.UUID, error) {
	record := &models.BreachRecord{
		ID:                  uuid.New(),
		Severity:            result.Severity,
		BreachType:          result.BreachType,
		AffectedRecordCount: result.AffectedRecordCount,
		AffectedIdentities:  result.AffectedIdentities,
		Description:         result.Description,
		MitigationSteps:     result.MitigationSteps,
		DetectedAt:          s.now().UTC(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist breach record: %w", err)
	}

	s.logger.Warn("breach recorded",
		slog.String("breach_id", record.ID.String()),
		slog.String("breach_type", record.BreachType),
		slog.String("severity", record.Severity))

	if s.chain != nil {
		actor := ""
		if len(result.AffectedIdentities) > 0 {
			actor = result.AffectedIdentities[0]
		}
		s.chain.Append(audit.Event{
			Type:      models.AuditEventTypeBreachDetected,
			RiskLevel: result.Severity,
			Actor:     actor,
			Details: models.AuditDetails{
				"breach_id":   record.ID.String(),
				"breach_type": record.BreachType,
				"description": record.Description,
			},
		})
	}

	return record.ID, nil
}

// Evaluate runs RecordBreach for a non-nil heuristic result, failing
// open: a store error is logged and swallowed so the request that
// triggered the check is never blocked by breach bookkeeping.
func (s *Service) Evaluate(ctx context.Context, result *Result) {
	if result == nil {
		return
	}
	if _, err := s.RecordBreach(ctx, result); err != nil {
		s.logger.Error("breach detection failed open",
			slog.String("breach_type", result.BreachType),
			slog.Any("error", err))
	}
}

// HoursUntilDeadline returns the remaining disclosure budget for a
// breach, clamped at zero.
func (s *Service) HoursUntilDeadline(ctx context.Context, id uuid.UUID) (float64, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to load breach record: %w", err)
	}
	return record.HoursUntilDeadline(s.now()), nil
}

// ListUnnotifiedApproachingDeadline returns HIGH and CRITICAL records
// with no notification yet, ordered by detection time ascending so the
// nearest deadline comes first. Read-only; NotifiedAt is untouched.
func (s *Service) ListUnnotifiedApproachingDeadline(ctx context.Context) ([]*models.BreachRecord, error) {
	records, err := s.repo.ListUnnotified(ctx, []string{models.BreachSeverityHigh, models.BreachSeverityCritical})
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified breaches: %w", err)
	}
	return records, nil
}
