package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"palisade/internal/database"
	"palisade/internal/models"
)

// BreachRepository persists breach records for the disclosure workflow
type BreachRepository struct {
	pool *pgxpool.Pool
}

// NewBreachRepository creates a new BreachRepository
func NewBreachRepository(db *database.DB) *BreachRepository {
	return &BreachRepository{pool: db.Pool}
}

func scanBreachRow(row rowScanner) (*models.BreachRecord, error) {
	var record models.BreachRecord

	err := row.Scan(
		&record.ID, &record.Severity, &record.BreachType,
		&record.AffectedRecordCount, &record.AffectedIdentities,
		&record.Description, &record.MitigationSteps,
		&record.DetectedAt, &record.NotifiedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &record, nil
}

func scanBreachRows(rows pgx.Rows) ([]*models.BreachRecord, error) {
	defer rows.Close()

	records := make([]*models.BreachRecord, 0)

	for rows.Next() {
		record, err := scanBreachRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan breach record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breach rows: %w", err)
	}

	return records, nil
}

// Create inserts a new breach record with the disclosure clock open.
func (r *BreachRepository) Create(ctx context.Context, record *models.BreachRecord) error {
	query := `
		INSERT INTO breach_records (
			id, severity, breach_type, affected_record_count,
			affected_identities, description, mitigation_steps, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(
		ctx, query,
		record.ID, record.Severity, record.BreachType, record.AffectedRecordCount,
		record.AffectedIdentities, record.Description, record.MitigationSteps,
		record.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create breach record: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetByID retrieves a single breach record
func (r *BreachRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BreachRecord, error) {
	query := `
		SELECT id, severity, breach_type, affected_record_count,
		       affected_identities, description, mitigation_steps,
		       detected_at, notified_at
		FROM breach_records
		WHERE id = $1
	`

	return scanBreachRow(r.pool.QueryRow(ctx, query, id))
}

// ListUnnotified returns unnotified records of the given severities,
// oldest detection first so the tightest deadline leads.
func (r *BreachRepository) ListUnnotified(ctx context.Context, severities []string) ([]*models.BreachRecord, error) {
	query := `
		SELECT id, severity, breach_type, affected_record_count,
		       affected_identities, description, mitigation_steps,
		       detected_at, notified_at
		FROM breach_records
		WHERE notified_at IS NULL AND severity = ANY($1)
		ORDER BY detected_at ASC
	`

	rows, err := r.pool.Query(ctx, query, severities)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnotified breaches: %w", err)
	}

	return scanBreachRows(rows)
}

// MarkNotified stamps notified_at exactly once. A second call for the
// same record returns models.ErrConflict.
func (r *BreachRepository) MarkNotified(ctx context.Context, id uuid.UUID, notifiedAt time.Time) error {
	query := `
		UPDATE breach_records
		SET notified_at = $2
		WHERE id = $1 AND notified_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, notifiedAt)
	if err != nil {
		return fmt.Errorf("failed to mark breach notified: %w", database.MapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrConflict
	}

	return nil
}

func (r *BreachRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM breach_records WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check breach record: %w", err)
	}
	return exists, nil
}
