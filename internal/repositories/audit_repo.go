package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"palisade/internal/audit"
	"palisade/internal/database"
	"palisade/internal/models"
)

// AuditEntryRepository persists hash-chained audit entries
type AuditEntryRepository struct {
	pool *pgxpool.Pool
}

// NewAuditEntryRepository creates a new AuditEntryRepository
func NewAuditEntryRepository(db *database.DB) *AuditEntryRepository {
	return &AuditEntryRepository{pool: db.Pool}
}

// rowScanner interface for scanning entry rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEntryRow(row rowScanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry

	err := row.Scan(
		&entry.ID, &entry.EventType, &entry.RiskLevel, &entry.Actor,
		&entry.IPAddress, &entry.UserAgent, &entry.EncryptedDetails,
		&entry.IV, &entry.AuthTag, &entry.CreatedAt,
		&entry.Hash, &entry.PreviousHash,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanAuditEntryRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		entry, err := scanAuditEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}

const auditEntryColumns = `id, event_type, risk_level, actor, ip_address, user_agent,
	       encrypted_details, iv, auth_tag, created_at, hash, previous_hash`

// Append inserts a new chain entry. Entries are immutable once written;
// there is no update path.
func (r *AuditEntryRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			id, event_type, risk_level, actor, ip_address, user_agent,
			encrypted_details, iv, auth_tag, created_at, hash, previous_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(
		ctx, query,
		entry.ID, entry.EventType, entry.RiskLevel, entry.Actor,
		entry.IPAddress, entry.UserAgent, entry.EncryptedDetails,
		entry.IV, entry.AuthTag, entry.CreatedAt,
		entry.Hash, entry.PreviousHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", database.MapPostgresError(err))
	}

	return nil
}

// Entries returns the full chain in creation order.
func (r *AuditEntryRepository) Entries(ctx context.Context) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditEntryColumns + `
		FROM audit_entries
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditEntryRows(rows)
}

// Query returns entries matching filter in creation order. Zero-valued
// filter fields match everything.
func (r *AuditEntryRepository) Query(ctx context.Context, filter audit.Filter) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditEntryColumns + `
		FROM audit_entries
		WHERE ($1 = '' OR actor = $1)
		  AND ($2 = '' OR event_type = $2)
		  AND ($3 = '' OR risk_level = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at ASC, id ASC
	`

	args := []interface{}{
		filter.Actor, filter.EventType, filter.RiskLevel,
		nullableTime(filter.From), nullableTime(filter.To),
	}

	if filter.Limit > 0 {
		query += ` LIMIT $6`
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditEntryRows(rows)
}

// Tail returns the most recently created entry, or models.ErrNotFound
// for an empty chain.
func (r *AuditEntryRepository) Tail(ctx context.Context) (*models.AuditEntry, error) {
	query := `
		SELECT ` + auditEntryColumns + `
		FROM audit_entries
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	entry, err := scanAuditEntryRow(r.pool.QueryRow(ctx, query))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read audit chain tail: %w", err)
	}

	return entry, nil
}

// nullableTime maps the zero time to SQL NULL so filter predicates can
// treat it as "unset".
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
