package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"palisade/internal/database"
	"palisade/internal/models"
)

// BlacklistRepository persists blacklist entries so terminal blocks
// survive restarts
type BlacklistRepository struct {
	pool *pgxpool.Pool
}

// NewBlacklistRepository creates a new BlacklistRepository
func NewBlacklistRepository(db *database.DB) *BlacklistRepository {
	return &BlacklistRepository{pool: db.Pool}
}

// Insert records a blacklisted identity. Re-inserting an identity keeps
// the original row.
func (r *BlacklistRepository) Insert(ctx context.Context, entry models.BlacklistEntry) error {
	query := `
		INSERT INTO blacklist_entries (identity, reason, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, entry.Identity, entry.Reason, entry.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", database.MapPostgresError(err))
	}

	return nil
}

// Delete removes an identity from the persisted blacklist.
func (r *BlacklistRepository) Delete(ctx context.Context, identity string) error {
	query := `DELETE FROM blacklist_entries WHERE identity = $1`

	_, err := r.pool.Exec(ctx, query, identity)
	if err != nil {
		return fmt.Errorf("failed to delete blacklist entry: %w", database.MapPostgresError(err))
	}

	return nil
}

// List returns every persisted entry for boot-time hydration.
func (r *BlacklistRepository) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	query := `
		SELECT identity, reason, added_at
		FROM blacklist_entries
		ORDER BY added_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.BlacklistEntry, 0)
	for rows.Next() {
		var entry models.BlacklistEntry
		if err := rows.Scan(&entry.Identity, &entry.Reason, &entry.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", database.MapPostgresError(err))
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist rows: %w", err)
	}

	return entries, nil
}
