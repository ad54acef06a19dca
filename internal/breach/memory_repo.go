package breach

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"palisade/internal/models"
)

// MemoryRepository keeps breach records in process memory. Used for
// tests and deployments without a durable store.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.BreachRecord
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]*models.BreachRecord)}
}

// Create stores a new record.
func (r *MemoryRepository) Create(_ context.Context, record *models.BreachRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return models.ErrConflict
	}
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

// GetByID loads one record.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.BreachRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// ListUnnotified returns unnotified records of the given severities,
// ordered by detection time ascending.
func (r *MemoryRepository) ListUnnotified(_ context.Context, severities []string) ([]*models.BreachRecord, error) {
	wanted := make(map[string]bool, len(severities))
	for _, s := range severities {
		wanted[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.BreachRecord, 0)
	for _, record := range r.records {
		if record.NotifiedAt != nil {
			continue
		}
		if len(wanted) > 0 && !wanted[record.Severity] {
			continue
		}
		clone := *record
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

// All returns every record ordered by detection time ascending.
func (r *MemoryRepository) All() []*models.BreachRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.BreachRecord, 0, len(r.records))
	for _, record := range r.records {
		clone := *record
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// MarkNotified sets NotifiedAt exactly once.
func (r *MemoryRepository) MarkNotified(_ context.Context, id uuid.UUID, notifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return models.ErrNotFound
	}
	if record.NotifiedAt != nil {
		return models.ErrConflict
	}
	record.NotifiedAt = &notifiedAt
	return nil
}
