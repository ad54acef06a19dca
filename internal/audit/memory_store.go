package audit

import (
	"context"
	"sync"

	"palisade/internal/models"
)

// MemoryStore keeps chain entries in process memory, in creation
// order. Used for tests and deployments without a durable store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds an entry at the tail.
func (s *MemoryStore) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns all entries in creation order.
func (s *MemoryStore) Entries(_ context.Context) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Query filters entries in creation order.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditEntry, 0)
	for _, entry := range s.entries {
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Tail returns the most recently appended entry.
func (s *MemoryStore) Tail(_ context.Context) (*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, models.ErrNotFound
	}
	return s.entries[len(s.entries)-1], nil
}

func matches(entry *models.AuditEntry, filter Filter) bool {
	if filter.Actor != "" {
		if entry.Actor == nil || *entry.Actor != filter.Actor {
			return false
		}
	}
	if filter.EventType != "" && entry.EventType != filter.EventType {
		return false
	}
	if filter.RiskLevel != "" && entry.RiskLevel != filter.RiskLevel {
		return false
	}
	if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
		return false
	}
	return true
}
