package ratelimit

import (
	"sync"
	"time"
)

// WindowStore is a per-identity fixed-window counter. An entry whose
// reset time has passed is stale and gets replaced, never incremented.
type WindowStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// NewWindowStore creates an empty window store.
func NewWindowStore() *WindowStore {
	return &WindowStore{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Increment bumps the identity's counter for the current window and
// returns the new count with the window's reset time.
func (s *WindowStore) Increment(identity string, window time.Duration) (int, time.Time) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[identity]
	if !ok || !now.Before(ent.resetAt) {
		ent = &windowEntry{count: 0, resetAt: now.Add(window)}
		s.entries[identity] = ent
	}

	ent.count++
	return ent.count, ent.resetAt
}

// Peek reports the identity's current window state without counting a
// request. A missing or stale entry reads as an empty window ending
// one window length from now.
func (s *WindowStore) Peek(identity string, window time.Duration) (int, time.Time) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[identity]
	if !ok || !now.Before(ent.resetAt) {
		return 0, now.Add(window)
	}
	return ent.count, ent.resetAt
}

// Cleanup removes entries whose window has already reset.
func (s *WindowStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if !now.Before(ent.resetAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked identities.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
