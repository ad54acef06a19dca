package bruteforce

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"palisade/internal/models"
)

// BlacklistStore persists terminal blacklist entries so they survive
// process restarts. Optional; a nil store keeps entries memory-only.
type BlacklistStore interface {
	Insert(ctx context.Context, entry models.BlacklistEntry) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]models.BlacklistEntry, error)
}

// Blacklist is the authoritative in-memory set of terminally blocked
// identities. Membership checks sit on the hot request path, so the
// set is always consulted in memory; the store is written through on
// a best-effort basis.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]models.BlacklistEntry
	store   BlacklistStore
	logger  *slog.Logger
}

// NewBlacklist creates a blacklist backed by an optional store.
func NewBlacklist(store BlacklistStore, logger *slog.Logger) *Blacklist {
	return &Blacklist{
		entries: make(map[string]models.BlacklistEntry),
		store:   store,
		logger:  logger,
	}
}

// Load hydrates the in-memory set from the store at boot.
func (b *Blacklist) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	entries, err := b.store.List(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		b.entries[entry.Identity] = entry
	}
	return nil
}

// Add blacklists an identity. Already-listed identities keep their
// original entry. A store failure is logged, never propagated: the
// block must take effect even when persistence is down.
func (b *Blacklist) Add(ctx context.Context, identity, reason string) {
	entry := models.BlacklistEntry{
		Identity: identity,
		Reason:   reason,
		AddedAt:  time.Now().UTC(),
	}

	b.mu.Lock()
	if _, exists := b.entries[identity]; exists {
		b.mu.Unlock()
		return
	}
	b.entries[identity] = entry
	b.mu.Unlock()

	b.logger.Warn("identity blacklisted",
		slog.String("identity", identity),
		slog.String("reason", reason))

	if b.store != nil {
		if err := b.store.Insert(ctx, entry); err != nil {
			b.logger.Error("failed to persist blacklist entry",
				slog.String("identity", identity),
				slog.Any("error", err))
		}
	}
}

// Remove is the explicit administrative path out of the blacklist.
func (b *Blacklist) Remove(ctx context.Context, identity string) error {
	b.mu.Lock()
	_, exists := b.entries[identity]
	delete(b.entries, identity)
	b.mu.Unlock()

	if !exists {
		return models.ErrNotFound
	}

	if b.store != nil {
		if err := b.store.Delete(ctx, identity); err != nil {
			return err
		}
	}

	b.logger.Info("identity removed from blacklist", slog.String("identity", identity))
	return nil
}

// Contains reports whether identity is blacklisted.
func (b *Blacklist) Contains(identity string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[identity]
	return ok
}

// Entries returns all entries sorted by identity.
func (b *Blacklist) Entries() []models.BlacklistEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.BlacklistEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
