package secrets

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"palisade/internal/models"
	pkglogger "palisade/pkg/logger"
)

// KeyPair is an immutable snapshot of the signing secrets. Readers
// always see a complete pair; rotation swaps the whole snapshot.
type KeyPair struct {
	Current           string
	Previous          string
	RotatedAt         time.Time
	PreviousExpiresAt time.Time
}

// Store persists key pairs. Backup and Restore give RotateAll its
// atomic-or-rollback behavior.
type Store interface {
	Load(ctx context.Context) (*KeyPair, error)
	Save(ctx context.Context, pair *KeyPair) error
	Backup(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Rotator generates and swaps signing secrets with a dual-validity
// grace window: the previous secret keeps verifying until it expires,
// so tokens signed moments before a rotation stay valid.
type Rotator struct {
	pair   atomic.Pointer[KeyPair]
	grace  time.Duration
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// rotateMu serializes writers; readers go through the atomic
	// pointer and never block.
	rotateMu sync.Mutex
}

// NewRotator seeds the rotator with an initial secret. A nil store
// keeps rotation memory-only.
func NewRotator(initialSecret string, grace time.Duration, store Store, logger *slog.Logger) *Rotator {
	r := &Rotator{
		grace:  grace,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	r.pair.Store(&KeyPair{
		Current:   initialSecret,
		RotatedAt: time.Now().UTC(),
	})
	return r
}

// LoadPersisted replaces the seeded pair with one previously saved to
// the store, so rotated secrets survive a restart. A missing file is
// not an error; the seed stays in place.
func (r *Rotator) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	pair, err := r.store.Load(ctx)
	if err != nil {
		if err == models.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to load persisted secrets: %w", err)
	}

	r.rotateMu.Lock()
	r.pair.Store(pair)
	r.rotateMu.Unlock()

	r.logger.Info("persisted secrets loaded",
		slog.String("current_preview", pkglogger.RedactedSecret(pair.Current)),
		slog.Time("rotated_at", pair.RotatedAt))
	return nil
}

// Snapshot returns the current immutable key pair.
func (r *Rotator) Snapshot() *KeyPair {
	return r.pair.Load()
}

// Current returns the secret used for new issuance.
func (r *Rotator) Current() string {
	return r.pair.Load().Current
}

// Rotate generates a fresh secret and swaps the snapshot. The old
// current becomes previous and stays valid for the grace period.
func (r *Rotator) Rotate() (*KeyPair, error) {
	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()
	return r.rotate()
}

// rotate swaps the snapshot. Callers hold rotateMu.
func (r *Rotator) rotate() (*KeyPair, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRotationFailed, err)
	}

	now := r.now().UTC()
	old := r.pair.Load()
	next := &KeyPair{
		Current:           secret,
		Previous:          old.Current,
		RotatedAt:         now,
		PreviousExpiresAt: now.Add(r.grace),
	}
	r.pair.Store(next)

	r.logger.Info("secret rotated",
		slog.String("current_preview", pkglogger.RedactedSecret(next.Current)),
		slog.String("previous_preview", pkglogger.RedactedSecret(next.Previous)),
		slog.Time("previous_expires_at", next.PreviousExpiresAt))

	return next, nil
}

// RotateAll rotates and persists the new pair, backing up the prior
// configuration first and rolling everything back on any failure. The
// lock covers the whole backup, swap, persist, rollback sequence so a
// failed rotation can only ever restore the pair it displaced, never
// one from a rotation that already committed.
func (r *Rotator) RotateAll(ctx context.Context) (*KeyPair, error) {
	if r.store == nil {
		return r.Rotate()
	}

	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()

	old := r.pair.Load()

	if err := r.store.Backup(ctx); err != nil {
		return nil, fmt.Errorf("%w: backup failed: %v", models.ErrRotationFailed, err)
	}

	next, err := r.rotate()
	if err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, next); err != nil {
		// Roll back the in-memory swap and the persisted state
		r.pair.Store(old)
		if restoreErr := r.store.Restore(ctx); restoreErr != nil {
			r.logger.Error("rotation rollback failed to restore backup",
				slog.Any("error", restoreErr))
		}
		return nil, fmt.Errorf("%w: persist failed: %v", models.ErrRotationFailed, err)
	}

	return next, nil
}

// IsValid reports whether secret is accepted for verification: the
// current secret always, the previous only inside the grace window.
func (r *Rotator) IsValid(secret string) bool {
	pair := r.pair.Load()
	now := r.now()

	if constantTimeEquals(secret, pair.Current) {
		return true
	}
	if pair.Previous != "" && now.Before(pair.PreviousExpiresAt) {
		return constantTimeEquals(secret, pair.Previous)
	}
	return false
}

// generateSecret returns 32 bytes of cryptographic randomness as hex.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func constantTimeEquals(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
