package audit

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"palisade/internal/models"
	pkglogger "palisade/pkg/logger"
)

// Event is the caller-facing shape of an audit append. Details are
// encrypted before they touch the store.
type Event struct {
	Type      string
	RiskLevel string
	Actor     string
	IPAddress string
	UserAgent string
	Details   models.AuditDetails
}

// Store is the durable backend for chain entries. Entries must come
// back in creation order.
type Store interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Entries(ctx context.Context) ([]*models.AuditEntry, error)
	Query(ctx context.Context, filter Filter) ([]*models.AuditEntry, error)
	Tail(ctx context.Context) (*models.AuditEntry, error)
}

// Filter narrows a chain query. Zero values match everything.
type Filter struct {
	Actor     string
	EventType string
	RiskLevel string
	From      time.Time
	To        time.Time
	Limit     int
}

// EntryView is a decrypted, read-only projection of a chain entry.
type EntryView struct {
	ID           uuid.UUID           `json:"id"`
	EventType    string              `json:"event_type"`
	RiskLevel    string              `json:"risk_level"`
	Actor        *string             `json:"actor,omitempty"`
	IPAddress    string              `json:"ip_address"`
	UserAgent    *string             `json:"user_agent,omitempty"`
	Details      models.AuditDetails `json:"details"`
	CreatedAt    time.Time           `json:"created_at"`
	Hash         string              `json:"hash"`
	PreviousHash string              `json:"previous_hash"`
}

// Chain is the append-only, hash-linked audit log. Appends are
// fire-and-forget: a single consumer goroutine owns the chain tail,
// which keeps previousHash linkage correct under concurrent callers.
// A chain failure never reaches an Append caller; it is redirected to
// the secondary slog channel instead.
type Chain struct {
	store     Store
	aead      cipher.AEAD
	secondary *pkglogger.SecurityLogger
	logger    *slog.Logger

	queue chan queued
	wg    sync.WaitGroup

	// mu guards closed so Append and Flush never touch a closed queue.
	mu     sync.RWMutex
	closed bool

	// prevHash is touched only by the consumer goroutine after New.
	prevHash string
}

type queued struct {
	ev    Event
	flush chan struct{}
}

const appendTimeout = 5 * time.Second

// NewChain builds a chain over store, encrypting details with the
// given 32-byte key. The tail hash is recovered from the store so a
// restarted process extends the existing chain.
func NewChain(key []byte, store Store, secondary *pkglogger.SecurityLogger, logger *slog.Logger) (*Chain, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit cipher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	tail, err := store.Tail(ctx)
	if err != nil && err != models.ErrNotFound {
		return nil, fmt.Errorf("failed to read audit chain tail: %w", err)
	}

	c := &Chain{
		store:     store,
		aead:      aead,
		secondary: secondary,
		logger:    logger,
		queue:     make(chan queued, 256),
	}
	if tail != nil {
		c.prevHash = tail.Hash
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// Append enqueues an event. It never blocks and never fails from the
// caller's perspective; a full queue spills to the secondary channel.
func (c *Chain) Append(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.secondary.LogAuditFailure(ev.Type, ev.Actor, models.ErrInternalServer)
		return
	}
	select {
	case c.queue <- queued{ev: ev}:
	default:
		c.secondary.LogAuditFailure(ev.Type, ev.Actor, models.ErrInternalServer)
		c.logger.Error("audit queue full, event dropped to secondary channel",
			slog.String("event_type", ev.Type))
	}
}

// Flush blocks until every event enqueued before the call has been
// processed. Intended for tests and shutdown. A no-op after Close.
func (c *Chain) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	ack := make(chan struct{})
	c.queue <- queued{flush: ack}
	<-ack
}

// Close drains the queue and stops the writer. Safe to call more than
// once.
func (c *Chain) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.queue)
	c.wg.Wait()
}

func (c *Chain) run() {
	defer c.wg.Done()

	for q := range c.queue {
		if q.flush != nil {
			close(q.flush)
			continue
		}
		if err := c.append(q.ev); err != nil {
			c.secondary.LogAuditFailure(q.ev.Type, q.ev.Actor, err)
		}
	}
}

func (c *Chain) append(ev Event) error {
	entry := &models.AuditEntry{
		ID:        uuid.New(),
		EventType: ev.Type,
		RiskLevel: ev.RiskLevel,
		IPAddress: ev.IPAddress,
		// Postgres stores timestamptz at microsecond precision, so the
		// hashed timestamp must never carry more than that or every
		// entry read back would recompute to a different hash.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if ev.Actor != "" {
		actor := ev.Actor
		entry.Actor = &actor
	}
	if ev.UserAgent != "" {
		ua := ev.UserAgent
		entry.UserAgent = &ua
	}

	details := ev.Details
	if details == nil {
		details = models.AuditDetails{}
	}
	plaintext, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to serialize audit details: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate audit nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()
	entry.EncryptedDetails = sealed[:tagStart]
	entry.AuthTag = sealed[tagStart:]
	entry.IV = nonce

	entry.PreviousHash = c.prevHash
	entry.Hash = computeHash(entry, entry.PreviousHash)

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := c.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}

	c.prevHash = entry.Hash
	return nil
}

// computeHash hashes the canonical form of an entry (everything except
// Hash and PreviousHash) concatenated with the given previous hash.
func computeHash(entry *models.AuditEntry, previousHash string) string {
	actor := ""
	if entry.Actor != nil {
		actor = *entry.Actor
	}
	userAgent := ""
	if entry.UserAgent != nil {
		userAgent = *entry.UserAgent
	}

	canonical := strings.Join([]string{
		entry.ID.String(),
		entry.EventType,
		entry.RiskLevel,
		actor,
		entry.IPAddress,
		userAgent,
		hex.EncodeToString(entry.EncryptedDetails),
		hex.EncodeToString(entry.IV),
		hex.EncodeToString(entry.AuthTag),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")

	sum := sha256.Sum256([]byte(canonical + "|" + previousHash))
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity walks the chain in creation order, recomputing each
// hash from its claimed previousHash and stored fields. It reports
// every entry whose recomputed hash disagrees with the stored one or
// whose previousHash does not match the prior entry's hash.
func (c *Chain) VerifyIntegrity(ctx context.Context) (bool, []uuid.UUID, error) {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	var tampered []uuid.UUID
	prev := ""
	for _, entry := range entries {
		linked := entry.PreviousHash == prev
		recomputed := computeHash(entry, entry.PreviousHash) == entry.Hash
		if !linked || !recomputed {
			tampered = append(tampered, entry.ID)
		}
		prev = entry.Hash
	}

	return len(tampered) == 0, tampered, nil
}

// Query returns decrypted entries matching filter. Plaintext is never
// written back to the store; decryption happens on read only.
func (c *Chain) Query(ctx context.Context, filter Filter) ([]EntryView, error) {
	entries, err := c.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit chain: %w", err)
	}

	views := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, c.view(entry))
	}
	return views, nil
}

func (c *Chain) view(entry *models.AuditEntry) EntryView {
	v := EntryView{
		ID:           entry.ID,
		EventType:    entry.EventType,
		RiskLevel:    entry.RiskLevel,
		Actor:        entry.Actor,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		CreatedAt:    entry.CreatedAt,
		Hash:         entry.Hash,
		PreviousHash: entry.PreviousHash,
	}

	sealed := make([]byte, 0, len(entry.EncryptedDetails)+len(entry.AuthTag))
	sealed = append(sealed, entry.EncryptedDetails...)
	sealed = append(sealed, entry.AuthTag...)

	plaintext, err := c.aead.Open(nil, entry.IV, sealed, nil)
	if err != nil {
		c.logger.Error("failed to decrypt audit details",
			slog.String("entry_id", entry.ID.String()),
			slog.Any("error", err))
		return v
	}

	var details models.AuditDetails
	if err := json.Unmarshal(plaintext, &details); err != nil {
		c.logger.Error("failed to decode audit details",
			slog.String("entry_id", entry.ID.String()),
			slog.Any("error", err))
		return v
	}

	v.Details = details
	return v
}
