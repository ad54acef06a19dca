package integration

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palisade/internal/audit"
	"palisade/internal/models"
	"palisade/internal/repositories"
	pkglogger "palisade/pkg/logger"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
		os.Exit(0)
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedAuditEntry(actor, eventType, hash, previousHash string, createdAt time.Time) *models.AuditEntry {
	a := actor
	return &models.AuditEntry{
		ID:               uuid.New(),
		EventType:        eventType,
		RiskLevel:        models.RiskLevelMedium,
		Actor:            &a,
		IPAddress:        "203.0.113.5",
		EncryptedDetails: []byte{0x01, 0x02},
		IV:               []byte{0x03, 0x04},
		AuthTag:          []byte{0x05, 0x06},
		CreatedAt:        createdAt,
		Hash:             hash,
		PreviousHash:     previousHash,
	}
}

func TestAuditEntryRepository_AppendAndRead(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewAuditEntryRepository(testDB.DB)

	base := time.Now().UTC().Truncate(time.Microsecond)
	first := seedAuditEntry("user:alice", models.AuditEventTypeLoginFailure, "hash-1", "", base)
	second := seedAuditEntry("user:bob", models.AuditEventTypeLockout, "hash-2", "hash-1", base.Add(time.Second))

	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))

	entries, err := repo.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.Equal(t, []byte{0x01, 0x02}, entries[0].EncryptedDetails)

	tail, err := repo.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, tail.ID)
	assert.Equal(t, "hash-2", tail.Hash)
}

func TestAuditEntryRepository_TailEmpty(t *testing.T) {
	resetTables(t)
	repo := repositories.NewAuditEntryRepository(testDB.DB)

	_, err := repo.Tail(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuditEntryRepository_QueryFilters(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewAuditEntryRepository(testDB.DB)

	base := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Append(ctx, seedAuditEntry("user:alice", models.AuditEventTypeLoginFailure, "h1", "", base)))
	require.NoError(t, repo.Append(ctx, seedAuditEntry("user:alice", models.AuditEventTypeLockout, "h2", "h1", base.Add(time.Second))))
	require.NoError(t, repo.Append(ctx, seedAuditEntry("user:bob", models.AuditEventTypeLoginFailure, "h3", "h2", base.Add(2*time.Second))))

	byActor, err := repo.Query(ctx, audit.Filter{Actor: "user:alice"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	byType, err := repo.Query(ctx, audit.Filter{EventType: models.AuditEventTypeLockout})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "h2", byType[0].Hash)

	limited, err := repo.Query(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	since, err := repo.Query(ctx, audit.Filter{From: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestAuditChain_OverPostgresStore(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewAuditEntryRepository(testDB.DB)
	logger := testLogger()
	key := bytes.Repeat([]byte{0x42}, 32)

	chain, err := audit.NewChain(key, repo, pkglogger.NewSecurityLogger(logger), logger)
	require.NoError(t, err)

	chain.Append(audit.Event{
		Type:      models.AuditEventTypeLoginFailure,
		RiskLevel: models.RiskLevelMedium,
		Actor:     "user:alice",
		Details:   models.AuditDetails{"attempt": 1},
	})
	chain.Append(audit.Event{
		Type:      models.AuditEventTypeLockout,
		RiskLevel: models.RiskLevelHigh,
		Actor:     "user:alice",
	})
	chain.Flush()

	intact, tampered, err := chain.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, intact)
	assert.Empty(t, tampered)
	chain.Close()

	// A new chain over the same store extends the existing linkage
	chain2, err := audit.NewChain(key, repo, pkglogger.NewSecurityLogger(logger), logger)
	require.NoError(t, err)
	defer chain2.Close()

	chain2.Append(audit.Event{
		Type:      models.AuditEventTypeAdminAction,
		RiskLevel: models.RiskLevelMedium,
		Actor:     "admin",
	})
	chain2.Flush()

	intact, _, err = chain2.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, intact)

	entries, err := repo.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entries[1].Hash, entries[2].PreviousHash)
}

func TestBreachRepository_Lifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewBreachRepository(testDB.DB)

	record := &models.BreachRecord{
		ID:                  uuid.New(),
		Severity:            models.BreachSeverityCritical,
		BreachType:          models.BreachTypeBruteForce,
		AffectedRecordCount: 3,
		AffectedIdentities:  []string{"user:alice", "user:bob"},
		Description:         "credential stuffing burst",
		MitigationSteps:     []string{"lock affected accounts", "rotate secrets"},
		DetectedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, record))

	loaded, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.AffectedIdentities, loaded.AffectedIdentities)
	assert.Equal(t, record.MitigationSteps, loaded.MitigationSteps)
	assert.Nil(t, loaded.NotifiedAt)

	pending, err := repo.ListUnnotified(ctx, []string{models.BreachSeverityCritical})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	notifiedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.MarkNotified(ctx, record.ID, notifiedAt))

	// Exactly once
	err = repo.MarkNotified(ctx, record.ID, notifiedAt)
	assert.ErrorIs(t, err, models.ErrConflict)

	pending, err = repo.ListUnnotified(ctx, []string{models.BreachSeverityCritical})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBreachRepository_MarkNotifiedMissing(t *testing.T) {
	resetTables(t)
	repo := repositories.NewBreachRepository(testDB.DB)

	err := repo.MarkNotified(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBreachRepository_ListUnnotifiedOrder(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewBreachRepository(testDB.DB)

	base := time.Now().UTC().Truncate(time.Microsecond)
	newer := &models.BreachRecord{
		ID: uuid.New(), Severity: models.BreachSeverityHigh,
		BreachType: models.BreachTypeAPIAbuse, DetectedAt: base,
	}
	older := &models.BreachRecord{
		ID: uuid.New(), Severity: models.BreachSeverityHigh,
		BreachType: models.BreachTypeAPIAbuse, DetectedAt: base.Add(-time.Hour),
	}
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))

	pending, err := repo.ListUnnotified(ctx, []string{models.BreachSeverityHigh})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Tightest disclosure deadline first
	assert.Equal(t, older.ID, pending[0].ID)
}

func TestBlacklistRepository_Lifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewBlacklistRepository(testDB.DB)

	entry := models.BlacklistEntry{
		Identity: "ip:203.0.113.9",
		Reason:   "honeypot:/wp-admin",
		AddedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Insert(ctx, entry))

	// Re-insert keeps the original row
	duplicate := entry
	duplicate.Reason = "different reason"
	require.NoError(t, repo.Insert(ctx, duplicate))

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "honeypot:/wp-admin", entries[0].Reason)

	require.NoError(t, repo.Delete(ctx, entry.Identity))

	entries, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
