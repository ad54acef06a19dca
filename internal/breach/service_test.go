package breach

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palisade/internal/models"
)

func testService(repo Repository) *Service {
	return NewService(repo, nil, testLogger())
}

func TestService_RecordBreachOpensDisclosureClock(t *testing.T) {
	repo := NewMemoryRepository()
	svc := testService(repo)
	ctx := context.Background()

	id, err := svc.RecordBreach(ctx, &Result{
		Severity:            models.BreachSeverityCritical,
		BreachType:          models.BreachTypeBruteForce,
		AffectedRecordCount: 12,
		AffectedIdentities:  []string{"ip:203.0.113.5"},
		Description:         "12 failed login attempts within 15m",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	record, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, record.NotifiedAt)
	assert.Equal(t, record.DetectedAt.Add(72*time.Hour), record.DisclosureDeadline())
}

func TestService_HoursUntilDeadline(t *testing.T) {
	repo := NewMemoryRepository()
	svc := testService(repo)
	ctx := context.Background()

	detected := time.Now().UTC()
	svc.now = func() time.Time { return detected }

	id, err := svc.RecordBreach(ctx, &Result{
		Severity:   models.BreachSeverityHigh,
		BreachType: models.BreachTypePaymentFraud,
	})
	require.NoError(t, err)

	hours, err := svc.HoursUntilDeadline(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 72, hours, 0.01)

	// 10 hours in
	svc.now = func() time.Time { return detected.Add(10 * time.Hour) }
	hours, err = svc.HoursUntilDeadline(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 62, hours, 0.01)

	// Past the deadline: clamped at zero, never negative
	svc.now = func() time.Time { return detected.Add(100 * time.Hour) }
	hours, err = svc.HoursUntilDeadline(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, hours)
}

func TestService_ListUnnotifiedApproachingDeadline(t *testing.T) {
	repo := NewMemoryRepository()
	svc := testService(repo)
	ctx := context.Background()

	base := time.Now().UTC()

	svc.now = func() time.Time { return base.Add(time.Hour) }
	newest, err := svc.RecordBreach(ctx, &Result{Severity: models.BreachSeverityCritical, BreachType: models.BreachTypeAPIAbuse})
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	oldest, err := svc.RecordBreach(ctx, &Result{Severity: models.BreachSeverityHigh, BreachType: models.BreachTypeBruteForce})
	require.NoError(t, err)

	// LOW severity breaches are outside the disclosure workflow
	_, err = svc.RecordBreach(ctx, &Result{Severity: models.BreachSeverityLow, BreachType: models.BreachTypeInjection})
	require.NoError(t, err)

	records, err := svc.ListUnnotifiedApproachingDeadline(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, oldest, records[0].ID, "nearest deadline first")
	assert.Equal(t, newest, records[1].ID)

	// Notified records drop out of the list
	require.NoError(t, repo.MarkNotified(ctx, oldest, time.Now().UTC()))
	records, err = svc.ListUnnotifiedApproachingDeadline(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, newest, records[0].ID)
}

func TestRepository_MarkNotifiedIsSetExactlyOnce(t *testing.T) {
	repo := NewMemoryRepository()
	svc := testService(repo)
	ctx := context.Background()

	id, err := svc.RecordBreach(ctx, &Result{Severity: models.BreachSeverityHigh, BreachType: models.BreachTypeUnusualVolume})
	require.NoError(t, err)

	require.NoError(t, repo.MarkNotified(ctx, id, time.Now().UTC()))
	assert.ErrorIs(t, repo.MarkNotified(ctx, id, time.Now().UTC()), models.ErrConflict)
}

type failingRepo struct{ MemoryRepository }

func (f *failingRepo) Create(context.Context, *models.BreachRecord) error {
	return models.ErrInternalServer
}

func TestService_EvaluateFailsOpen(t *testing.T) {
	svc := testService(&failingRepo{})

	// Must not panic or propagate: breach bookkeeping never blocks
	// the request that triggered the check.
	svc.Evaluate(context.Background(), &Result{Severity: models.BreachSeverityHigh, BreachType: models.BreachTypeAPIAbuse})
	svc.Evaluate(context.Background(), nil)
}
