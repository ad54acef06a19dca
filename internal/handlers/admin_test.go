package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palisade/internal/audit"
	"palisade/internal/breach"
	"palisade/internal/bruteforce"
	"palisade/internal/models"
	"palisade/internal/ratelimit"
	"palisade/internal/secrets"
	pkglogger "palisade/pkg/logger"
)

type adminFixture struct {
	handler   *AdminHandler
	router    chi.Router
	chain     *audit.Chain
	store     *audit.MemoryStore
	breaches  *breach.MemoryRepository
	service   *breach.Service
	rotator   *secrets.Rotator
	blacklist *bruteforce.Blacklist
	adaptive  *ratelimit.AdaptiveController
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()

	logger := testLogger()
	store := audit.NewMemoryStore()
	chain, err := audit.NewChain(bytes.Repeat([]byte{0x42}, 32), store, pkglogger.NewSecurityLogger(logger), logger)
	require.NoError(t, err)
	t.Cleanup(chain.Close)

	repo := breach.NewMemoryRepository()
	service := breach.NewService(repo, chain, logger)
	rotator := secrets.NewRotator(strings.Repeat("s", 32), 30*24*time.Hour, nil, logger)
	blacklist := bruteforce.NewBlacklist(nil, logger)
	adaptive := ratelimit.NewAdaptiveController()

	handler := NewAdminHandler(chain, service, nil, rotator, blacklist, adaptive, logger)

	router := chi.NewRouter()
	router.Get("/admin/audit/verify", handler.VerifyAuditChain)
	router.Get("/admin/audit/entries", handler.ListAuditEntries)
	router.Get("/admin/audit/export", handler.ExportAudit)
	router.Get("/admin/breaches/pending", handler.ListPendingBreaches)
	router.Post("/admin/breaches/notify", handler.NotifyBreaches)
	router.Post("/admin/secrets/rotate", handler.RotateSecrets)
	router.Get("/admin/blacklist", handler.ListBlacklist)
	router.Delete("/admin/blacklist/{identity}", handler.RemoveFromBlacklist)
	router.Post("/admin/load", handler.ReportLoad)

	return &adminFixture{
		handler: handler, router: router, chain: chain, store: store,
		breaches: repo, service: service, rotator: rotator,
		blacklist: blacklist, adaptive: adaptive,
	}
}

func (f *adminFixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func TestAdmin_VerifyAuditChain(t *testing.T) {
	f := newAdminFixture(t)

	f.chain.Append(audit.Event{Type: models.AuditEventTypeLoginFailure, RiskLevel: models.RiskLevelMedium, Actor: "user:alice"})
	f.chain.Append(audit.Event{Type: models.AuditEventTypeLockout, RiskLevel: models.RiskLevelHigh, Actor: "user:alice"})

	rec := f.do(http.MethodGet, "/admin/audit/verify", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Intact   bool     `json:"intact"`
		Tampered []string `json:"tampered_entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Intact)
	assert.Empty(t, resp.Tampered)
}

func TestAdmin_VerifyDetectsTampering(t *testing.T) {
	f := newAdminFixture(t)

	f.chain.Append(audit.Event{Type: models.AuditEventTypeLoginFailure, RiskLevel: models.RiskLevelMedium, Actor: "user:alice"})
	f.chain.Flush()

	entries, err := f.store.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entries[0].RiskLevel = models.RiskLevelLow

	rec := f.do(http.MethodGet, "/admin/audit/verify", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Intact   bool     `json:"intact"`
		Tampered []string `json:"tampered_entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Intact)
	assert.Len(t, resp.Tampered, 1)
}

func TestAdmin_ListAuditEntriesFiltered(t *testing.T) {
	f := newAdminFixture(t)

	f.chain.Append(audit.Event{Type: models.AuditEventTypeLoginFailure, RiskLevel: models.RiskLevelMedium, Actor: "user:alice"})
	f.chain.Append(audit.Event{Type: models.AuditEventTypeLockout, RiskLevel: models.RiskLevelHigh, Actor: "user:bob"})

	rec := f.do(http.MethodGet, "/admin/audit/entries?actor=user:bob", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count   int               `json:"count"`
		Entries []audit.EntryView `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, models.AuditEventTypeLockout, resp.Entries[0].EventType)
}

func TestAdmin_ListAuditEntriesBadTimestamp(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(http.MethodGet, "/admin/audit/entries?from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_ExportAuditCSV(t *testing.T) {
	f := newAdminFixture(t)

	f.chain.Append(audit.Event{Type: models.AuditEventTypeHoneypot, RiskLevel: models.RiskLevelCritical, Actor: "ip:203.0.113.5"})

	rec := f.do(http.MethodGet, "/admin/audit/export?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), models.AuditEventTypeHoneypot)
}

func TestAdmin_ExportAuditBadFormat(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(http.MethodGet, "/admin/audit/export?format=xml", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_ListPendingBreaches(t *testing.T) {
	f := newAdminFixture(t)

	_, err := f.service.RecordBreach(context.Background(), &breach.Result{
		Severity:    models.BreachSeverityCritical,
		BreachType:  models.BreachTypeBruteForce,
		Description: "coordinated credential stuffing",
	})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/admin/breaches/pending", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count    int `json:"count"`
		Breaches []struct {
			Severity           string  `json:"Severity"`
			HoursUntilDeadline float64 `json:"hours_until_deadline"`
		} `json:"breaches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.InDelta(t, 72, resp.Breaches[0].HoursUntilDeadline, 0.1)
}

func TestAdmin_NotifyWithoutNotifier(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(http.MethodPost, "/admin/breaches/notify", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_RotateSecretsRedactsResponse(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(http.MethodPost, "/admin/secrets/rotate", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	current := f.rotator.Current()
	assert.NotContains(t, rec.Body.String(), current)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pkglogger.RedactedSecret(current), resp["current_preview"])
	assert.NotEmpty(t, resp["rotated_at"])
}

func TestAdmin_BlacklistLifecycle(t *testing.T) {
	f := newAdminFixture(t)

	f.blacklist.Add(context.Background(), "ip:203.0.113.9", "honeypot:/wp-admin")

	rec := f.do(http.MethodGet, "/admin/blacklist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ip:203.0.113.9")

	rec = f.do(http.MethodDelete, "/admin/blacklist/ip:203.0.113.9", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.blacklist.Contains("ip:203.0.113.9"))

	rec = f.do(http.MethodDelete, "/admin/blacklist/ip:203.0.113.9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_ReportLoad(t *testing.T) {
	f := newAdminFixture(t)

	body, _ := json.Marshal(ReportLoadRequest{CPUPercent: 85, MemoryPercent: 90})
	rec := f.do(http.MethodPost, "/admin/load", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.5, f.adaptive.Multiplier(), 0.001)

	var resp map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 0.5, resp["multiplier"], 0.001)
}

func TestAdmin_ReportLoadRejectsOutOfRange(t *testing.T) {
	f := newAdminFixture(t)

	body, _ := json.Marshal(ReportLoadRequest{CPUPercent: 150, MemoryPercent: 20})
	rec := f.do(http.MethodPost, "/admin/load", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 1.0, f.adaptive.Multiplier(), 0.001)
}
