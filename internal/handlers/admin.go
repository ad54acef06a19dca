package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"palisade/internal/audit"
	"palisade/internal/breach"
	"palisade/internal/bruteforce"
	"palisade/internal/models"
	"palisade/internal/ratelimit"
	"palisade/internal/secrets"
	pkghttp "palisade/pkg/http"
	pkglogger "palisade/pkg/logger"
)

// AdminHandler exposes the operator surface: chain verification and
// export, breach disclosure, secret rotation, blacklist management and
// the load signal for adaptive limiting.
type AdminHandler struct {
	chain     *audit.Chain
	breaches  *breach.Service
	notifier  breach.Notifier
	rotator   *secrets.Rotator
	blacklist *bruteforce.Blacklist
	adaptive  *ratelimit.AdaptiveController
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. notifier may be nil when
// disclosure email is not configured.
func NewAdminHandler(
	chain *audit.Chain,
	breaches *breach.Service,
	notifier breach.Notifier,
	rotator *secrets.Rotator,
	blacklist *bruteforce.Blacklist,
	adaptive *ratelimit.AdaptiveController,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		chain:     chain,
		breaches:  breaches,
		notifier:  notifier,
		rotator:   rotator,
		blacklist: blacklist,
		adaptive:  adaptive,
		logger:    logger,
	}
}

// VerifyAuditChain walks the full chain and reports tampered entries.
func (h *AdminHandler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	// Make sure in-flight appends are on the chain before walking it
	h.chain.Flush()

	intact, tampered, err := h.chain.VerifyIntegrity(r.Context())
	if err != nil {
		h.logger.Error("audit chain verification failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to verify audit chain")
		return
	}

	tamperedIDs := make([]string, 0, len(tampered))
	for _, id := range tampered {
		tamperedIDs = append(tamperedIDs, id.String())
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"intact":           intact,
		"tampered_entries": tamperedIDs,
	})
}

// ListAuditEntries returns decrypted entries matching the query
// parameters.
func (h *AdminHandler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.chain.Flush()

	views, err := h.chain.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to query audit chain")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": views,
		"count":   len(views),
	})
}

// ExportAudit streams the chain as JSON or CSV for compliance review.
func (h *AdminHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = audit.FormatJSON
	}
	if format != audit.FormatJSON && format != audit.FormatCSV {
		pkghttp.WriteBadRequest(w, "format must be json or csv")
		return
	}

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.chain.Flush()

	data, err := h.chain.Export(r.Context(), filter, format)
	if err != nil {
		h.logger.Error("audit export failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to export audit chain")
		return
	}

	switch format {
	case audit.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_export.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ListPendingBreaches returns unnotified HIGH and CRITICAL breaches
// with their remaining disclosure budget.
func (h *AdminHandler) ListPendingBreaches(w http.ResponseWriter, r *http.Request) {
	records, err := h.breaches.ListUnnotifiedApproachingDeadline(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending breaches", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to list pending breaches")
		return
	}

	now := time.Now()
	type pendingBreach struct {
		*models.BreachRecord
		HoursUntilDeadline float64 `json:"hours_until_deadline"`
	}

	pending := make([]pendingBreach, 0, len(records))
	for _, record := range records {
		pending = append(pending, pendingBreach{
			BreachRecord:       record,
			HoursUntilDeadline: record.HoursUntilDeadline(now),
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"breaches": pending,
		"count":    len(pending),
	})
}

// NotifyBreaches runs the disclosure workflow for pending breaches.
func (h *AdminHandler) NotifyBreaches(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "notifier_unavailable",
			"breach notification is not configured")
		return
	}

	notified, err := h.notifier.NotifyPending(r.Context())
	if err != nil {
		h.logger.Error("breach notification failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to send breach notifications")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notified": notified,
	})
}

// RotateSecrets swaps in a fresh signing secret with rollback on
// persistence failure. The response carries redacted previews only.
func (h *AdminHandler) RotateSecrets(w http.ResponseWriter, r *http.Request) {
	pair, err := h.rotator.RotateAll(r.Context())
	if err != nil {
		h.logger.Error("secret rotation failed", slog.Any("error", err))
		pkghttp.WriteError(w, http.StatusInternalServerError, "ROTATION_FAILED",
			"secret rotation failed and was rolled back")
		return
	}

	h.chain.Append(audit.Event{
		Type:      models.AuditEventTypeSecretRotation,
		RiskLevel: models.RiskLevelMedium,
		Actor:     "admin",
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Details: models.AuditDetails{
			"rotated_at":          pair.RotatedAt.UTC().Format(time.RFC3339),
			"previous_expires_at": pair.PreviousExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rotated_at":          pair.RotatedAt.UTC().Format(time.RFC3339),
		"previous_expires_at": pair.PreviousExpiresAt.UTC().Format(time.RFC3339),
		"current_preview":     pkglogger.RedactedSecret(pair.Current),
	})
}

// ListBlacklist returns all blacklisted identities.
func (h *AdminHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries := h.blacklist.Entries()

	type blacklistEntry struct {
		Identity string    `json:"identity"`
		Reason   string    `json:"reason"`
		AddedAt  time.Time `json:"added_at"`
	}

	out := make([]blacklistEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, blacklistEntry{
			Identity: entry.Identity,
			Reason:   entry.Reason,
			AddedAt:  entry.AddedAt,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": out,
		"count":   len(out),
	})
}

// RemoveFromBlacklist is the explicit administrative unblock.
func (h *AdminHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if identity == "" {
		pkghttp.WriteBadRequest(w, "identity is required")
		return
	}

	if err := h.blacklist.Remove(r.Context(), identity); err != nil {
		if err == models.ErrNotFound {
			pkghttp.WriteNotFound(w, "identity is not blacklisted")
			return
		}
		h.logger.Error("blacklist removal failed",
			slog.String("identity", identity), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to remove blacklist entry")
		return
	}

	h.chain.Append(audit.Event{
		Type:      models.AuditEventTypeAdminAction,
		RiskLevel: models.RiskLevelMedium,
		Actor:     "admin",
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Details: models.AuditDetails{
			"action":   "blacklist_remove",
			"identity": identity,
		},
	})

	w.WriteHeader(http.StatusNoContent)
}

// ReportLoadRequest carries the utilization signal for adaptive
// limiting.
type ReportLoadRequest struct {
	CPUPercent    float64 `json:"cpu_percent" validate:"gte=0,lte=100"`
	MemoryPercent float64 `json:"memory_percent" validate:"gte=0,lte=100"`
}

// ReportLoad feeds a utilization sample into the adaptive controller.
func (h *AdminHandler) ReportLoad(w http.ResponseWriter, r *http.Request) {
	var req ReportLoadRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.adaptive.Adjust(req.CPUPercent, req.MemoryPercent)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"multiplier": h.adaptive.Multiplier(),
	})
}

func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Actor:     q.Get("actor"),
		EventType: q.Get("event_type"),
		RiskLevel: q.Get("risk_level"),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errBadParam("from", "must be an RFC 3339 timestamp")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errBadParam("to", "must be an RFC 3339 timestamp")
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errBadParam("limit", "must be a non-negative integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}
