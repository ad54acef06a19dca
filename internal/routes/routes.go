package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"palisade/internal/handlers"
	"palisade/internal/honeypot"
	"palisade/internal/middleware"
	"palisade/internal/secrets"
	pkghttp "palisade/pkg/http"
)

// RegisterRoutes registers all application routes behind their
// endpoint-class admission gates.
func RegisterRoutes(
	router chi.Router,
	admission *middleware.Admission,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	sentinel *honeypot.Sentinel,
	verifier *secrets.TokenVerifier,
) {
	// Decoy routes sit outside admission: a scanner hitting one must
	// always get its fabricated payload, never a 429.
	sentinel.Register(router)

	// Credential endpoints: tightest limits plus lockout enforcement
	router.Group(func(r chi.Router) {
		r.Use(admission.ForClass(middleware.ClassAuth))
		r.Post("/auth/login", authHandler.Login)
	})

	// General API surface
	router.Group(func(r chi.Router) {
		r.Use(admission.ForClass(middleware.ClassAPI))

		r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Token-protected resource
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(verifier))
			r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
				identity, _ := middleware.TokenIdentity(r.Context())
				pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"identity": identity})
			})
		})
	})

	// Static assets: generous limits
	router.Group(func(r chi.Router) {
		r.Use(admission.ForClass(middleware.ClassStatic))
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("public"))))
	})

	// Operator surface: expensive class, token required
	router.Group(func(r chi.Router) {
		r.Use(admission.ForClass(middleware.ClassExpensive))
		r.Use(middleware.RequireToken(verifier))

		r.Get("/admin/audit/verify", adminHandler.VerifyAuditChain)
		r.Get("/admin/audit/entries", adminHandler.ListAuditEntries)
		r.Get("/admin/audit/export", adminHandler.ExportAudit)
		r.Get("/admin/breaches/pending", adminHandler.ListPendingBreaches)
		r.Post("/admin/breaches/notify", adminHandler.NotifyBreaches)
		r.Post("/admin/secrets/rotate", adminHandler.RotateSecrets)
		r.Get("/admin/blacklist", adminHandler.ListBlacklist)
		r.Delete("/admin/blacklist/{identity}", adminHandler.RemoveFromBlacklist)
		r.Post("/admin/load", adminHandler.ReportLoad)
	})
}
