package honeypot

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"palisade/internal/audit"
	"palisade/internal/bruteforce"
	"palisade/internal/models"
)

// Decoy payload themes
const (
	ThemeAdminPanel = "admin_panel"
	ThemeEnvFile    = "env_file"
	ThemeSQLDump    = "sql_dump"
	ThemeDebugVars  = "debug_vars"
)

// Route is one registered decoy path.
type Route struct {
	Path  string
	Theme string
}

// DefaultRoutes covers the paths scanners probe most: fake admin
// panels, credential files, database dumps and debug endpoints.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/wp-admin", Theme: ThemeAdminPanel},
		{Path: "/administrator", Theme: ThemeAdminPanel},
		{Path: "/phpmyadmin", Theme: ThemeAdminPanel},
		{Path: "/.env", Theme: ThemeEnvFile},
		{Path: "/.env.backup", Theme: ThemeEnvFile},
		{Path: "/config.php.bak", Theme: ThemeEnvFile},
		{Path: "/backup.sql", Theme: ThemeSQLDump},
		{Path: "/db_dump.sql", Theme: ThemeSQLDump},
		{Path: "/debug/vars", Theme: ThemeDebugVars},
		{Path: "/actuator/env", Theme: ThemeDebugVars},
	}
}

// IdentityFunc derives the per-identity key from a request.
type IdentityFunc func(r *http.Request) string

// Sentinel serves decoy endpoints. Any hit is its own detection
// signal: the caller is blacklisted, a CRITICAL audit entry is
// emitted, and a fabricated payload is returned with a normal 200 so
// the attacker keeps wasting time instead of moving on.
type Sentinel struct {
	routes    []Route
	blacklist *bruteforce.Blacklist
	chain     *audit.Chain
	identity  IdentityFunc
	logger    *slog.Logger
}

// NewSentinel creates a sentinel over the given decoy routes.
func NewSentinel(routes []Route, blacklist *bruteforce.Blacklist, chain *audit.Chain, identity IdentityFunc, logger *slog.Logger) *Sentinel {
	return &Sentinel{
		routes:    routes,
		blacklist: blacklist,
		chain:     chain,
		identity:  identity,
		logger:    logger,
	}
}

// Register mounts every decoy route on the router, GET and POST.
func (s *Sentinel) Register(r chi.Router) {
	for _, route := range s.routes {
		handler := s.handler(route)
		r.Get(route.Path, handler)
		r.Post(route.Path, handler)
	}
}

func (s *Sentinel) handler(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := s.identity(r)
		reason := "honeypot:" + route.Path

		s.blacklist.Add(r.Context(), identity, reason)

		if s.chain != nil {
			s.chain.Append(audit.Event{
				Type:      models.AuditEventTypeHoneypot,
				RiskLevel: models.RiskLevelCritical,
				Actor:     identity,
				IPAddress: r.RemoteAddr,
				UserAgent: r.UserAgent(),
				Details: models.AuditDetails{
					"route":  route.Path,
					"theme":  route.Theme,
					"method": r.Method,
				},
			})
		}

		s.logger.Warn("honeypot triggered",
			slog.String("identity", identity),
			slog.String("route", route.Path))

		body, contentType := decoyPayload(route.Theme)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}

// decoyPayload fabricates a plausible body for the route's theme. The
// credentials and dumps below are invented; nothing here touches real
// configuration.
func decoyPayload(theme string) (body, contentType string) {
	switch theme {
	case ThemeEnvFile:
		return `APP_ENV=production
APP_DEBUG=false
DB_HOST=10.0.4.17
DB_PORT=5432
DB_USERNAME=app_prod
DB_PASSWORD=Pr0d!2019$secure
REDIS_PASSWORD=r3d1s-pa55
AWS_ACCESS_KEY_ID=AKIA2E7XXMPL4QQRT9
AWS_SECRET_ACCESS_KEY=wJalrXUtnFEMI/K7MDENG/bPxRfiCYzXAMPLEKEY
STRIPE_SECRET_KEY=sk_live_51HZXmpl0000000000000
`, "text/plain; charset=utf-8"

	case ThemeSQLDump:
		return fmt.Sprintf(`-- PostgreSQL database dump
-- Dumped on %s

CREATE TABLE users (
    id integer NOT NULL,
    email character varying(255),
    password_hash character varying(255)
);

COPY users (id, email, password_hash) FROM stdin;
1	admin@example.com	$2b$10$N9qo8uLOickgx2ZMRZoMye
2	j.moreau@example.com	$2b$10$TwQvL8mJxNPkzXB4W7fhGu
3	k.tanaka@example.com	$2b$10$H5fKpR2sYvGnDqC1jZwbXe
\.
-- Dump complete
`, time.Now().UTC().Format("2006-01-02 15:04:05")), "application/sql"

	case ThemeDebugVars:
		return `{"cmdline":["/srv/app/server","--port=8080"],"memstats":{"Alloc":48926712,"TotalAlloc":912336408,"Sys":76433400},"env":{"DB_HOST":"10.0.4.17","SESSION_SECRET":"f8a2c61e09bd"}}`, "application/json"

	default: // ThemeAdminPanel
		return `<!DOCTYPE html>
<html>
<head><title>Administration Login</title></head>
<body>
<h1>Administration Panel</h1>
<form method="post" action="/wp-login.php">
  <label>Username <input type="text" name="log"></label>
  <label>Password <input type="password" name="pwd"></label>
  <input type="submit" value="Log In">
</form>
</body>
</html>`, "text/html; charset=utf-8"
	}
}
