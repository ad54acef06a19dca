package middleware

import (
	"context"
	"net/http"
	"strings"

	"palisade/internal/secrets"
	pkghttp "palisade/pkg/http"
)

type contextKey string

// IdentityContextKey holds the verified token identity.
const IdentityContextKey contextKey = "token_identity"

// RequireToken rejects requests without a valid bearer token. Tokens
// signed with the previous secret stay valid through the rotation
// grace window.
func RequireToken(verifier *secrets.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				pkghttp.WriteError(w, http.StatusUnauthorized, "missing_token",
					"bearer token required")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token",
					"token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, claims.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenIdentity extracts the verified identity from a request context.
func TokenIdentity(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(string)
	return identity, ok
}
