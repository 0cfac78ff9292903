package http

import (
	"context"
	"net/http"
	"strings"

	"tradehub-backend/internal/security"
)

type contextKey string

const claimsKey contextKey = "account_claims"

// AuthMiddleware validates the bearer token and stores the account claims in
// the request context. The ledger trusts the identity provider's claims for
// account id and role.
func AuthMiddleware(tokens security.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the authenticated account claims.
func ClaimsFromContext(ctx context.Context) (*security.AccountClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*security.AccountClaims)
	return claims, ok
}

// RequireRole guards admin-only endpoints.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.Role != role {
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		next(w, r)
	}
}
