package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aiox-platform/inferguard/internal/api"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// RequireRole rejects requests without a valid bearer token carrying role.
func RequireRole(m *JWTManager, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := m.Validate(token)
			if err != nil {
				slog.Warn("rejected admin token", "path", r.URL.Path, "error", err)
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			if !claims.HasRole(role) {
				slog.Warn("token lacks required role", "path", r.URL.Path, "subject", claims.Subject, "role", role)
				api.HandleError(w, api.ErrForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the claims stored by RequireRole, or nil.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}
