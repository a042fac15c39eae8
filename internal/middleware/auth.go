package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/crosspay/backend/internal/models"
	"github.com/crosspay/backend/internal/token"
)

type contextKey string

const principalKey contextKey = "principal"

// AuthPrincipal is the resolved identity the guard injects into the request
// context for downstream handlers.
type AuthPrincipal struct {
	SubjectID   string
	SubjectKind models.PrincipalKind
	DisplayName string
}

// Verifier is the slice of the session issuer the guard needs.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// AuthMiddleware validates the bearer token on every protected request and
// attaches the resolved principal to the context. It never mutates stored
// state; on any failure it short-circuits with 401 before the handler runs.
func AuthMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				// Expired vs invalid matters for logs, not for the response.
				if errors.Is(err, token.ErrTokenExpired) {
					log.Printf("[AUTH] Rejected expired token from %s", r.RemoteAddr)
				} else {
					log.Printf("[AUTH] Rejected invalid token from %s", r.RemoteAddr)
				}
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			principal := AuthPrincipal{
				SubjectID:   claims.SubjectID.String(),
				SubjectKind: claims.SubjectKind,
				DisplayName: claims.DisplayName,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireEmployee gates routes that mutate transactions: only employee
// principals may pass. Must run after AuthMiddleware.
func RequireEmployee(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || principal.SubjectKind != models.KindEmployee {
			http.Error(w, "Employee access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithPrincipal returns a context carrying the resolved principal.
func WithPrincipal(ctx context.Context, principal AuthPrincipal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the principal injected by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (AuthPrincipal, bool) {
	principal, ok := ctx.Value(principalKey).(AuthPrincipal)
	return principal, ok
}
