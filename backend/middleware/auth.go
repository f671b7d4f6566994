package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/PhilHem/villa-auth/backend/security"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (security.Identity, error)
}

type identityKey struct{}

// IdentityFrom returns the identity RequireRole stored on the request.
func IdentityFrom(ctx context.Context) (security.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(security.Identity)
	return id, ok
}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id security.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireRole rejects requests without a valid bearer token for role.
func RequireRole(v TokenVerifier, role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			unauthorized(w)
			return
		}
		id, err := v.VerifyToken(token)
		if err != nil || id.Role != role {
			unauthorized(w)
			return
		}
		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="villa"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
