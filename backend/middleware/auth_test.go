package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PhilHem/villa-auth/backend/security"
)

type stubVerifier map[string]security.Identity

func (s stubVerifier) VerifyToken(token string) (security.Identity, error) {
	id, ok := s[token]
	if !ok {
		return security.Identity{}, errors.New("invalid")
	}
	return id, nil
}

func TestRequireRole(t *testing.T) {
	v := stubVerifier{
		"admin-token":  {Subject: "admin", Role: security.RoleAdmin},
		"member-token": {Subject: "m-1", Role: security.RoleMember},
	}
	var seen security.Identity
	handler := RequireRole(v, security.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer member-token", http.StatusUnauthorized},
		{"admin", "Bearer admin-token", http.StatusOK},
		{"lowercase scheme", "bearer admin-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/2fa-status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
	if seen.Subject != "admin" {
		t.Errorf("identity not passed to handler: %+v", seen)
	}
}
