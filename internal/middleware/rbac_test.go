package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/middleware"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *user.Claims
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"owner allowed", &user.Claims{Role: user.RoleOwner, TenantID: "acme"}, http.StatusOK},
		{"agent forbidden", &user.Claims{Role: user.RoleAgent, TenantID: "acme", AgentID: "a1"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.RequireRole(user.RoleOwner)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", http.NoBody)
			if tt.claims != nil {
				req = req.WithContext(middleware.WithClaims(context.Background(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequireRole_Multiple(t *testing.T) {
	h := middleware.RequireRole(user.RoleOwner, user.RoleAgent)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, c := range []*user.Claims{
		{Role: user.RoleOwner, TenantID: "acme"},
		{Role: user.RoleAgent, TenantID: "acme", AgentID: "a1"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(middleware.WithClaims(context.Background(), c))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("role %s: status %d", c.Role, rec.Code)
		}
	}
}
