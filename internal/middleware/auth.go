package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/logger"
)

type claimsCtxKey struct{}

// TokenVerifier turns a session token into trusted claims.
type TokenVerifier interface {
	Verify(token string) (*user.Claims, error)
}

// Auth returns middleware that requires valid session claims. The token is
// read from "Authorization: Bearer" or, for WebSocket upgrades that cannot
// set headers, from the token query parameter.
func Auth(v TokenVerifier) func(http.Handler) http.Handler {
	return authenticate(v, false)
}

// OptionalAuth attaches claims when a token is present and lets anonymous
// requests through. A present but invalid token is still rejected.
func OptionalAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return authenticate(v, true)
}

func authenticate(v TokenVerifier, anonymousOK bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				if anonymousOK {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}
			ctx := logger.WithTenant(WithClaims(r.Context(), claims), claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, found := strings.CutPrefix(h, "Bearer ")
		return token, found && token != ""
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *user.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, c)
}

// ClaimsFromContext returns the verified claims, or nil for anonymous requests.
func ClaimsFromContext(ctx context.Context) *user.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*user.Claims)
	return c
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
