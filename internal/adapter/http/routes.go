package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/middleware"
	"github.com/Strob0t/supportdesk/internal/port/cache"
)

// RouteDeps is the request-scoped machinery the routes are wrapped in.
type RouteDeps struct {
	Verifier    middleware.TokenVerifier
	Limiter     *middleware.RateLimiter // nil disables widget rate limiting
	Idempotency cache.Cache             // nil disables Idempotency-Key replay
	WS          http.Handler            // live connection endpoint
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, deps RouteDeps) {
	r.Get("/health", h.Health)
	if deps.WS != nil {
		r.With(middleware.OptionalAuth(deps.Verifier)).Get("/ws", deps.WS.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Visitor widget (anonymous)
		r.Route("/widget/{botId}", func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(deps.Limiter.Handler)
			}
			if deps.Idempotency != nil {
				r.Use(middleware.Idempotency(deps.Idempotency))
			}
			r.Post("/sessions/{sessionId}/messages", h.PostVisitorMessage)
			r.Get("/sessions/{sessionId}/messages", h.ListVisitorMessages)
			r.Post("/sessions/{sessionId}/handoff", h.RequestHandoff)
			r.Post("/sessions/{sessionId}/end", h.EndSession)
			r.Post("/leads", h.CaptureLead)
		})

		// Credential check for the console login form
		r.With(limited(deps.Limiter)).Post("/auth/agents/login", h.LoginAgent)

		// Agent console and tenant owners
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Verifier))

			r.Get("/conversations", h.ListConversations)
			r.Get("/conversations/{id}", h.GetConversation)
			r.Get("/conversations/{id}/messages", h.ListConversationMessages)
			r.Post("/conversations/{id}/release", h.ReleaseConversation)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(user.RoleAgent))
				r.Post("/conversations/{id}/accept", h.AcceptConversation)
				r.Post("/conversations/{id}/messages", h.PostAgentReply)
				r.Get("/agents/me", h.GetMe)
				r.Put("/agents/me/status", h.SetMyStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(user.RoleOwner))
				r.Get("/agents", h.ListAgents)
				r.Post("/agents", h.CreateAgent)
				r.Put("/agents/{id}/active", h.SetAgentActive)
			})
		})
	})
}

// limited returns the limiter middleware or a pass-through.
func limited(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Handler
}
