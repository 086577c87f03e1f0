package http

import (
	"errors"
	"net/http"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/middleware"
)

// GetMe handles GET /api/v1/agents/me
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Me(r.Context(), middleware.ClaimsFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetMyStatus handles PUT /api/v1/agents/me/status
func (h *Handlers) SetMyStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.StatusRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Agents.SetStatus(r.Context(), middleware.ClaimsFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, r, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateAgent handles POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.CreateRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Agents.Create(r.Context(), middleware.ClaimsFromContext(r.Context()), req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		h.writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Agents.List(r.Context(), middleware.ClaimsFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// SetAgentActive handles PUT /api/v1/agents/{id}/active
func (h *Handlers) SetAgentActive(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.ActiveRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Agents.SetActive(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"), req)
	if err != nil {
		h.writeDomainError(w, r, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// LoginAgent handles POST /api/v1/auth/agents/login
func (h *Handlers) LoginAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.LoginRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Agents.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
