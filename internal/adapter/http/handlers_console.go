package http

import (
	"net/http"

	"github.com/Strob0t/supportdesk/internal/middleware"
	"github.com/Strob0t/supportdesk/internal/service"
)

// ListConversations handles GET /api/v1/conversations?status=queued,assigned
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	statuses, err := service.ParseStatuses(queryList(r, "status"))
	if err != nil {
		h.writeDomainError(w, r, err, "")
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.Conversations.List(r.Context(), middleware.ClaimsFromContext(r.Context()), statuses, limit)
	if err != nil {
		h.writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Conversations.Get(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListConversationMessages handles GET /api/v1/conversations/{id}/messages
func (h *Handlers) ListConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	msgs, err := h.Conversations.Messages(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"), limit)
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// AcceptConversation handles POST /api/v1/conversations/{id}/accept
//
// Of concurrent accepts exactly one succeeds; the others get 409 with the
// conversation's current status.
func (h *Handlers) AcceptConversation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Handoff.Accept(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReleaseConversation handles POST /api/v1/conversations/{id}/release
func (h *Handlers) ReleaseConversation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Handoff.Release(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PostAgentReply handles POST /api/v1/conversations/{id}/messages
func (h *Handlers) PostAgentReply(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Router.HandleAgentReply(r.Context(), middleware.ClaimsFromContext(r.Context()), urlParam(r, "id"), req.Text)
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
