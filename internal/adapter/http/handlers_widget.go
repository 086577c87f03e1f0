package http

import (
	"log/slog"
	"net/http"

	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/service"
)

const maxSessionIDLen = 128

type messageRequest struct {
	Text string `json:"text"`
}

type sessionHistory struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Messages     []conversation.Message     `json:"messages"`
}

// routeFailure carries the stored error reply alongside the failure, so the
// widget can render it without refetching.
type routeFailure struct {
	errorResponse
	Result *service.RouteResult `json:"result"`
}

// sessionParams reads and bounds the widget path parameters.
func sessionParams(w http.ResponseWriter, r *http.Request) (botID, sessionID string, ok bool) {
	botID, sessionID = urlParam(r, "botId"), urlParam(r, "sessionId")
	if botID == "" || sessionID == "" || len(sessionID) > maxSessionIDLen {
		writeError(w, http.StatusBadRequest, "invalid bot or session id")
		return "", "", false
	}
	return botID, sessionID, true
}

// PostVisitorMessage handles POST /api/v1/widget/{botId}/sessions/{sessionId}/messages
func (h *Handlers) PostVisitorMessage(w http.ResponseWriter, r *http.Request) {
	botID, sessionID, ok := sessionParams(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}

	res, err := h.Router.HandleVisitorMessage(r.Context(), botID, sessionID, req.Text)
	if err != nil {
		if res == nil {
			h.writeDomainError(w, r, err, "assistant not found")
			return
		}
		status, body := domainErrorResponse(err, "assistant not found")
		slog.WarnContext(r.Context(), "visitor message answered with error reply", "bot_id", botID, "status", status, "error", err)
		if h.DevMode {
			body.Detail = err.Error()
		}
		writeJSON(w, status, routeFailure{errorResponse: body, Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListVisitorMessages handles GET /api/v1/widget/{botId}/sessions/{sessionId}/messages
func (h *Handlers) ListVisitorMessages(w http.ResponseWriter, r *http.Request) {
	botID, sessionID, ok := sessionParams(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	c, msgs, err := h.Conversations.SessionMessages(r.Context(), botID, sessionID, limit)
	if err != nil {
		h.writeDomainError(w, r, err, "assistant not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionHistory{Conversation: c, Messages: msgs})
}

// RequestHandoff handles POST /api/v1/widget/{botId}/sessions/{sessionId}/handoff
func (h *Handlers) RequestHandoff(w http.ResponseWriter, r *http.Request) {
	botID, sessionID, ok := sessionParams(w, r)
	if !ok {
		return
	}
	res, err := h.Handoff.RequestHuman(r.Context(), botID, sessionID)
	if err != nil {
		h.writeDomainError(w, r, err, "assistant not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EndSession handles POST /api/v1/widget/{botId}/sessions/{sessionId}/end
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	botID, sessionID, ok := sessionParams(w, r)
	if !ok {
		return
	}
	res, err := h.Handoff.End(r.Context(), botID, sessionID)
	if err != nil {
		h.writeDomainError(w, r, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CaptureLead handles POST /api/v1/widget/{botId}/leads
func (h *Handlers) CaptureLead(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.Lead](w, r)
	if !ok {
		return
	}
	lead, err := h.Leads.Capture(r.Context(), urlParam(r, "botId"), req)
	if err != nil {
		h.writeDomainError(w, r, err, "assistant not found")
		return
	}
	writeJSON(w, http.StatusAccepted, lead)
}
