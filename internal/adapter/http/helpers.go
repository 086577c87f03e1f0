package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/supportdesk/internal/domain"
)

const maxRequestBodySize = 64 << 10

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryLimit parses the optional limit query parameter. Zero means the
// service default.
func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// queryList splits comma separated and repeated query values.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error  string            `json:"error"`
	Status string            `json:"status,omitempty"` // current status on conflicts
	Fields map[string]string `json:"fields,omitempty"`
	Detail string            `json:"detail,omitempty"` // raw error, dev mode only
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// domainErrorResponse maps err to a status code and a client-safe body.
func domainErrorResponse(err error, fallbackMsg string) (int, errorResponse) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: fallbackMsg}
	case errors.Is(err, domain.ErrConflict):
		current, _ := domain.CurrentStatus(err)
		return http.StatusConflict, errorResponse{Error: "conversation was changed by another request", Status: current}
	case errors.Is(err, domain.ErrValidation):
		resp := errorResponse{Error: "validation failed"}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = ve.Fields
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, errorResponse{Error: "upstream timed out"}
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"}
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, errorResponse{Error: "upstream error"}
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError, errorResponse{Error: "service misconfigured"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

// writeDomainError writes the mapped error. Raw error text reaches the
// client only in dev mode.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status, resp := domainErrorResponse(err, fallbackMsg)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	if h.DevMode {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
