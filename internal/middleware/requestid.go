// Package middleware provides HTTP middleware for supportdesk.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/supportdesk/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 64
)

// RequestID propagates X-Request-ID, generating one when the client sent
// none or an unusable value. The ID is stored in the context for logging
// and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !usableID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// usableID accepts short printable ASCII ids, keeping client-supplied
// values out of log injection range.
func usableID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
