package otel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	gotel "go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHTTPMiddleware_NamesSpanAfterRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := gotel.GetTracerProvider()
	gotel.SetTracerProvider(tp)
	t.Cleanup(func() { gotel.SetTracerProvider(prev) })

	noContent := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	r := chi.NewRouter()
	r.Use(HTTPMiddleware("supportdesk-test"))
	r.Get("/conversations/{id}", noContent)
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/agents/{id}", noContent)
	})

	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{"routed", http.MethodGet, "/conversations/c-123", "GET /conversations/{id}"},
		{"subrouter", http.MethodGet, "/api/v1/agents/a-1", "GET /api/v1/agents/{id}"},
		{"unmatched", http.MethodGet, "/nowhere/42", "GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(rec.Ended())
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))

			spans := rec.Ended()
			if len(spans) != before+1 {
				t.Fatalf("spans = %d, want %d", len(spans), before+1)
			}
			if got := spans[len(spans)-1].Name(); got != tt.want {
				t.Fatalf("span name = %q, want %q", got, tt.want)
			}
		})
	}
}
