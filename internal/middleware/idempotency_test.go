package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/supportdesk/internal/middleware"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func countingHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func send(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_Replays(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMapCache())(countingHandler(&counter, http.StatusCreated))

	first := send(h, http.MethodPost, "/widget/b1/sessions/s1/messages", "k1")
	second := send(h, http.MethodPost, "/widget/b1/sessions/s1/messages", "k1")

	if counter != 1 {
		t.Fatalf("handler called %d times, want 1", counter)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("replayed response must be marked")
	}
}

func TestIdempotency_Passthrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		keys   [2]string
		paths  [2]string
	}{
		{"no header", http.MethodPost, [2]string{"", ""}, [2]string{"/a", "/a"}},
		{"GET ignored", http.MethodGet, [2]string{"k", "k"}, [2]string{"/a", "/a"}},
		{"different keys", http.MethodPost, [2]string{"k1", "k2"}, [2]string{"/a", "/a"}},
		{"same key other path", http.MethodPost, [2]string{"k", "k"}, [2]string{"/a", "/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := 0
			h := middleware.Idempotency(newMapCache())(countingHandler(&counter, http.StatusOK))
			send(h, tt.method, tt.paths[0], tt.keys[0])
			send(h, tt.method, tt.paths[1], tt.keys[1])
			if counter != 2 {
				t.Fatalf("handler called %d times, want 2", counter)
			}
		})
	}
}

func TestIdempotency_ErrorsNotStored(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMapCache())(countingHandler(&counter, http.StatusServiceUnavailable))
	send(h, http.MethodPost, "/a", "k")
	send(h, http.MethodPost, "/a", "k")
	if counter != 2 {
		t.Fatalf("failed responses must not be replayed, handler called %d times", counter)
	}
}
