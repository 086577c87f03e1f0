package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/port/knowledge"
	"github.com/Strob0t/supportdesk/internal/resilience"
)

var question = knowledge.Question{
	Text: "hello", SessionID: "s1", TenantID: "acme", BotID: "b1", KnowledgeRef: "kb-acme",
}

func TestAnswer_Success(t *testing.T) {
	var got answerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/answer" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"Hi there","sources":[{"title":"FAQ","url":"https://acme.test/faq","snippet":"..."}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.Knowledge{URL: srv.URL, APIKey: "secret", Timeout: time.Second}, nil)
	a, err := c.Answer(context.Background(), question)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != "Hi there" || len(a.Sources) != 1 || a.Sources[0].URL != "https://acme.test/faq" {
		t.Fatalf("answer = %+v", a)
	}
	want := answerRequest{Question: "hello", SessionID: "s1", TenantID: "acme", BotID: "b1", KnowledgeBase: "kb-acme"}
	if got != want {
		t.Fatalf("request = %+v, want %+v", got, want)
	}
}

func TestAnswer_FailureClasses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"503", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, domain.ErrUnavailable},
		{"504", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusGatewayTimeout) }, domain.ErrTimeout},
		{"500", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, domain.ErrUpstream},
		{"empty answer", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"answer":""}`))
		}, domain.ErrUpstream},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}, domain.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := NewClient(config.Knowledge{URL: srv.URL, Timeout: 100 * time.Millisecond}, nil)
			_, err := c.Answer(context.Background(), question)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnswer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(config.Knowledge{URL: url, Timeout: time.Second}, nil)
	_, err := c.Answer(context.Background(), question)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestAnswer_BreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := resilience.NewBreaker("knowledge", 2, time.Minute, resilience.WithTrips(Trips))
	c := NewClient(config.Knowledge{URL: srv.URL, Timeout: time.Second}, b)
	for range 2 {
		_, _ = c.Answer(context.Background(), question)
	}
	_, err := c.Answer(context.Background(), question)
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want open circuit", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
