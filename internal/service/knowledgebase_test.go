package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/supportdesk/internal/adapter/ristretto"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
)

func TestKnowledgeService_ReadySignalUnblocksAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l1, err := ristretto.New(config.Cache{L1MaxSizeMB: 1, L1TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer l1.Close()
	cached := NewCachedDirectory(f.dir, l1, 0)
	tenants := NewTenantResolver(cached, f.registry)
	router := NewRouter(tenants, f.answerer, f.hub, nil)

	res, err := router.HandleVisitorMessage(ctx, pendingBot, "sess-1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply.Text != NotReadyText {
		t.Fatalf("reply = %q, want not-ready notice", res.Reply.Text)
	}

	q := newFakeQueue()
	svc := NewKnowledgeService(cached, q)
	if _, err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	handler := q.handlers[messagequeue.SubjectKnowledgeReady]
	if handler == nil {
		t.Fatal("kb.ready not subscribed")
	}
	payload, _ := json.Marshal(messagequeue.KnowledgeReadyPayload{BotID: pendingBot, Ready: true, ReadyAt: time.Now()})
	if err := handler(ctx, messagequeue.SubjectKnowledgeReady, payload); err != nil {
		t.Fatal(err)
	}

	res, err = router.HandleVisitorMessage(ctx, pendingBot, "sess-1", "hello again")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply.Text != "Hi! How can I help?" {
		t.Errorf("reply = %q, want an answer once the knowledge base is ready", res.Reply.Text)
	}
}

func TestKnowledgeService_HandleReady(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"unknown bot is dropped", `{"bot_id":"ghost","ready":true}`, false},
		{"malformed", `{"bot_id":`, true},
		{"missing ready_at", `{"bot_id":"bot-pending","ready":true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := NewKnowledgeService(f.dir, newFakeQueue())
			err := svc.HandleReady(context.Background(), messagequeue.SubjectKnowledgeReady, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
