package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/supportdesk/internal/adapter/natskv"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/logger"
	"github.com/Strob0t/supportdesk/internal/port/cache/cachetest"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
// Each test gets its own stream so durable consumers do not collide.
func testConnect(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	stream := "TEST_" + uuid.NewString()[:8]
	q, err := Connect(context.Background(), config.NATS{URL: url, Stream: stream})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = q.js.DeleteStream(context.Background(), stream)
		_ = q.Close()
	})
	return q
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	want := messagequeue.KnowledgeReadyPayload{BotID: "bot-1", Ready: true, ReadyAt: time.Now().UTC().Truncate(time.Second)}
	data, _ := json.Marshal(want)

	var (
		mu    sync.Mutex
		got   messagequeue.KnowledgeReadyPayload
		reqID string
		done  = make(chan struct{})
		once  sync.Once
	)
	stop, err := q.Subscribe(ctx, messagequeue.SubjectKnowledgeReady, func(ctx context.Context, _ string, d []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		reqID = logger.RequestID(ctx)
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(logger.WithRequestID(ctx, "req-1"), messagequeue.SubjectKnowledgeReady, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	mu.Lock()
	defer mu.Unlock()
	if got.BotID != "bot-1" || !got.Ready || reqID != "req-1" {
		t.Fatalf("got %+v, request id %q", got, reqID)
	}
}

func TestQueue_PublishRejectsInvalid(t *testing.T) {
	q := testConnect(t)
	if err := q.Publish(context.Background(), messagequeue.SubjectLeadCaptured, []byte(`{"tenant_id":""}`)); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestQueue_DeadLetterAfterRetries(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.SubjectKnowledgeReady

	dlqConsumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + dlqSuffix,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}
	dlqDone := make(chan []byte, 1)
	dlqSub, err := dlqConsumer.Consume(func(msg jetstream.Msg) {
		select {
		case dlqDone <- msg.Data():
		default:
		}
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	defer dlqSub.Stop()

	var attempts int
	var mu sync.Mutex
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return context.DeadlineExceeded
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	payload := []byte(`{"bot_id":"bot-x","ready":true}`)
	if err := q.Publish(ctx, subject, payload); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-dlqDone:
		if string(data) != string(payload) {
			t.Fatalf("dead letter = %s", data)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != maxDeliver {
		t.Fatalf("attempts = %d, want %d", attempts, maxDeliver)
	}
}

func TestKVCacheCompliance(t *testing.T) {
	q := testConnect(t)
	bucket := "TEST_KV_" + uuid.NewString()[:8]
	c, err := natskv.Open(context.Background(), q.JetStream(), bucket, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.js.DeleteKeyValue(context.Background(), bucket) })
	cachetest.Run(t, c)
}

func TestRelayAcrossConnections(t *testing.T) {
	a := testConnect(t)
	// A second plain connection; a second stream would overlap subjects.
	bc, err := nats.Connect(os.Getenv("NATS_URL"))
	if err != nil {
		t.Fatal(err)
	}
	defer bc.Close()

	localA := &recordingBroadcaster{}
	localB := &recordingBroadcaster{}
	ra := NewRelay(a.Conn(), localA, "a")
	rb := NewRelay(bc, &syncBroadcaster{inner: localB}, "b")
	if err := rb.Start(); err != nil {
		t.Fatal(err)
	}
	defer rb.Stop()
	if err := bc.Flush(); err != nil {
		t.Fatal(err)
	}

	ra.ToRoom(context.Background(), "agents:acme", "conversation:queued", map[string]string{"id": "c1"})
	if err := a.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		n := syncLen(localB)
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("remote deliveries = %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(localA.got) != 1 {
		t.Fatalf("local deliveries = %d, want 1", len(localA.got))
	}
}

var syncMu sync.Mutex

type syncBroadcaster struct{ inner *recordingBroadcaster }

func (s *syncBroadcaster) ToRoom(ctx context.Context, room, eventType string, payload any) {
	syncMu.Lock()
	defer syncMu.Unlock()
	s.inner.ToRoom(ctx, room, eventType, payload)
}

func (s *syncBroadcaster) ToAgent(ctx context.Context, agentID, eventType string, payload any) {
	syncMu.Lock()
	defer syncMu.Unlock()
	s.inner.ToAgent(ctx, agentID, eventType, payload)
}

func syncLen(b *recordingBroadcaster) int {
	syncMu.Lock()
	defer syncMu.Unlock()
	return len(b.got)
}
