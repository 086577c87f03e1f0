package service

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"

	"github.com/Strob0t/supportdesk/internal/adapter/memory"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/port/knowledge"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
	"github.com/Strob0t/supportdesk/internal/validation"
)

const (
	testTenant   = "acme"
	testBot      = "bot-acme"
	pendingBot   = "bot-pending"
	otherTenant  = "globex"
	otherBot     = "bot-globex"
	testPassword = "correct-horse"
)

type sentEvent struct {
	Target  string
	Type    string
	Payload any
}

// recordingHub is a broadcast.Broadcaster and broadcast.Rooms that records
// every call. delivered holds the room events each connection was a member
// for when they were sent.
type recordingHub struct {
	mu        sync.Mutex
	events    []sentEvent
	joins     map[string][]string
	delivered map[string][]string
}

func (h *recordingHub) ToRoom(_ context.Context, room, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{Target: room, Type: eventType, Payload: payload})
	for connID, rooms := range h.joins {
		if slices.Contains(rooms, room) {
			if h.delivered == nil {
				h.delivered = make(map[string][]string)
			}
			h.delivered[connID] = append(h.delivered[connID], eventType)
		}
	}
}

// received counts room events of eventType delivered to connID.
func (h *recordingHub) received(connID, eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.delivered[connID] {
		if t == eventType {
			n++
		}
	}
	return n
}

func (h *recordingHub) ToAgent(_ context.Context, agentID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{Target: "agent:" + agentID, Type: eventType, Payload: payload})
}

func (h *recordingHub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.joins == nil {
		h.joins = make(map[string][]string)
	}
	h.joins[connID] = append(h.joins[connID], room)
	return nil
}

func (h *recordingHub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := h.joins[connID]
	for i, r := range rooms {
		if r == room {
			h.joins[connID] = append(rooms[:i], rooms[i+1:]...)
			break
		}
	}
}

func (h *recordingHub) Send(_ context.Context, connID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{Target: "conn:" + connID, Type: eventType, Payload: payload})
}

func (h *recordingHub) count(target, eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Target == target && e.Type == eventType {
			n++
		}
	}
	return n
}

func (h *recordingHub) last(target, eventType string) (sentEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if e := h.events[i]; e.Target == target && e.Type == eventType {
			return e, true
		}
	}
	return sentEvent{}, false
}

func (h *recordingHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// fakeAnswerer answers with a fixed reply or error and counts calls.
type fakeAnswerer struct {
	mu     sync.Mutex
	calls  []knowledge.Question
	answer *knowledge.Answer
	err    error
}

func (f *fakeAnswerer) Answer(_ context.Context, q knowledge.Question) (*knowledge.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeAnswerer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeQueue records published messages and hands subscriptions back to
// the test.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte), handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

type fixture struct {
	dir      *memory.Directory
	registry *memory.Registry
	tenants  *TenantResolver
	hub      *recordingHub
	answerer *fakeAnswerer
	router   *Router
	handoff  *HandoffService
	agents   *AgentService
	convs    *ConversationService
	validate *validation.Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, "mem://acme", "mem://globex")
}

// newSharedFixture stores both tenants at the same address.
func newSharedFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, "mem://shared", "mem://shared")
}

func newFixtureAt(t *testing.T, acmeAddr, globexAddr string) *fixture {
	t.Helper()
	dir := memory.NewDirectory(config.Seed{
		Tenants: []config.SeedTenant{
			{ID: testTenant, Name: "Acme", StorageAddress: acmeAddr},
			{ID: otherTenant, Name: "Globex", StorageAddress: globexAddr},
		},
		Assistants: []config.SeedAssistant{
			{ID: testBot, TenantID: testTenant, Name: "Acme help", KnowledgeRef: "kb-acme", KnowledgeReady: true},
			{ID: pendingBot, TenantID: testTenant, Name: "Acme beta", KnowledgeRef: "kb-beta"},
			{ID: otherBot, TenantID: otherTenant, Name: "Globex help", KnowledgeRef: "kb-globex", KnowledgeReady: true},
		},
	})
	registry := memory.NewRegistry()
	tenants := NewTenantResolver(dir, registry)
	hub := &recordingHub{}
	answerer := &fakeAnswerer{answer: &knowledge.Answer{
		Text:    "Hi! How can I help?",
		Sources: []conversation.Source{{Title: "FAQ", URL: "https://acme.test/faq"}},
	}}
	v := validation.New()
	agents := NewAgentService(tenants, v)
	agents.bcryptCost = 4
	return &fixture{
		dir:      dir,
		registry: registry,
		tenants:  tenants,
		hub:      hub,
		answerer: answerer,
		router:   NewRouter(tenants, answerer, hub, nil),
		handoff:  NewHandoffService(tenants, hub, nil),
		agents:   agents,
		convs:    NewConversationService(tenants),
		validate: v,
	}
}

func (f *fixture) store(t *testing.T, tenantID string) *tenantstore.Handle {
	t.Helper()
	h, err := f.tenants.Store(context.Background(), tenantID)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// newAgent creates an available agent in tenantID and returns its claims.
func (f *fixture) newAgent(t *testing.T, tenantID, username string) *user.Claims {
	t.Helper()
	ctx := context.Background()
	owner := &user.Claims{Role: user.RoleOwner, TenantID: tenantID}
	a, err := f.agents.Create(ctx, owner, agent.CreateRequest{Username: username, Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}
	claims := &user.Claims{Subject: a.ID, Role: user.RoleAgent, TenantID: tenantID, AgentID: a.ID}
	if _, err := f.agents.SetStatus(ctx, claims, agent.StatusRequest{Status: agent.StatusAvailable}); err != nil {
		t.Fatal(err)
	}
	return claims
}

func (f *fixture) agentStatus(t *testing.T, claims *user.Claims) agent.Availability {
	t.Helper()
	a, err := f.store(t, claims.TenantID).Agents.Get(context.Background(), claims.AgentID)
	if err != nil {
		t.Fatal(err)
	}
	return a.Status
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
