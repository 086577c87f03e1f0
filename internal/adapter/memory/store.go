// Package memory implements the tenant store and control-plane ports in
// process memory. It backs dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// Store holds the records of every tenant stored at one address, like a
// database shared by tenants. Handles scope each query to one tenant. A
// single mutex serializes writes, which makes every conditional update
// atomic.
type Store struct {
	now func() time.Time

	mu       sync.RWMutex
	convs    map[string]*conversation.Conversation
	bySess   map[string]string // botID + "\x00" + sessionID -> conversation id
	messages map[string][]conversation.Message
	agents   map[string]*agent.Agent
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		convs:    make(map[string]*conversation.Conversation),
		bySess:   make(map[string]string),
		messages: make(map[string][]conversation.Message),
		agents:   make(map[string]*agent.Agent),
	}
}

// Handle exposes the records of tenantID through the tenantstore port.
func (s *Store) Handle(tenantID string) *tenantstore.Handle {
	return &tenantstore.Handle{
		TenantID:      tenantID,
		Conversations: conversationRepo{s, tenantID},
		Messages:      messageRepo{s, tenantID},
		Agents:        agentRepo{s, tenantID},
	}
}

func sessionKey(botID, sessionID string) string { return botID + "\x00" + sessionID }

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
}

// conversation returns the tenant's conversation id. Callers hold s.mu.
func (s *Store) conversation(tenantID, id string) (*conversation.Conversation, bool) {
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return nil, false
	}
	return c, true
}

// agent returns the tenant's agent id. Callers hold s.mu.
func (s *Store) agent(tenantID, id string) (*agent.Agent, bool) {
	a, ok := s.agents[id]
	if !ok || a.TenantID != tenantID {
		return nil, false
	}
	return a, true
}

// --- Conversations ---

type conversationRepo struct {
	s        *Store
	tenantID string
}

func (r conversationRepo) ResolveOrCreate(_ context.Context, botID, sessionID string) (*conversation.Conversation, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySess[sessionKey(botID, sessionID)]; ok {
		c, mine := s.conversation(r.tenantID, id)
		if !mine {
			return nil, false, notFound("conversation", botID+"/"+sessionID)
		}
		out := *c
		return &out, false, nil
	}
	now := s.now().UTC()
	c := &conversation.Conversation{
		ID:           uuid.NewString(),
		TenantID:     r.tenantID,
		BotID:        botID,
		SessionID:    sessionID,
		Status:       conversation.StatusBot,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.convs[c.ID] = c
	s.bySess[sessionKey(botID, sessionID)] = c.ID
	out := *c
	return &out, true, nil
}

func (r conversationRepo) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversation(r.tenantID, id)
	if !ok {
		return nil, notFound("conversation", id)
	}
	out := *c
	return &out, nil
}

func (r conversationRepo) GetBySession(ctx context.Context, botID, sessionID string) (*conversation.Conversation, error) {
	r.s.mu.RLock()
	id, ok := r.s.bySess[sessionKey(botID, sessionID)]
	r.s.mu.RUnlock()
	if !ok {
		return nil, notFound("conversation", botID+"/"+sessionID)
	}
	return r.Get(ctx, id)
}

func (r conversationRepo) List(_ context.Context, f conversation.ListFilter) ([]conversation.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]conversation.Conversation, 0, len(r.s.convs))
	for _, c := range r.s.convs {
		if c.TenantID != r.tenantID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, c.Status) {
			continue
		}
		if f.BotID != "" && c.BotID != f.BotID {
			continue
		}
		if !f.IdleBefore.IsZero() && !c.LastActiveAt.Before(f.IdleBefore) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r conversationRepo) Transition(_ context.Context, id string, t conversation.Transition, agentID string, at time.Time) (*conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversation(r.tenantID, id)
	if !ok {
		return nil, notFound("conversation", id)
	}
	next := *c
	if err := t.Apply(&next, agentID, at.UTC()); err != nil {
		return nil, err
	}
	*c = next
	return &next, nil
}

func (r conversationRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversation(r.tenantID, id)
	if !ok {
		return notFound("conversation", id)
	}
	if at.After(c.LastActiveAt) {
		c.LastActiveAt = at.UTC()
	}
	return nil
}

// --- Messages ---

type messageRepo struct {
	s        *Store
	tenantID string
}

func (r messageRepo) Append(_ context.Context, m conversation.NewMessage) (*conversation.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversation(r.tenantID, m.ConversationID); !ok {
		return nil, notFound("conversation", m.ConversationID)
	}
	created := s.now().UTC()
	list := s.messages[m.ConversationID]
	if n := len(list); n > 0 && created.Before(list[n-1].CreatedAt) {
		created = list[n-1].CreatedAt
	}
	msg := conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		CreatedAt:      created,
		Sources:        slices.Clone(m.Sources),
		Metadata:       m.Metadata,
	}
	s.messages[m.ConversationID] = append(list, msg)
	return &msg, nil
}

func (r messageRepo) List(_ context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.conversation(r.tenantID, conversationID); !ok {
		return []conversation.Message{}, nil
	}
	list := r.s.messages[conversationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return slices.Clone(list), nil
}

func (r messageRepo) Latest(_ context.Context, conversationID string, sender conversation.Sender) (*conversation.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.conversation(r.tenantID, conversationID); !ok {
		return nil, notFound("message", conversationID)
	}
	list := r.s.messages[conversationID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Sender == sender {
			m := list[i]
			return &m, nil
		}
	}
	return nil, notFound("message", conversationID)
}

// --- Agents ---

type agentRepo struct {
	s        *Store
	tenantID string
}

func (r agentRepo) Create(_ context.Context, a *agent.Agent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.TenantID == r.tenantID && existing.Username == a.Username {
			return fmt.Errorf("agent %s: %w", a.Username, domain.ErrConflict)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.TenantID = r.tenantID
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = agent.StatusOffline
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (r agentRepo) Get(_ context.Context, id string) (*agent.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.agent(r.tenantID, id)
	if !ok {
		return nil, notFound("agent", id)
	}
	out := *a
	return &out, nil
}

func (r agentRepo) GetByUsername(_ context.Context, username string) (*agent.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.agents {
		if a.TenantID == r.tenantID && a.Username == username {
			out := *a
			return &out, nil
		}
	}
	return nil, notFound("agent", username)
}

func (r agentRepo) List(_ context.Context) ([]agent.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]agent.Agent, 0, len(r.s.agents))
	for _, a := range r.s.agents {
		if a.TenantID == r.tenantID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r agentRepo) SetStatus(_ context.Context, id string, status agent.Availability) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agent(r.tenantID, id)
	if !ok {
		return notFound("agent", id)
	}
	a.Status = status
	a.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r agentRepo) SetStatusIf(_ context.Context, id string, from, to agent.Availability) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agent(r.tenantID, id)
	if !ok {
		return false, notFound("agent", id)
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = r.s.now().UTC()
	return true, nil
}

func (r agentRepo) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agent(r.tenantID, id)
	if !ok {
		return notFound("agent", id)
	}
	a.IsActive = active
	if !active {
		a.Status = agent.StatusOffline
	}
	a.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r agentRepo) CountByStatus(_ context.Context, status agent.Availability) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, a := range r.s.agents {
		if a.TenantID == r.tenantID && a.IsActive && a.Status == status {
			n++
		}
	}
	return n, nil
}
