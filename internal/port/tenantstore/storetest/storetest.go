// Package storetest is a compliance suite every tenantstore implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// Run executes the suite. newHandle must return a handle over an empty store
// for each call.
func Run(t *testing.T, newHandle func(t *testing.T) *tenantstore.Handle) {
	t.Helper()

	t.Run("ResolveOrCreateIsIdempotent", func(t *testing.T) { testResolveOrCreate(t, newHandle(t)) })
	t.Run("ConcurrentResolveOrCreate", func(t *testing.T) { testConcurrentResolve(t, newHandle(t)) })
	t.Run("MessageOrder", func(t *testing.T) { testMessageOrder(t, newHandle(t)) })
	t.Run("AcceptRace", func(t *testing.T) { testAcceptRace(t, newHandle(t)) })
	t.Run("EndGuard", func(t *testing.T) { testEndGuard(t, newHandle(t)) })
	t.Run("IdleEndGuard", func(t *testing.T) { testIdleEnd(t, newHandle(t)) })
	t.Run("TouchMonotonic", func(t *testing.T) { testTouch(t, newHandle(t)) })
	t.Run("ListFilter", func(t *testing.T) { testList(t, newHandle(t)) })
	t.Run("Agents", func(t *testing.T) { testAgents(t, newHandle(t)) })
}

// RunShared checks that two tenants stored in the same database never see
// each other's records. newPair must return handles of two different tenants
// over one empty store.
func RunShared(t *testing.T, newPair func(t *testing.T) (a, b *tenantstore.Handle)) {
	t.Helper()

	t.Run("ConversationsIsolated", func(t *testing.T) {
		a, b := newPair(t)
		testConversationIsolation(t, a, b)
	})
	t.Run("AgentsIsolated", func(t *testing.T) {
		a, b := newPair(t)
		testAgentIsolation(t, a, b)
	})
}

func testConversationIsolation(t *testing.T, a, b *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := a.Conversations.ResolveOrCreate(ctx, "bot-a", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if c.TenantID != a.TenantID {
		t.Fatalf("conversation tenant = %q, want %q", c.TenantID, a.TenantID)
	}
	if _, err := a.Conversations.Transition(ctx, c.ID, conversation.RequestHuman, "", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Messages.Append(ctx, conversation.NewMessage{ConversationID: c.ID, Sender: conversation.SenderVisitor, Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"Get", func() error { _, err := b.Conversations.Get(ctx, c.ID); return err }},
		{"GetBySession", func() error { _, err := b.Conversations.GetBySession(ctx, "bot-a", "s1"); return err }},
		{"Transition", func() error {
			_, err := b.Conversations.Transition(ctx, c.ID, conversation.Accept, "intruder", time.Now())
			return err
		}},
		{"Touch", func() error { return b.Conversations.Touch(ctx, c.ID, time.Now().Add(time.Hour)) }},
		{"Append", func() error {
			_, err := b.Messages.Append(ctx, conversation.NewMessage{ConversationID: c.ID, Sender: conversation.SenderAgent, Text: "x"})
			return err
		}},
		{"Latest", func() error { _, err := b.Messages.Latest(ctx, c.ID, conversation.SenderVisitor); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("other tenant: want ErrNotFound, got %v", err)
			}
		})
	}

	listed, err := b.Conversations.List(ctx, conversation.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Fatalf("other tenant listed %d conversations", len(listed))
	}
	msgs, err := b.Messages.List(ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("other tenant read %d messages", len(msgs))
	}
	got, err := a.Conversations.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != conversation.StatusQueued || got.AssignedAgent != "" {
		t.Fatalf("owner's conversation changed by other tenant: %+v", got)
	}
}

func testAgentIsolation(t *testing.T, a, b *tenantstore.Handle) {
	ctx := context.Background()
	alice := &agent.Agent{Username: "alice", PasswordHash: "x", Status: agent.StatusAvailable, IsActive: true}
	if err := a.Agents.Create(ctx, alice); err != nil {
		t.Fatal(err)
	}
	// Usernames are unique per tenant only.
	if err := b.Agents.Create(ctx, &agent.Agent{Username: "alice", PasswordHash: "y", IsActive: true}); err != nil {
		t.Fatalf("same username in another tenant: %v", err)
	}

	if _, err := b.Agents.Get(ctx, alice.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get other tenant's agent: want ErrNotFound, got %v", err)
	}
	other, err := b.Agents.GetByUsername(ctx, "alice")
	if err != nil || other.ID == alice.ID {
		t.Fatalf("GetByUsername resolved across tenants: %v, %v", other, err)
	}
	if err := b.Agents.SetStatus(ctx, alice.ID, agent.StatusBusy); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetStatus on other tenant's agent: want ErrNotFound, got %v", err)
	}
	if err := b.Agents.SetActive(ctx, alice.ID, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetActive on other tenant's agent: want ErrNotFound, got %v", err)
	}
	if n, err := b.Agents.CountByStatus(ctx, agent.StatusAvailable); err != nil || n != 0 {
		t.Fatalf("CountByStatus counted other tenant: %d, %v", n, err)
	}
	if list, err := b.Agents.List(ctx); err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	got, err := a.Agents.Get(ctx, alice.ID)
	if err != nil || got.Status != agent.StatusAvailable || !got.IsActive {
		t.Fatalf("owner's agent changed by other tenant: %+v, %v", got, err)
	}
}

func testResolveOrCreate(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c1, created, err := h.Conversations.ResolveOrCreate(ctx, "bot-1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !created || c1.Status != conversation.StatusBot {
		t.Fatalf("first resolve: created=%v status=%s", created, c1.Status)
	}
	c2, created, err := h.Conversations.ResolveOrCreate(ctx, "bot-1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if created || c2.ID != c1.ID {
		t.Fatalf("second resolve: created=%v id=%s want %s", created, c2.ID, c1.ID)
	}
	other, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-2", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == c1.ID {
		t.Fatal("different bot must get a different conversation")
	}
	got, err := h.Conversations.GetBySession(ctx, "bot-1", "sess-1")
	if err != nil || got.ID != c1.ID {
		t.Fatalf("GetBySession = %v, %v", got, err)
	}
	if _, err := h.Conversations.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}
}

func testConcurrentResolve(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-c", "sess-c")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = c.ID
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolve returned %s and %s", ids[0], ids[i])
		}
	}
	list, err := h.Conversations.List(ctx, conversation.ListFilter{BotID: "bot-c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(list))
	}
}

func testMessageOrder(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-m", "sess-m")
	if err != nil {
		t.Fatal(err)
	}
	const n = 20
	for i := range n {
		sender := conversation.SenderVisitor
		if i%2 == 1 {
			sender = conversation.SenderBot
		}
		_, err := h.Messages.Append(ctx, conversation.NewMessage{
			ConversationID: c.ID,
			Sender:         sender,
			Text:           fmt.Sprintf("m%02d", i),
			Sources:        []conversation.Source{{Title: "doc", URL: "https://example.test/doc"}},
			Metadata:       map[string]string{"i": fmt.Sprint(i)},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := h.Messages.List(ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Text != fmt.Sprintf("m%02d", i) {
			t.Fatalf("message %d out of insertion order: %q", i, m.Text)
		}
		if i > 0 && m.CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("timestamps decrease at %d", i)
		}
	}
	if len(msgs[0].Sources) != 1 || msgs[0].Metadata["i"] != "0" {
		t.Fatalf("sources/metadata not round-tripped: %+v", msgs[0])
	}
	last, err := h.Messages.List(ctx, c.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 3 || last[2].Text != fmt.Sprintf("m%02d", n-1) {
		t.Fatalf("limited list should return the newest 3 in order, got %+v", last)
	}
	latest, err := h.Messages.Latest(ctx, c.ID, conversation.SenderVisitor)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Text != fmt.Sprintf("m%02d", n-2) {
		t.Fatalf("Latest visitor = %q", latest.Text)
	}
}

func testAcceptRace(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-r", "sess-r")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Conversations.Transition(ctx, c.ID, conversation.RequestHuman, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	agents := []string{"agent-a", "agent-b", "agent-c", "agent-d"}
	errs := make([]error, len(agents))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = h.Conversations.Transition(ctx, c.ID, conversation.Accept, a, time.Now())
		}()
	}
	close(start)
	wg.Wait()

	winner := ""
	for i, err := range errs {
		if err == nil {
			if winner != "" {
				t.Fatalf("both %s and %s won the accept", winner, agents[i])
			}
			winner = agents[i]
			continue
		}
		cur, ok := domain.CurrentStatus(err)
		if !errors.Is(err, domain.ErrConflict) || !ok || cur != string(conversation.StatusAssigned) {
			t.Fatalf("loser %s: want conflict with assigned, got %v", agents[i], err)
		}
	}
	if winner == "" {
		t.Fatal("no accept succeeded")
	}
	got, err := h.Conversations.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != conversation.StatusAssigned || got.AssignedAgent != winner || got.AgentID != winner {
		t.Fatalf("stored state %+v, want assigned to %s", got, winner)
	}
}

func testEndGuard(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-e", "sess-e")
	if err != nil {
		t.Fatal(err)
	}
	first, err := h.Conversations.Transition(ctx, c.ID, conversation.End, "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != conversation.StatusClosed || first.EndedAt == nil {
		t.Fatalf("after end: %+v", first)
	}
	_, err = h.Conversations.Transition(ctx, c.ID, conversation.End, "", time.Now().Add(time.Minute))
	if cur, _ := domain.CurrentStatus(err); cur != string(conversation.StatusClosed) {
		t.Fatalf("second end: want conflict with closed, got %v", err)
	}
	again, err := h.Conversations.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !again.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("endedAt restamped: %v -> %v", first.EndedAt, again.EndedAt)
	}
	if _, err := h.Conversations.Transition(ctx, "00000000-0000-0000-0000-000000000000", conversation.End, "", time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("transition on missing: want ErrNotFound, got %v", err)
	}
}

// testIdleEnd covers the sweeper race: a conversation listed as idle that sees
// activity before the close must stay open.
func testIdleEnd(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-i", "sess-i")
	if err != nil {
		t.Fatal(err)
	}
	cutoff := c.LastActiveAt.Add(time.Minute)
	if err := h.Conversations.Touch(ctx, c.ID, cutoff.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	_, err = h.Conversations.Transition(ctx, c.ID, conversation.End.IfIdleBefore(cutoff), "", cutoff.Add(time.Minute))
	if cur, _ := domain.CurrentStatus(err); cur != string(conversation.StatusBot) {
		t.Fatalf("end of recently active conversation: want conflict with bot, got %v", err)
	}
	got, err := h.Conversations.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != conversation.StatusBot || got.EndedAt != nil {
		t.Fatalf("recently active conversation closed: %+v", got)
	}

	later := cutoff.Add(time.Hour)
	closed, err := h.Conversations.Transition(ctx, c.ID, conversation.End.IfIdleBefore(later), "", later)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != conversation.StatusClosed {
		t.Fatalf("idle conversation not closed: %+v", closed)
	}
}

func testTouch(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	c, _, err := h.Conversations.ResolveOrCreate(ctx, "bot-t", "sess-t")
	if err != nil {
		t.Fatal(err)
	}
	later := c.LastActiveAt.Add(time.Hour)
	if err := h.Conversations.Touch(ctx, c.ID, later); err != nil {
		t.Fatal(err)
	}
	if err := h.Conversations.Touch(ctx, c.ID, c.LastActiveAt.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, err := h.Conversations.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastActiveAt.Equal(later.UTC().Truncate(time.Microsecond)) && !got.LastActiveAt.Equal(later.UTC()) {
		t.Fatalf("LastActiveAt = %v, want %v", got.LastActiveAt, later)
	}
}

func testList(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	a, _, _ := h.Conversations.ResolveOrCreate(ctx, "bot-l", "s1")
	_, _, _ = h.Conversations.ResolveOrCreate(ctx, "bot-l", "s2")
	if _, err := h.Conversations.Transition(ctx, a.ID, conversation.RequestHuman, "", time.Now()); err != nil {
		t.Fatal(err)
	}
	queued, err := h.Conversations.List(ctx, conversation.ListFilter{Statuses: []conversation.Status{conversation.StatusQueued}})
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].ID != a.ID {
		t.Fatalf("queued list = %+v", queued)
	}
	idle, err := h.Conversations.List(ctx, conversation.ListFilter{IdleBefore: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 2 {
		t.Fatalf("expected 2 idle conversations, got %d", len(idle))
	}
}

func testAgents(t *testing.T, h *tenantstore.Handle) {
	ctx := context.Background()
	a := &agent.Agent{Username: "alice", PasswordHash: "x", Status: agent.StatusAvailable, IsActive: true}
	if err := h.Agents.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.TenantID != h.TenantID {
		t.Fatalf("create did not fill id/tenant: %+v", a)
	}
	if err := h.Agents.Create(ctx, &agent.Agent{Username: "alice", PasswordHash: "y"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate username: want ErrConflict, got %v", err)
	}
	byName, err := h.Agents.GetByUsername(ctx, "alice")
	if err != nil || byName.ID != a.ID {
		t.Fatalf("GetByUsername = %v, %v", byName, err)
	}

	n, err := h.Agents.CountByStatus(ctx, agent.StatusAvailable)
	if err != nil || n != 1 {
		t.Fatalf("CountByStatus = %d, %v", n, err)
	}

	ok, err := h.Agents.SetStatusIf(ctx, a.ID, agent.StatusBusy, agent.StatusAvailable)
	if err != nil || ok {
		t.Fatalf("SetStatusIf from busy on available agent = %v, %v", ok, err)
	}
	if err := h.Agents.SetStatus(ctx, a.ID, agent.StatusBusy); err != nil {
		t.Fatal(err)
	}
	ok, err = h.Agents.SetStatusIf(ctx, a.ID, agent.StatusBusy, agent.StatusAvailable)
	if err != nil || !ok {
		t.Fatalf("SetStatusIf busy->available = %v, %v", ok, err)
	}

	if err := h.Agents.SetActive(ctx, a.ID, false); err != nil {
		t.Fatal(err)
	}
	got, err := h.Agents.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive || got.Status != agent.StatusOffline {
		t.Fatalf("deactivated agent = %+v", got)
	}
	list, err := h.Agents.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if _, err := h.Agents.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing agent: want ErrNotFound, got %v", err)
	}
}
