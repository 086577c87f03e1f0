package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/event"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
)

func TestRequestHuman(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newAgent(t, testTenant, "alice")
	if _, err := f.router.HandleVisitorMessage(ctx, testBot, "sess-1", "I want a human"); err != nil {
		t.Fatal(err)
	}

	res, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	c := res.Conversation
	if !res.Changed || c.Status != conversation.StatusQueued {
		t.Fatalf("result = %+v, want queued and changed", res)
	}
	if c.RequestedAt == nil || c.AssignedAgent != "" {
		t.Errorf("requestedAt = %v assignedAgent = %q", c.RequestedAt, c.AssignedAgent)
	}
	if res.AgentsAvailable != 1 {
		t.Errorf("agentsAvailable = %d, want 1", res.AgentsAvailable)
	}

	ev, ok := f.hub.last(broadcast.AgentsRoom(testTenant), event.TypeConversationQueued)
	if !ok {
		t.Fatal("no conversation:queued event for the agents room")
	}
	summary := ev.Payload.(event.ConversationQueued).Summary
	if summary.ID != c.ID || summary.Preview != "I want a human" {
		t.Errorf("summary = %+v", summary)
	}

	again, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed {
		t.Error("second request should be a no-op")
	}
	if n := f.hub.count(broadcast.AgentsRoom(testTenant), event.TypeConversationQueued); n != 1 {
		t.Errorf("conversation:queued events = %d, want 1", n)
	}
}

func TestRequestHuman_NoAgentsOnline(t *testing.T) {
	f := newFixture(t)
	res, err := f.handoff.RequestHuman(context.Background(), testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Conversation.Status != conversation.StatusQueued || res.AgentsAvailable != 0 {
		t.Errorf("result = %+v, want queued with 0 agents", res)
	}
}

func TestRequestHuman_AssignedConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newAgent(t, testTenant, "alice")
	res, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.handoff.Accept(ctx, alice, res.Conversation.ID); err != nil {
		t.Fatal(err)
	}

	_, err = f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if current, ok := domain.CurrentStatus(err); !ok || current != string(conversation.StatusAssigned) {
		t.Errorf("err = %v, want conflict with assigned", err)
	}
}

func TestAccept_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	agents := make([]*user.Claims, n)
	for i := range agents {
		agents[i] = f.newAgent(t, testTenant, fmt.Sprintf("agent%d", i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
		others    []error
	)
	for _, claims := range agents {
		wg.Add(1)
		go func(claims *user.Claims) {
			defer wg.Done()
			_, err := f.handoff.Accept(ctx, claims, res.Conversation.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, claims.AgentID)
			case errors.Is(err, domain.ErrConflict):
				if current, _ := domain.CurrentStatus(err); current == string(conversation.StatusAssigned) {
					conflicts++
				} else {
					others = append(others, err)
				}
			default:
				others = append(others, err)
			}
		}(claims)
	}
	wg.Wait()

	if len(winners) != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("winners = %v conflicts = %d others = %v", winners, conflicts, others)
	}
	c, err := f.store(t, testTenant).Conversations.Get(ctx, res.Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.AssignedAgent != winners[0] || c.AgentID != winners[0] {
		t.Errorf("assigned = %q agentId = %q, want %q", c.AssignedAgent, c.AgentID, winners[0])
	}
	for _, claims := range agents {
		want := agent.StatusAvailable
		if claims.AgentID == winners[0] {
			want = agent.StatusBusy
		}
		if got := f.agentStatus(t, claims); got != want {
			t.Errorf("agent %s status = %q, want %q", claims.AgentID, got, want)
		}
	}
}

func TestAccept_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	owner := &user.Claims{Role: user.RoleOwner, TenantID: testTenant}
	if _, err := f.handoff.Accept(ctx, owner, res.Conversation.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("owner accept err = %v, want forbidden", err)
	}

	stranger := f.newAgent(t, otherTenant, "mallory")
	if _, err := f.handoff.Accept(ctx, stranger, res.Conversation.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other tenant accept err = %v, want not found", err)
	}

	bot, err := f.router.HandleVisitorMessage(ctx, testBot, "sess-2", "hello")
	if err != nil {
		t.Fatal(err)
	}
	alice := f.newAgent(t, testTenant, "alice")
	_, err = f.handoff.Accept(ctx, alice, bot.Conversation.ID)
	if current, ok := domain.CurrentStatus(err); !ok || current != string(conversation.StatusBot) {
		t.Errorf("accept bot conversation err = %v, want conflict with bot", err)
	}
}

func TestAcceptThenClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newAgent(t, testTenant, "alice")

	queued, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	id := queued.Conversation.ID
	accepted, err := f.handoff.Accept(ctx, alice, id)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Conversation.Status != conversation.StatusAssigned || accepted.Conversation.AssignedAgent != alice.AgentID {
		t.Fatalf("accepted = %+v", accepted.Conversation)
	}
	if got := f.agentStatus(t, alice); got != agent.StatusBusy {
		t.Errorf("agent status after accept = %q, want busy", got)
	}

	ended, err := f.handoff.End(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	c := ended.Conversation
	if !ended.Changed || c.Status != conversation.StatusClosed || c.EndedAt == nil {
		t.Fatalf("ended = %+v", c)
	}
	if c.AssignedAgent != "" || c.AgentID != alice.AgentID {
		t.Errorf("assignedAgent = %q agentId = %q, want cleared and history kept", c.AssignedAgent, c.AgentID)
	}
	if got := f.agentStatus(t, alice); got != agent.StatusAvailable {
		t.Errorf("agent status after close = %q, want available", got)
	}

	room := broadcast.ConversationRoom(id)
	statusEvents := f.hub.count(room, event.TypeConversationStatus)
	firstEnd := *c.EndedAt

	again, err := f.handoff.End(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed {
		t.Error("closing a closed conversation should be a no-op")
	}
	stored, err := f.store(t, testTenant).Conversations.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.EndedAt.Equal(firstEnd) {
		t.Errorf("endedAt moved from %v to %v", firstEnd, stored.EndedAt)
	}
	if n := f.hub.count(room, event.TypeConversationStatus); n != statusEvents {
		t.Errorf("status events = %d, want %d (no second broadcast)", n, statusEvents)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newAgent(t, testTenant, "alice")
	bob := f.newAgent(t, testTenant, "bob")

	queued, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	id := queued.Conversation.ID
	if _, err := f.handoff.Accept(ctx, alice, id); err != nil {
		t.Fatal(err)
	}

	if _, err := f.handoff.Release(ctx, bob, id); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-owning agent release err = %v, want forbidden", err)
	}

	res, err := f.handoff.Release(ctx, alice, id)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed || res.Conversation.Status != conversation.StatusBot || res.Conversation.AssignedAgent != "" {
		t.Errorf("released = %+v", res.Conversation)
	}
	if got := f.agentStatus(t, alice); got != agent.StatusAvailable {
		t.Errorf("agent status = %q, want available", got)
	}

	owner := &user.Claims{Role: user.RoleOwner, TenantID: testTenant}
	noop, err := f.handoff.Release(ctx, owner, id)
	if err != nil {
		t.Fatal(err)
	}
	if noop.Changed {
		t.Error("releasing a bot conversation should be a no-op")
	}
}

func TestRelease_OfflineAgentStaysOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newAgent(t, testTenant, "alice")
	queued, err := f.handoff.RequestHuman(ctx, testBot, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.handoff.Accept(ctx, alice, queued.Conversation.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.agents.SetStatus(ctx, alice, agent.StatusRequest{Status: agent.StatusOffline}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.handoff.Release(ctx, alice, queued.Conversation.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.agentStatus(t, alice); got != agent.StatusOffline {
		t.Errorf("agent status = %q, want offline", got)
	}
}

func TestEnd_UnknownSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.handoff.End(context.Background(), testBot, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}
