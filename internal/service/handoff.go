package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/supportdesk/internal/adapter/otel"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/event"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// HandoffResult is the outcome of a handoff operation.
type HandoffResult struct {
	Conversation *conversation.Conversation `json:"conversation"`
	// Changed is false when the conversation already was in the target state.
	Changed bool `json:"changed"`
	// AgentsAvailable is only set by RequestHuman.
	AgentsAvailable int `json:"agentsAvailable"`
}

// HandoffService moves conversations between the assistant, the queue and
// human agents.
type HandoffService struct {
	tenants *TenantResolver
	pub     *publisher
}

// NewHandoffService creates a new HandoffService.
func NewHandoffService(tenants *TenantResolver, hub broadcast.Broadcaster, metrics *cfotel.Metrics) *HandoffService {
	return &HandoffService{
		tenants: tenants,
		pub:     &publisher{hub: hub, metrics: metrics, now: time.Now},
	}
}

// RequestHuman queues the visitor's conversation for an agent. It succeeds
// even when no agent is available and reports how many are.
func (s *HandoffService) RequestHuman(ctx context.Context, botID, sessionID string) (*HandoffResult, error) {
	_, h, err := s.tenants.Bot(ctx, botID)
	if err != nil {
		return nil, err
	}
	c, _, err := h.Conversations.ResolveOrCreate(ctx, botID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	res := &HandoffResult{Conversation: c}
	if c.Status != conversation.StatusQueued {
		updated, err := s.pub.transition(ctx, h, c.ID, conversation.RequestHuman, "")
		switch {
		case err == nil:
			res.Conversation, res.Changed = updated, true
		case isConflictWith(err, conversation.StatusQueued):
			// A concurrent request queued it first.
		default:
			return nil, err
		}
	}

	n, err := h.Agents.CountByStatus(ctx, agent.StatusAvailable)
	if err != nil {
		slog.Warn("count available agents failed", "tenant_id", h.TenantID, "error", err)
	}
	res.AgentsAvailable = n

	if res.Changed {
		s.pub.metrics.HandoffRequested(ctx, h.TenantID)
		s.pub.hub.ToRoom(ctx, broadcast.AgentsRoom(h.TenantID), event.TypeConversationQueued,
			event.ConversationQueued{Summary: res.Conversation.Summarize(latestVisitorText(ctx, h, c.ID))})
		slog.Info("conversation queued",
			"tenant_id", h.TenantID, "conversation_id", c.ID, "agents_available", n)
	}
	return res, nil
}

// Accept gives a queued conversation to the calling agent. Of concurrent
// accepts exactly one wins; the others get a *domain.ConflictError.
func (s *HandoffService) Accept(ctx context.Context, claims *user.Claims, conversationID string) (*HandoffResult, error) {
	if claims == nil || !claims.IsAgent() {
		return nil, fmt.Errorf("%w: only agents accept conversations", domain.ErrForbidden)
	}
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveAgent(ctx, h, claims.AgentID); err != nil {
		return nil, err
	}
	if _, err := s.tenants.Conversation(ctx, h, claims, conversationID); err != nil {
		return nil, err
	}

	c, err := s.pub.transition(ctx, h, conversationID, conversation.Accept, claims.AgentID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.pub.metrics.AcceptConflict(ctx, h.TenantID)
			slog.Debug("accept lost",
				"tenant_id", h.TenantID, "conversation_id", conversationID, "agent_id", claims.AgentID, "error", err)
		}
		return nil, err
	}

	if err := h.Agents.SetStatus(ctx, claims.AgentID, agent.StatusBusy); err != nil {
		slog.Error("mark agent busy failed", "tenant_id", h.TenantID, "agent_id", claims.AgentID, "error", err)
	}
	slog.Info("conversation accepted",
		"tenant_id", h.TenantID, "conversation_id", c.ID, "agent_id", claims.AgentID)
	return &HandoffResult{Conversation: c, Changed: true}, nil
}

// Release hands an assigned or queued conversation back to the assistant.
// The owning agent or a tenant owner may release it.
func (s *HandoffService) Release(ctx context.Context, claims *user.Claims, conversationID string) (*HandoffResult, error) {
	if claims == nil {
		return nil, fmt.Errorf("%w: release requires a session", domain.ErrForbidden)
	}
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	c, err := s.tenants.Conversation(ctx, h, claims, conversationID)
	if err != nil {
		return nil, err
	}
	if claims.IsAgent() && c.AssignedAgent != claims.AgentID {
		return nil, fmt.Errorf("%w: conversation %s is not assigned to agent %s", domain.ErrForbidden, c.ID, claims.AgentID)
	}
	return s.release(ctx, h, c)
}

func (s *HandoffService) release(ctx context.Context, h *tenantstore.Handle, c *conversation.Conversation) (*HandoffResult, error) {
	if !conversation.Release.Allows(c.Status) {
		return &HandoffResult{Conversation: c}, nil
	}
	updated, err := s.pub.transition(ctx, h, c.ID, conversation.Release, "")
	if err != nil {
		if isConflictWith(err, conversation.StatusBot, conversation.StatusClosed) {
			return &HandoffResult{Conversation: c}, nil
		}
		return nil, err
	}
	s.freeAgent(ctx, h, c.AssignedAgent)
	slog.Info("conversation released", "tenant_id", h.TenantID, "conversation_id", c.ID, "agent_id", c.AssignedAgent)
	return &HandoffResult{Conversation: updated, Changed: true}, nil
}

// End closes the visitor's session. Ending a closed conversation is a no-op.
func (s *HandoffService) End(ctx context.Context, botID, sessionID string) (*HandoffResult, error) {
	_, h, err := s.tenants.Bot(ctx, botID)
	if err != nil {
		return nil, err
	}
	c, err := h.Conversations.GetBySession(ctx, botID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.end(ctx, h, c, conversation.End)
}

// end applies t, End or a guarded variant of it. A conflict means the
// conversation was closed meanwhile or no longer matches the guard.
func (s *HandoffService) end(ctx context.Context, h *tenantstore.Handle, c *conversation.Conversation, t conversation.Transition) (*HandoffResult, error) {
	if c.Status == conversation.StatusClosed {
		return &HandoffResult{Conversation: c}, nil
	}
	updated, err := s.pub.transition(ctx, h, c.ID, t, "")
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return &HandoffResult{Conversation: c}, nil
		}
		return nil, err
	}
	s.freeAgent(ctx, h, c.AssignedAgent)
	slog.Info("conversation ended", "tenant_id", h.TenantID, "conversation_id", c.ID)
	return &HandoffResult{Conversation: updated, Changed: true}, nil
}

// freeAgent makes a busy agent available again. An agent that went offline
// in the meantime stays offline.
func (s *HandoffService) freeAgent(ctx context.Context, h *tenantstore.Handle, agentID string) {
	if agentID == "" {
		return
	}
	if _, err := h.Agents.SetStatusIf(ctx, agentID, agent.StatusBusy, agent.StatusAvailable); err != nil {
		slog.Error("free agent failed", "tenant_id", h.TenantID, "agent_id", agentID, "error", err)
	}
}

// isConflictWith reports whether err is a conflict whose current status is
// one of statuses.
func isConflictWith(err error, statuses ...conversation.Status) bool {
	current, ok := domain.CurrentStatus(err)
	if !ok {
		return false
	}
	st, perr := conversation.ParseStatus(current)
	if perr != nil {
		return false
	}
	for _, s := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func requireActiveAgent(ctx context.Context, h *tenantstore.Handle, agentID string) error {
	a, err := h.Agents.Get(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: agent %s does not belong to tenant %s", domain.ErrForbidden, agentID, h.TenantID)
	}
	if err != nil {
		return err
	}
	if !a.IsActive {
		return fmt.Errorf("%w: agent %s is deactivated", domain.ErrForbidden, agentID)
	}
	return nil
}

func latestVisitorText(ctx context.Context, h *tenantstore.Handle, conversationID string) string {
	m, err := h.Messages.Latest(ctx, conversationID, conversation.SenderVisitor)
	if err != nil {
		return ""
	}
	return m.Text
}
