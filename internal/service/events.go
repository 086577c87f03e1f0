package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/supportdesk/internal/adapter/otel"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/event"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// publisher persists messages and fans events out to the rooms. Every
// message is stored before it is broadcast.
type publisher struct {
	hub     broadcast.Broadcaster
	metrics *cfotel.Metrics
	now     func() time.Time
}

// post appends m, refreshes the conversation's activity and broadcasts
// message:new to the conversation and tenant rooms.
func (p *publisher) post(ctx context.Context, h *tenantstore.Handle, m conversation.NewMessage) (*conversation.Message, error) {
	msg, err := h.Messages.Append(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := h.Conversations.Touch(ctx, m.ConversationID, msg.CreatedAt); err != nil {
		slog.Warn("touch conversation failed", "tenant_id", h.TenantID, "conversation_id", m.ConversationID, "error", err)
	}
	p.metrics.MessagePersisted(ctx, h.TenantID, string(msg.Sender))

	ev := event.FromMessage(msg)
	p.hub.ToRoom(ctx, broadcast.ConversationRoom(msg.ConversationID), event.TypeMessageNew, ev)
	p.hub.ToRoom(ctx, broadcast.TenantRoom(h.TenantID), event.TypeMessageNew, ev)
	return msg, nil
}

// status broadcasts the conversation's ownership to its room and to the
// tenant's agents, whose queue views depend on it.
func (p *publisher) status(ctx context.Context, tenantID string, c *conversation.Conversation) {
	ev := event.ConversationStatus{ID: c.ID, Status: c.Status, AssignedAgent: c.AssignedAgent}
	p.hub.ToRoom(ctx, broadcast.ConversationRoom(c.ID), event.TypeConversationStatus, ev)
	p.hub.ToRoom(ctx, broadcast.AgentsRoom(tenantID), event.TypeConversationStatus, ev)
}

// transition applies t and, when it changed the record, broadcasts the new
// status.
func (p *publisher) transition(ctx context.Context, h *tenantstore.Handle, id string, t conversation.Transition, agentID string) (*conversation.Conversation, error) {
	ctx, span := cfotel.StartTransitionSpan(ctx, t.Name, h.TenantID, id)
	c, err := h.Conversations.Transition(ctx, id, t, agentID, p.now().UTC())
	if errors.Is(err, domain.ErrConflict) {
		cfotel.EndSpan(span, nil)
	} else {
		cfotel.EndSpan(span, err)
	}
	if err != nil {
		return nil, err
	}
	p.status(ctx, h.TenantID, c)
	return c, nil
}
