package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/user"
)

const defaultListLimit = 100

// ConversationService is the read side used by widgets and consoles.
type ConversationService struct {
	tenants *TenantResolver
}

// NewConversationService creates a new ConversationService.
func NewConversationService(tenants *TenantResolver) *ConversationService {
	return &ConversationService{tenants: tenants}
}

// List returns the caller's tenant conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, claims *user.Claims, statuses []conversation.Status, limit int) ([]conversation.Conversation, error) {
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	list, err := h.Conversations.List(ctx, conversation.ListFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, err
	}
	return s.tenants.Owned(ctx, claims, list)
}

// Get returns one conversation of the caller's tenant.
func (s *ConversationService) Get(ctx context.Context, claims *user.Claims, id string) (*conversation.Conversation, error) {
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	return s.tenants.Conversation(ctx, h, claims, id)
}

// Messages returns the history of one conversation of the caller's tenant.
func (s *ConversationService) Messages(ctx context.Context, claims *user.Claims, id string, limit int) ([]conversation.Message, error) {
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.tenants.Conversation(ctx, h, claims, id); err != nil {
		return nil, err
	}
	return h.Messages.List(ctx, id, limit)
}

// SessionMessages returns the history a visitor's widget shows. An unknown
// session has no messages yet.
func (s *ConversationService) SessionMessages(ctx context.Context, botID, sessionID string, limit int) (*conversation.Conversation, []conversation.Message, error) {
	_, h, err := s.tenants.Bot(ctx, botID)
	if err != nil {
		return nil, nil, err
	}
	c, err := h.Conversations.GetBySession(ctx, botID, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, []conversation.Message{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	msgs, err := h.Messages.List(ctx, c.ID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages of %s: %w", c.ID, err)
	}
	return c, msgs, nil
}

// ParseStatuses converts query values to canonical statuses.
func ParseStatuses(values []string) ([]conversation.Status, error) {
	out := make([]conversation.Status, 0, len(values))
	for _, v := range values {
		st, err := conversation.ParseStatus(v)
		if err != nil {
			return nil, &domain.ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown value %q", v)}}
		}
		out = append(out, st)
	}
	return out, nil
}
