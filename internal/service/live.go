package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/event"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
	"github.com/Strob0t/supportdesk/internal/validation"
)

// Client frame types.
const (
	FrameJoin        = "join"
	FrameLeave       = "leave"
	FrameMessageSend = "message:send"
)

type visitorJoin struct {
	BotID     string `json:"botId" validate:"required,max=128"`
	SessionID string `json:"sessionId" validate:"required,max=128"`
}

type staffJoin struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

type visitorSend struct {
	BotID     string `json:"botId" validate:"required,max=128"`
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Text      string `json:"text" validate:"required,max=4000"`
}

type agentSend struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	Text           string `json:"text" validate:"required,max=4000"`
}

// LiveService handles frames sent over real-time connections. Rejected
// frames are answered with message:error to the sending connection only.
type LiveService struct {
	rooms         broadcast.Rooms
	tenants       *TenantResolver
	router        *Router
	conversations *ConversationService
	validate      *validation.Validator
}

// NewLiveService creates a new LiveService.
func NewLiveService(rooms broadcast.Rooms, tenants *TenantResolver, router *Router, conversations *ConversationService, v *validation.Validator) *LiveService {
	return &LiveService{rooms: rooms, tenants: tenants, router: router, conversations: conversations, validate: v}
}

// HandleFrame dispatches one client frame.
func (s *LiveService) HandleFrame(ctx context.Context, peer broadcast.Peer, frameType string, payload json.RawMessage) {
	var err error
	switch frameType {
	case FrameJoin:
		err = s.join(ctx, peer, payload)
	case FrameLeave:
		err = s.leave(peer, payload)
	case FrameMessageSend:
		err = s.send(ctx, peer, payload)
	default:
		err = &domain.ValidationError{Fields: map[string]string{"type": fmt.Sprintf("unknown frame type %q", frameType)}}
	}
	if err != nil {
		s.reject(ctx, peer, frameType, err)
	}
}

func (s *LiveService) join(ctx context.Context, peer broadcast.Peer, payload json.RawMessage) error {
	if peer.Claims == nil {
		var f visitorJoin
		if err := s.decode(payload, &f); err != nil {
			return err
		}
		_, h, err := s.tenants.Bot(ctx, f.BotID)
		if err != nil {
			return err
		}
		c, _, err := h.Conversations.ResolveOrCreate(ctx, f.BotID, f.SessionID)
		if err != nil {
			return err
		}
		return s.joinRoom(ctx, peer, c.ID)
	}

	var f staffJoin
	if err := s.decode(payload, &f); err != nil {
		return err
	}
	c, err := s.conversations.Get(ctx, peer.Claims, f.ConversationID)
	if err != nil {
		return err
	}
	return s.joinRoom(ctx, peer, c.ID)
}

func (s *LiveService) joinRoom(ctx context.Context, peer broadcast.Peer, conversationID string) error {
	room := broadcast.ConversationRoom(conversationID)
	if err := s.rooms.Join(peer.ConnID, room); err != nil {
		return err
	}
	s.rooms.Send(ctx, peer.ConnID, event.TypeJoined, event.Joined{Room: room, ConversationID: conversationID})
	return nil
}

func (s *LiveService) leave(peer broadcast.Peer, payload json.RawMessage) error {
	var f staffJoin
	if err := s.decode(payload, &f); err != nil {
		return err
	}
	s.rooms.Leave(peer.ConnID, broadcast.ConversationRoom(f.ConversationID))
	return nil
}

func (s *LiveService) send(ctx context.Context, peer broadcast.Peer, payload json.RawMessage) error {
	if peer.Claims == nil {
		var f visitorSend
		if err := s.decode(payload, &f); err != nil {
			return err
		}
		if _, err := cleanText(f.Text); err != nil {
			return err
		}
		// Join before routing so the sender receives its own message and the reply.
		_, h, err := s.tenants.Bot(ctx, f.BotID)
		if err != nil {
			return err
		}
		c, _, err := h.Conversations.ResolveOrCreate(ctx, f.BotID, f.SessionID)
		if err != nil {
			return err
		}
		if err := s.rooms.Join(peer.ConnID, broadcast.ConversationRoom(c.ID)); err != nil {
			return err
		}
		res, err := s.router.HandleVisitorMessage(ctx, f.BotID, f.SessionID, f.Text)
		if res != nil {
			// The visitor already got the stored error reply.
			return nil
		}
		return err
	}

	var f agentSend
	if err := s.decode(payload, &f); err != nil {
		return err
	}
	_, err := s.router.HandleAgentReply(ctx, peer.Claims, f.ConversationID, f.Text)
	return err
}

func (s *LiveService) decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &domain.ValidationError{Fields: map[string]string{"payload": "is malformed"}}
	}
	return s.validate.Struct(dst)
}

func (s *LiveService) reject(ctx context.Context, peer broadcast.Peer, frameType string, err error) {
	reason := rejectReason(err)
	if errors.Is(err, domain.ErrConflict) {
		slog.Debug("live frame conflict", "conn_id", peer.ConnID, "frame", frameType, "error", err)
	} else if !errors.Is(err, domain.ErrValidation) {
		slog.Warn("live frame failed", "conn_id", peer.ConnID, "frame", frameType, "error", err)
	}
	s.rooms.Send(ctx, peer.ConnID, event.TypeMessageError, event.MessageError{Reason: reason})
}

// rejectReason turns err into text safe to show to the client.
func rejectReason(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrForbidden):
		return "not allowed"
	case errors.Is(err, domain.ErrConflict):
		if current, ok := domain.CurrentStatus(err); ok {
			return "conversation is " + current
		}
		return "conflict"
	default:
		return "temporarily unavailable, please retry"
	}
}
