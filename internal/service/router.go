package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	cfotel "github.com/Strob0t/supportdesk/internal/adapter/otel"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
	"github.com/Strob0t/supportdesk/internal/port/knowledge"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// Fixed visitor-facing texts.
const (
	PlaceholderText = "An agent will be with you shortly."
	NotReadyText    = "This assistant is still being set up. Please try again in a few minutes."
	AnswerErrorText = "Sorry, something went wrong while answering your question. Please try again."
)

// MaxMessageLen bounds the text of one message in runes.
const MaxMessageLen = 4000

// RouteResult is what became of one message.
type RouteResult struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Message      *conversation.Message      `json:"message"`
	// Reply is the assistant or placeholder answer, nil when an agent owns
	// the conversation.
	Reply *conversation.Message `json:"reply,omitempty"`
}

// Router decides who answers each visitor message and stores and
// broadcasts everything it produces.
type Router struct {
	tenants  *TenantResolver
	answerer knowledge.Answerer
	pub      *publisher
}

// NewRouter creates a new Router.
func NewRouter(tenants *TenantResolver, answerer knowledge.Answerer, hub broadcast.Broadcaster, metrics *cfotel.Metrics) *Router {
	return &Router{
		tenants:  tenants,
		answerer: answerer,
		pub:      &publisher{hub: hub, metrics: metrics, now: time.Now},
	}
}

// HandleVisitorMessage stores a visitor message and produces the reply its
// conversation's owner calls for. A failed answering call still yields a
// stored error reply; the returned error then wraps domain.ErrUnavailable,
// domain.ErrTimeout or domain.ErrUpstream.
func (r *Router) HandleVisitorMessage(ctx context.Context, botID, sessionID, text string) (*RouteResult, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}
	bot, h, err := r.tenants.Bot(ctx, botID)
	if err != nil {
		return nil, err
	}
	c, created, err := h.Conversations.ResolveOrCreate(ctx, botID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		slog.Info("conversation started", "tenant_id", h.TenantID, "conversation_id", c.ID, "bot_id", botID)
	}
	if c.Status == conversation.StatusClosed {
		if c, err = r.reopen(ctx, h, c); err != nil {
			return nil, err
		}
	}

	msg, err := r.pub.post(ctx, h, conversation.NewMessage{
		ConversationID: c.ID,
		Sender:         conversation.SenderVisitor,
		Text:           text,
	})
	if err != nil {
		return nil, fmt.Errorf("store visitor message: %w", err)
	}
	res := &RouteResult{Conversation: c, Message: msg}

	switch c.ReplyMode() {
	case conversation.ReplyNone:
		return res, nil
	case conversation.ReplyPlaceholder:
		res.Reply, err = r.notice(ctx, h, c.ID, conversation.SenderAgent, PlaceholderText, conversation.FlagPlaceholder)
		return res, err
	}

	if !bot.KnowledgeReady {
		res.Reply, err = r.notice(ctx, h, c.ID, conversation.SenderBot, NotReadyText, conversation.FlagNotReady)
		return res, err
	}

	ans, answerErr := r.answer(ctx, h.TenantID, bot.ID, bot.KnowledgeRef, c, text)
	if answerErr != nil {
		slog.Warn("answering failed",
			"tenant_id", h.TenantID, "conversation_id", c.ID, "bot_id", bot.ID, "error", answerErr)
		res.Reply, err = r.notice(ctx, h, c.ID, conversation.SenderBot, AnswerErrorText, conversation.FlagError)
		if err != nil {
			return res, errors.Join(answerErr, err)
		}
		return res, fmt.Errorf("answer conversation %s: %w", c.ID, answerErr)
	}

	res.Reply, err = r.pub.post(ctx, h, conversation.NewMessage{
		ConversationID: c.ID,
		Sender:         conversation.SenderBot,
		Text:           ans.Text,
		Sources:        ans.Sources,
	})
	if err != nil {
		return res, fmt.Errorf("store answer: %w", err)
	}
	return res, nil
}

// HandleAgentReply stores a message written by the agent that owns the
// conversation.
func (r *Router) HandleAgentReply(ctx context.Context, claims *user.Claims, conversationID, text string) (*RouteResult, error) {
	if claims == nil || !claims.IsAgent() {
		return nil, fmt.Errorf("%w: only agents reply to conversations", domain.ErrForbidden)
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}
	h, err := r.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveAgent(ctx, h, claims.AgentID); err != nil {
		return nil, err
	}
	c, err := r.tenants.Conversation(ctx, h, claims, conversationID)
	if err != nil {
		return nil, err
	}
	if c.Status != conversation.StatusAssigned || c.AssignedAgent != claims.AgentID {
		return nil, &domain.ConflictError{Entity: "conversation", ID: c.ID, Current: string(c.Status)}
	}

	msg, err := r.pub.post(ctx, h, conversation.NewMessage{
		ConversationID: c.ID,
		Sender:         conversation.SenderAgent,
		Text:           text,
		Metadata:       map[string]string{conversation.MetaAgentID: claims.AgentID},
	})
	if err != nil {
		return nil, fmt.Errorf("store agent reply: %w", err)
	}
	return &RouteResult{Conversation: c, Message: msg}, nil
}

func (r *Router) reopen(ctx context.Context, h *tenantstore.Handle, c *conversation.Conversation) (*conversation.Conversation, error) {
	reopened, err := r.pub.transition(ctx, h, c.ID, conversation.Reopen, "")
	if err == nil {
		return reopened, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		// Another turn reopened it first.
		return h.Conversations.Get(ctx, c.ID)
	}
	return nil, fmt.Errorf("reopen conversation: %w", err)
}

func (r *Router) answer(ctx context.Context, tenantID, botID, knowledgeRef string, c *conversation.Conversation, text string) (*knowledge.Answer, error) {
	ctx, span := cfotel.StartAnswerSpan(ctx, tenantID, botID, c.ID)
	start := time.Now()
	ans, err := r.answerer.Answer(ctx, knowledge.Question{
		Text:         sanitizeQuestion(text),
		SessionID:    c.SessionID,
		TenantID:     tenantID,
		BotID:        botID,
		KnowledgeRef: knowledgeRef,
	})
	r.pub.metrics.AnswerFinished(ctx, tenantID, failureClass(err), time.Since(start))
	cfotel.EndSpan(span, err)
	return ans, err
}

func (r *Router) notice(ctx context.Context, h *tenantstore.Handle, conversationID string, sender conversation.Sender, text, flag string) (*conversation.Message, error) {
	msg, err := r.pub.post(ctx, h, conversation.NewMessage{
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Metadata:       map[string]string{conversation.MetaFlag: flag},
	})
	if err != nil {
		return nil, fmt.Errorf("store %s reply: %w", flag, err)
	}
	return msg, nil
}

// failureClass names the transport failure class of an answering error.
func failureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "upstream"
	}
}

// cleanText trims text and enforces the message size bounds.
func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", &domain.ValidationError{Fields: map[string]string{"text": "is required"}}
	case !utf8.ValidString(text):
		return "", &domain.ValidationError{Fields: map[string]string{"text": "must be valid UTF-8"}}
	case utf8.RuneCountInString(text) > MaxMessageLen:
		return "", &domain.ValidationError{Fields: map[string]string{"text": fmt.Sprintf("must be at most %d characters", MaxMessageLen)}}
	}
	return text, nil
}
