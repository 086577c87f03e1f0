// Package conversation defines the support conversation, its messages, and
// the ownership state machine that decides who answers a visitor.
package conversation

import (
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderVisitor Sender = "user"
	SenderBot     Sender = "bot"
	SenderAgent   Sender = "agent"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderVisitor, SenderBot, SenderAgent:
		return true
	}
	return false
}

// Message metadata keys.
const (
	// MetaFlag marks system-generated replies: FlagPlaceholder, FlagError, FlagNotReady.
	MetaFlag = "flag"
	// MetaAgentID records which agent wrote an agent message.
	MetaAgentID = "agent_id"
)

// Message flag values.
const (
	FlagPlaceholder = "placeholder"
	FlagError       = "error"
	FlagNotReady    = "not_ready"
)

// Conversation is one visitor session's thread with an assistant. There is
// exactly one per (BotID, SessionID).
type Conversation struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	BotID         string     `json:"bot_id"`
	SessionID     string     `json:"session_id"`
	Status        Status     `json:"status"`
	AssignedAgent string     `json:"assigned_agent,omitempty"` // empty when nobody owns it
	AgentID       string     `json:"agent_id,omitempty"`       // last agent that owned it
	RequestedAt   *time.Time `json:"requested_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActiveAt  time.Time  `json:"last_active_at"`
}

// Source is a citation returned with an assistant answer.
type Source struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Message is an immutable entry in a conversation.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Sender         Sender            `json:"sender"`
	Text           string            `json:"text"`
	CreatedAt      time.Time         `json:"created_at"`
	Sources        []Source          `json:"sources,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Flag returns the system flag of the message, if any.
func (m *Message) Flag() string {
	return m.Metadata[MetaFlag]
}

// NewMessage is the input for appending a message.
type NewMessage struct {
	ConversationID string
	Sender         Sender
	Text           string
	Sources        []Source
	Metadata       map[string]string
}

// Summary is the lightweight view of a conversation pushed to agents when it
// enters the queue.
type Summary struct {
	ID           string     `json:"id"`
	BotID        string     `json:"bot_id"`
	SessionID    string     `json:"session_id"`
	Status       Status     `json:"status"`
	RequestedAt  *time.Time `json:"requested_at,omitempty"`
	LastActiveAt time.Time  `json:"last_active_at"`
	Preview      string     `json:"preview,omitempty"`
}

// Summarize builds a Summary with an optional preview of the latest visitor text.
func (c *Conversation) Summarize(preview string) Summary {
	const maxPreview = 140
	if r := []rune(preview); len(r) > maxPreview {
		preview = string(r[:maxPreview]) + "…"
	}
	return Summary{
		ID:           c.ID,
		BotID:        c.BotID,
		SessionID:    c.SessionID,
		Status:       c.Status,
		RequestedAt:  c.RequestedAt,
		LastActiveAt: c.LastActiveAt,
		Preview:      preview,
	}
}

// ListFilter narrows conversation listings.
type ListFilter struct {
	Statuses   []Status
	BotID      string
	IdleBefore time.Time // only conversations with LastActiveAt before this
	Limit      int
}
