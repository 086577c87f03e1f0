// Package event defines the real-time events pushed to widgets, agent
// consoles and supervisor dashboards.
package event

import (
	"time"

	"github.com/Strob0t/supportdesk/internal/domain/conversation"
)

// Event types.
const (
	TypeMessageNew         = "message:new"
	TypeConversationQueued = "conversation:queued"
	TypeConversationStatus = "conversation:status"
	TypeMessageError       = "message:error"
	TypeJoined             = "room:joined"
)

// MessageNew is emitted for every persisted message.
type MessageNew struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversationId"`
	Sender         conversation.Sender   `json:"sender"`
	Text           string                `json:"text"`
	Timestamp      time.Time             `json:"timestamp"`
	Sources        []conversation.Source `json:"sources,omitempty"`
	Flags          []string              `json:"flags,omitempty"`
}

// FromMessage builds the event for a stored message.
func FromMessage(m *conversation.Message) MessageNew {
	ev := MessageNew{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		Timestamp:      m.CreatedAt,
		Sources:        m.Sources,
	}
	if f := m.Flag(); f != "" {
		ev.Flags = []string{f}
	}
	return ev
}

// ConversationQueued tells idle agents of a new request.
type ConversationQueued struct {
	Summary conversation.Summary `json:"summary"`
}

// ConversationStatus is emitted to the conversation room on every transition.
type ConversationStatus struct {
	ID            string              `json:"id"`
	Status        conversation.Status `json:"status"`
	AssignedAgent string              `json:"assignedAgent,omitempty"`
}

// MessageError reports a rejected live send to the sending connection only.
type MessageError struct {
	Reason string `json:"reason"`
}

// Joined acknowledges a room join.
type Joined struct {
	Room           string `json:"room"`
	ConversationID string `json:"conversationId,omitempty"`
}
