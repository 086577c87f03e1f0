package conversation

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain"
)

// Status is who currently owns a conversation.
type Status string

const (
	// StatusBot means the assistant answers automatically.
	StatusBot Status = "bot"
	// StatusQueued means the visitor asked for a human and nobody accepted yet.
	StatusQueued Status = "queued"
	// StatusAssigned means one agent owns the conversation.
	StatusAssigned Status = "assigned"
	// StatusClosed means the session ended; the next visitor turn reopens it as bot.
	StatusClosed Status = "closed"
)

// Deprecated two-state vocabulary still found in older stores.
const (
	legacyAI    = "ai"
	legacyHuman = "human"
)

// ParseStatus maps a stored or wire value to the canonical Status. The legacy
// values "ai" and "human" are read as bot and assigned.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusBot), legacyAI:
		return StatusBot, nil
	case string(StatusQueued):
		return StatusQueued, nil
	case string(StatusAssigned), legacyHuman:
		return StatusAssigned, nil
	case string(StatusClosed):
		return StatusClosed, nil
	}
	return "", fmt.Errorf("%w: unknown conversation status %q", domain.ErrValidation, s)
}

// StoredForms expands canonical statuses into every value that may be
// persisted for them, for use in storage guards and filters.
func StoredForms(statuses ...Status) []string {
	out := make([]string, 0, len(statuses)+2)
	for _, s := range statuses {
		out = append(out, string(s))
		switch s {
		case StatusBot:
			out = append(out, legacyAI)
		case StatusAssigned:
			out = append(out, legacyHuman)
		}
	}
	return out
}

// ReplyMode is how the router answers a visitor message.
type ReplyMode int

const (
	// ReplyBot forwards the message to the answering service.
	ReplyBot ReplyMode = iota
	// ReplyPlaceholder posts the fixed "an agent will be with you" message.
	ReplyPlaceholder
	// ReplyNone leaves the answer to the assigned agent.
	ReplyNone
)

// ReplyMode decides who answers the next visitor message.
func (c *Conversation) ReplyMode() ReplyMode {
	switch {
	case c.Status == StatusAssigned && c.AssignedAgent != "":
		return ReplyNone
	case c.Status == StatusAssigned, c.Status == StatusQueued:
		return ReplyPlaceholder
	default:
		return ReplyBot
	}
}

// Transition is one edge of the ownership state machine. From is the guard
// evaluated atomically by the store, together with IdleBefore when set; the
// remaining fields describe the side effects on the record.
type Transition struct {
	Name           string
	From           []Status
	To             Status
	AssignAgent    bool // set AssignedAgent and AgentID to the acting agent
	ClearAgent     bool // set AssignedAgent to empty
	StampRequested bool
	StampEnded     bool
	// IdleBefore, when set, also requires LastActiveAt to be before it.
	IdleBefore time.Time
}

var (
	// RequestHuman moves a bot-handled (or closed) conversation into the queue.
	RequestHuman = Transition{
		Name:           "request_human",
		From:           []Status{StatusBot, StatusClosed},
		To:             StatusQueued,
		ClearAgent:     true,
		StampRequested: true,
	}
	// Accept gives a queued conversation to one agent.
	Accept = Transition{
		Name:        "accept",
		From:        []Status{StatusQueued},
		To:          StatusAssigned,
		AssignAgent: true,
	}
	// Release hands the conversation back to the assistant.
	Release = Transition{
		Name:       "release",
		From:       []Status{StatusAssigned, StatusQueued},
		To:         StatusBot,
		ClearAgent: true,
		StampEnded: true,
	}
	// End closes the session from any open state.
	End = Transition{
		Name:       "end",
		From:       []Status{StatusBot, StatusQueued, StatusAssigned},
		To:         StatusClosed,
		ClearAgent: true,
		StampEnded: true,
	}
	// Reopen returns a closed conversation to the assistant on the next visitor turn.
	Reopen = Transition{
		Name: "reopen",
		From: []Status{StatusClosed},
		To:   StatusBot,
	}
)

// Allows reports whether the transition's guard admits status s.
func (t Transition) Allows(s Status) bool {
	return slices.Contains(t.From, s)
}

// IfIdleBefore returns a copy of t that only applies to conversations with
// no activity since cutoff.
func (t Transition) IfIdleBefore(cutoff time.Time) Transition {
	t.IdleBefore = cutoff
	return t
}

// Admits reports whether the full guard, status and idleness, admits c.
func (t Transition) Admits(c *Conversation) bool {
	if !t.Allows(c.Status) {
		return false
	}
	return t.IdleBefore.IsZero() || c.LastActiveAt.Before(t.IdleBefore)
}

// Apply performs the transition on c in memory. It fails with a
// *domain.ConflictError when the guard rejects the current record. Stores
// that can express the guard as a conditional write must do so instead of
// calling Apply on a previously read record.
func (t Transition) Apply(c *Conversation, agentID string, now time.Time) error {
	if !t.Admits(c) {
		return &domain.ConflictError{Entity: "conversation", ID: c.ID, Current: string(c.Status)}
	}
	c.Status = t.To
	if t.ClearAgent {
		c.AssignedAgent = ""
	}
	if t.AssignAgent {
		c.AssignedAgent = agentID
		c.AgentID = agentID
	}
	if t.StampRequested {
		ts := now
		c.RequestedAt = &ts
	}
	if t.StampEnded {
		ts := now
		c.EndedAt = &ts
	}
	if now.After(c.LastActiveAt) {
		c.LastActiveAt = now
	}
	return nil
}
