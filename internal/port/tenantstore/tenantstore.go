// Package tenantstore defines the per-tenant data-access port: one Handle per
// tenant holding the conversation, message and agent repositories.
package tenantstore

import (
	"context"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
)

// ConversationRepo persists conversations of one tenant.
type ConversationRepo interface {
	// ResolveOrCreate returns the conversation for (botID, sessionID),
	// creating it with status bot if absent. created reports which happened.
	// Concurrent calls for the same pair return the same record.
	ResolveOrCreate(ctx context.Context, botID, sessionID string) (c *conversation.Conversation, created bool, err error)
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	GetBySession(ctx context.Context, botID, sessionID string) (*conversation.Conversation, error)
	List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error)

	// Transition applies t as a single conditional write guarded on t.From.
	// When the guard rejects the stored status it re-reads the record and
	// returns a *domain.ConflictError carrying the current status.
	Transition(ctx context.Context, id string, t conversation.Transition, agentID string, at time.Time) (*conversation.Conversation, error)

	// Touch moves LastActiveAt forward to at; it never moves it backwards.
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageRepo persists messages of one tenant.
type MessageRepo interface {
	// Append stores a message. Its CreatedAt is never earlier than the
	// latest message already stored for the conversation.
	Append(ctx context.Context, m conversation.NewMessage) (*conversation.Message, error)
	// List returns messages in insertion order, oldest first. limit <= 0 means all.
	List(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error)
	// Latest returns the newest message from the given sender, or ErrNotFound.
	Latest(ctx context.Context, conversationID string, sender conversation.Sender) (*conversation.Message, error)
}

// AgentRepo persists agent accounts of one tenant.
type AgentRepo interface {
	Create(ctx context.Context, a *agent.Agent) error
	Get(ctx context.Context, id string) (*agent.Agent, error)
	GetByUsername(ctx context.Context, username string) (*agent.Agent, error)
	List(ctx context.Context) ([]agent.Agent, error)
	SetStatus(ctx context.Context, id string, status agent.Availability) error
	// SetStatusIf changes the status only if it currently equals from.
	// It reports whether the write happened.
	SetStatusIf(ctx context.Context, id string, from, to agent.Availability) (bool, error)
	SetActive(ctx context.Context, id string, active bool) error
	CountByStatus(ctx context.Context, status agent.Availability) (int, error)
}

// Handle is the ready-to-use data access of one tenant.
type Handle struct {
	TenantID      string
	Conversations ConversationRepo
	Messages      MessageRepo
	Agents        AgentRepo
}

// Registry opens and caches one Handle per tenant for the process lifetime.
type Registry interface {
	// Open returns the cached handle for tenantID or connects to address.
	// An empty address fails with domain.ErrConfiguration; an unreachable
	// store fails with domain.ErrUnavailable and is not retried.
	Open(ctx context.Context, tenantID, address string) (*Handle, error)
	// Tenants lists the ids of tenants with an open handle.
	Tenants() []string
	// Close releases every handle. Only called at shutdown.
	Close()
}
