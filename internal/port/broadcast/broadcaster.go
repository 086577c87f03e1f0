// Package broadcast defines the port for pushing real-time events to rooms
// of connected clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/supportdesk/internal/domain/user"
)

// Broadcaster delivers typed events to rooms and to individual agents.
type Broadcaster interface {
	// ToRoom sends an event to every connection in room.
	ToRoom(ctx context.Context, room, eventType string, payload any)
	// ToAgent sends an event to every live connection of one agent.
	ToAgent(ctx context.Context, agentID, eventType string, payload any)
}

// ConversationRoom receives every message event of one conversation.
func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// AgentsRoom receives queue notifications for a tenant's agents.
func AgentsRoom(tenantID string) string { return "agents:" + tenantID }

// TenantRoom receives every message event of a tenant, read-only.
func TenantRoom(tenantID string) string { return "tenant:" + tenantID }

// Peer is one live client connection as seen by frame handlers.
type Peer struct {
	ConnID string
	Claims *user.Claims // nil for anonymous visitors
}

// Rooms manages the room membership of individual connections.
type Rooms interface {
	Join(connID, room string) error
	Leave(connID, room string)
	// Send delivers an event to one connection only.
	Send(ctx context.Context, connID, eventType string, payload any)
}
