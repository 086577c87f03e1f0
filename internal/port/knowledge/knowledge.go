// Package knowledge defines the port for the external knowledge-base
// answering service.
package knowledge

import (
	"context"

	"github.com/Strob0t/supportdesk/internal/domain/conversation"
)

// Question is one answering request.
type Question struct {
	Text         string
	SessionID    string
	TenantID     string
	BotID        string
	KnowledgeRef string
}

// Answer is the service's reply.
type Answer struct {
	Text    string
	Sources []conversation.Source
}

// Answerer answers visitor questions. Failures wrap domain.ErrUnavailable,
// domain.ErrTimeout or domain.ErrUpstream according to the transport
// failure class.
type Answerer interface {
	Answer(ctx context.Context, q Question) (*Answer, error)
}
