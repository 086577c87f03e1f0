// Package controlplane defines the port for tenant and assistant provisioning
// records, which live outside the per-tenant stores.
package controlplane

import (
	"context"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain/tenant"
)

// Directory looks up provisioning records.
type Directory interface {
	Tenant(ctx context.Context, id string) (*tenant.Tenant, error)
	Assistant(ctx context.Context, botID string) (*tenant.Assistant, error)
	// MarkKnowledgeReady records the crawl orchestrator's readiness signal.
	MarkKnowledgeReady(ctx context.Context, botID string, ready bool, at time.Time) error
}
