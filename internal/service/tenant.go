// Package service holds the support desk use cases: routing visitor
// messages, the human handoff, agent accounts and background jobs.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/port/controlplane"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// TenantResolver maps assistants and tenants to their per-tenant stores.
type TenantResolver struct {
	dir      controlplane.Directory
	registry tenantstore.Registry
}

// NewTenantResolver creates a new TenantResolver.
func NewTenantResolver(dir controlplane.Directory, registry tenantstore.Registry) *TenantResolver {
	return &TenantResolver{dir: dir, registry: registry}
}

// Store returns the data access of tenantID.
func (r *TenantResolver) Store(ctx context.Context, tenantID string) (*tenantstore.Handle, error) {
	t, err := r.dir.Tenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	return r.registry.Open(ctx, t.ID, t.StorageAddress)
}

// Bot returns the assistant botID and the store of the tenant owning it.
func (r *TenantResolver) Bot(ctx context.Context, botID string) (*tenant.Assistant, *tenantstore.Handle, error) {
	a, err := r.dir.Assistant(ctx, botID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve assistant %s: %w", botID, err)
	}
	h, err := r.Store(ctx, a.TenantID)
	if err != nil {
		return nil, nil, err
	}
	return a, h, nil
}

// Conversation loads conversation id from h and checks claims against the
// tenant owning its assistant. Stores may be shared between tenants, so the
// control plane decides ownership; the stored tenant only counts when the
// assistant no longer exists.
func (r *TenantResolver) Conversation(ctx context.Context, h *tenantstore.Handle, claims *user.Claims, id string) (*conversation.Conversation, error) {
	c, err := h.Conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := r.owner(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := claims.CheckTenant(owner); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	c.TenantID = owner
	return c, nil
}

// Owned keeps the conversations whose assistant belongs to the caller's tenant.
func (r *TenantResolver) Owned(ctx context.Context, claims *user.Claims, list []conversation.Conversation) ([]conversation.Conversation, error) {
	owners := make(map[string]string)
	out := list[:0]
	for _, c := range list {
		owner, ok := owners[c.BotID]
		if !ok {
			var err error
			if owner, err = r.owner(ctx, &c); err != nil {
				return nil, err
			}
			owners[c.BotID] = owner
		}
		if owner == claims.TenantID {
			c.TenantID = owner
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *TenantResolver) owner(ctx context.Context, c *conversation.Conversation) (string, error) {
	a, err := r.dir.Assistant(ctx, c.BotID)
	if errors.Is(err, domain.ErrNotFound) {
		return c.TenantID, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve assistant %s: %w", c.BotID, err)
	}
	return a.TenantID, nil
}

// OpenTenants lists tenants whose store is open in this process.
func (r *TenantResolver) OpenTenants() []string {
	return r.registry.Tenants()
}
