package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
)

// Directory is an in-memory control plane.
type Directory struct {
	mu         sync.RWMutex
	tenants    map[string]tenant.Tenant
	assistants map[string]tenant.Assistant
}

// NewDirectory creates a directory from seed records.
func NewDirectory(seed config.Seed) *Directory {
	d := &Directory{
		tenants:    make(map[string]tenant.Tenant, len(seed.Tenants)),
		assistants: make(map[string]tenant.Assistant, len(seed.Assistants)),
	}
	now := time.Now().UTC()
	for _, t := range seed.Tenants {
		d.tenants[t.ID] = tenant.Tenant{ID: t.ID, Name: t.Name, StorageAddress: t.StorageAddress, CreatedAt: now}
	}
	for _, a := range seed.Assistants {
		rec := tenant.Assistant{
			ID:             a.ID,
			TenantID:       a.TenantID,
			Name:           a.Name,
			KnowledgeRef:   a.KnowledgeRef,
			SourceURLs:     slices.Clone(a.SourceURLs),
			KnowledgeReady: a.KnowledgeReady,
			CreatedAt:      now,
		}
		if a.KnowledgeReady {
			rec.KnowledgeReadyAt = &now
		}
		d.assistants[a.ID] = rec
	}
	return d
}

// PutTenant adds or replaces a tenant.
func (d *Directory) PutTenant(t tenant.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// PutAssistant adds or replaces an assistant.
func (d *Directory) PutAssistant(a tenant.Assistant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assistants[a.ID] = a
}

// Tenant returns a tenant by id.
func (d *Directory) Tenant(_ context.Context, id string) (*tenant.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

// Assistant returns an assistant by id.
func (d *Directory) Assistant(_ context.Context, botID string) (*tenant.Assistant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.assistants[botID]
	if !ok {
		return nil, fmt.Errorf("assistant %s: %w", botID, domain.ErrNotFound)
	}
	a.SourceURLs = slices.Clone(a.SourceURLs)
	return &a, nil
}

// MarkKnowledgeReady updates an assistant's readiness.
func (d *Directory) MarkKnowledgeReady(_ context.Context, botID string, ready bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.assistants[botID]
	if !ok {
		return fmt.Errorf("assistant %s: %w", botID, domain.ErrNotFound)
	}
	a.KnowledgeReady = ready
	if ready {
		ts := at.UTC()
		a.KnowledgeReadyAt = &ts
	} else {
		a.KnowledgeReadyAt = nil
	}
	d.assistants[botID] = a
	return nil
}
