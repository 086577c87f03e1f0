package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// Registry hands out one in-memory Store per storage address. Tenants that
// share an address share the Store and are kept apart by their handles.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*Store
	handles map[string]*tenantstore.Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:  make(map[string]*Store),
		handles: make(map[string]*tenantstore.Handle),
	}
}

// Open returns the tenant's handle, creating the store behind address on
// first use. Later calls return the cached handle.
func (r *Registry) Open(_ context.Context, tenantID, address string) (*tenantstore.Handle, error) {
	if address == "" {
		return nil, fmt.Errorf("tenant %s has no storage address: %w", tenantID, domain.ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[tenantID]; ok {
		return h, nil
	}
	s, ok := r.stores[address]
	if !ok {
		s = NewStore()
		r.stores[address] = s
	}
	h := s.Handle(tenantID)
	r.handles[tenantID] = h
	return h, nil
}

// Tenants lists tenants with an open handle.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close is a no-op; memory stores live as long as the registry.
func (r *Registry) Close() {}
