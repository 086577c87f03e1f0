package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// Registry caches one pool and Handle per tenant for the life of the process.
// Concurrent first opens of the same tenant share a single connect attempt.
type Registry struct {
	cfg config.TenantStore

	mu      sync.RWMutex
	pools   map[string]*pgxpool.Pool
	handles map[string]*tenantstore.Handle

	group singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.TenantStore) *Registry {
	return &Registry{
		cfg:     cfg,
		pools:   make(map[string]*pgxpool.Pool),
		handles: make(map[string]*tenantstore.Handle),
	}
}

// Open returns the cached handle for tenantID, connecting on first use.
func (r *Registry) Open(ctx context.Context, tenantID, address string) (*tenantstore.Handle, error) {
	if address == "" {
		return nil, fmt.Errorf("tenant %s has no storage address: %w", tenantID, domain.ErrConfiguration)
	}

	r.mu.RLock()
	h, ok := r.handles[tenantID]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		r.mu.RLock()
		h, ok := r.handles[tenantID]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}
		return r.connect(ctx, tenantID, address)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tenantstore.Handle), nil
}

// connect opens, pings and migrates a tenant store within the connect
// timeout. Failures are returned as-is to every waiting caller and nothing
// is cached, so the next request tries again.
func (r *Registry) connect(ctx context.Context, tenantID, address string) (*tenantstore.Handle, error) {
	poolCfg, err := pgxpool.ParseConfig(address)
	if err != nil {
		return nil, fmt.Errorf("tenant %s storage address: %w", tenantID, domain.ErrConfiguration)
	}
	poolCfg.MaxConns = r.cfg.MaxConns
	poolCfg.MinConns = 0
	poolCfg.ConnConfig.ConnectTimeout = r.cfg.ConnectTimeout

	// Detached from the caller: other requests may be waiting on this connect.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("tenant %s store: %w: %w", tenantID, domain.ErrUnavailable, err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant %s store unreachable: %w: %w", tenantID, domain.ErrUnavailable, err)
	}
	if err := migrateTenant(cctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant %s schema: %w: %w", tenantID, domain.ErrUnavailable, err)
	}

	if err := claimUnscopedConversations(cctx, pool, tenantID); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant %s schema: %w: %w", tenantID, domain.ErrUnavailable, err)
	}

	h := NewTenantStore(pool, tenantID).Handle()

	r.mu.Lock()
	r.pools[tenantID] = pool
	r.handles[tenantID] = h
	r.mu.Unlock()

	slog.Info("tenant store opened", "tenant_id", tenantID, "max_conns", r.cfg.MaxConns)
	return h, nil
}

// Tenants lists tenants with an open store.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every tenant pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pools {
		p.Close()
		delete(r.pools, id)
		delete(r.handles, id)
	}
}
