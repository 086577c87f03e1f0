package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/port/cache"
	"github.com/Strob0t/supportdesk/internal/port/controlplane"
)

// cachedTenant mirrors tenant.Tenant including the storage address, which
// the domain type keeps out of JSON.
type cachedTenant struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StorageAddress string    `json:"storage_address"`
	CreatedAt      time.Time `json:"created_at"`
}

// CachedDirectory is a read-through cache in front of the control plane.
// Cache failures are logged and the lookup falls through to the source.
type CachedDirectory struct {
	next  controlplane.Directory
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedDirectory wraps next with c. A zero ttl uses the cache default.
func NewCachedDirectory(next controlplane.Directory, c cache.Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c, ttl: ttl}
}

func tenantKey(id string) string    { return cache.Key("tenant", id) }
func assistantKey(id string) string { return cache.Key("assistant", id) }

func (d *CachedDirectory) Tenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	var ct cachedTenant
	if d.lookup(ctx, tenantKey(id), &ct) {
		return &tenant.Tenant{ID: ct.ID, Name: ct.Name, StorageAddress: ct.StorageAddress, CreatedAt: ct.CreatedAt}, nil
	}
	t, err := d.next.Tenant(ctx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, tenantKey(id), cachedTenant{ID: t.ID, Name: t.Name, StorageAddress: t.StorageAddress, CreatedAt: t.CreatedAt})
	return t, nil
}

func (d *CachedDirectory) Assistant(ctx context.Context, botID string) (*tenant.Assistant, error) {
	var a tenant.Assistant
	if d.lookup(ctx, assistantKey(botID), &a) {
		return &a, nil
	}
	fresh, err := d.next.Assistant(ctx, botID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, assistantKey(botID), fresh)
	return fresh, nil
}

// MarkKnowledgeReady writes through and drops the cached assistant.
func (d *CachedDirectory) MarkKnowledgeReady(ctx context.Context, botID string, ready bool, at time.Time) error {
	if err := d.next.MarkKnowledgeReady(ctx, botID, ready, at); err != nil {
		return err
	}
	d.Invalidate(ctx, assistantKey(botID))
	return nil
}

// Invalidate drops one cached record.
func (d *CachedDirectory) Invalidate(ctx context.Context, key string) {
	if err := d.cache.Delete(ctx, key); err != nil {
		slog.Warn("directory cache delete failed", "key", key, "error", err)
	}
}

func (d *CachedDirectory) lookup(ctx context.Context, key string, dst any) bool {
	raw, found, err := d.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("directory cache get failed", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("directory cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (d *CachedDirectory) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
		slog.Warn("directory cache set failed", "key", key, "error", err)
	}
}
