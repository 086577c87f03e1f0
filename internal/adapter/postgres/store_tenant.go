package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/supportdesk/internal/domain/tenant"
)

// Directory implements controlplane.Directory over the control-plane database.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a Directory backed by the given pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Tenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, storage_address, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.StorageAddress, &t.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return &t, nil
}

func (d *Directory) Assistant(ctx context.Context, botID string) (*tenant.Assistant, error) {
	var a tenant.Assistant
	err := d.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, knowledge_ref, source_urls, knowledge_ready, knowledge_ready_at, created_at
		 FROM assistants WHERE id = $1`, botID,
	).Scan(&a.ID, &a.TenantID, &a.Name, &a.KnowledgeRef, &a.SourceURLs, &a.KnowledgeReady, &a.KnowledgeReadyAt, &a.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get assistant %s", botID)
	}
	a.KnowledgeReadyAt = utcPtr(a.KnowledgeReadyAt)
	return &a, nil
}

func (d *Directory) MarkKnowledgeReady(ctx context.Context, botID string, ready bool, at time.Time) error {
	var readyAt *time.Time
	if ready {
		u := at.UTC()
		readyAt = &u
	}
	tag, err := d.pool.Exec(ctx,
		`UPDATE assistants SET knowledge_ready = $2, knowledge_ready_at = $3 WHERE id = $1`,
		botID, ready, readyAt)
	return execExpectOne(tag, err, "mark assistant %s ready", botID)
}

// UpsertTenant creates or updates a tenant record. Used for provisioning
// seeds and tests.
func (d *Directory) UpsertTenant(ctx context.Context, t *tenant.Tenant) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, storage_address) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, storage_address = EXCLUDED.storage_address`,
		t.ID, t.Name, t.StorageAddress)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// UpsertAssistant creates or updates an assistant record.
func (d *Directory) UpsertAssistant(ctx context.Context, a *tenant.Assistant) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO assistants (id, tenant_id, name, knowledge_ref, source_urls, knowledge_ready)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     tenant_id = EXCLUDED.tenant_id,
		     name = EXCLUDED.name,
		     knowledge_ref = EXCLUDED.knowledge_ref,
		     source_urls = EXCLUDED.source_urls`,
		a.ID, a.TenantID, a.Name, a.KnowledgeRef, pgTextArray(a.SourceURLs), a.KnowledgeReady)
	if err != nil {
		return fmt.Errorf("upsert assistant %s: %w", a.ID, err)
	}
	return nil
}
