package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	cfhttp "github.com/Strob0t/supportdesk/internal/adapter/http"
	"github.com/Strob0t/supportdesk/internal/adapter/memory"
	"github.com/Strob0t/supportdesk/internal/adapter/postgres"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/port/controlplane"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

// stores is the control-plane directory and the tenant registry chosen by
// tenant_store.driver.
type stores struct {
	directory controlplane.Directory
	registry  tenantstore.Registry
	checks    map[string]cfhttp.HealthCheck
	pool      *pgxpool.Pool
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.TenantStore.Driver == config.DriverMemory {
		slog.Warn("using in-memory stores, data is lost on restart")
		return &stores{
			directory: memory.NewDirectory(cfg.Seed),
			registry:  memory.NewRegistry(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	dir := postgres.NewDirectory(pool)
	if err := seedDirectory(ctx, dir, cfg.Seed); err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		directory: dir,
		registry:  postgres.NewRegistry(cfg.TenantStore),
		checks: map[string]cfhttp.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		},
		pool: pool,
	}, nil
}

// seedDirectory upserts the configured tenants and assistants. Readiness of
// an existing assistant is left alone.
func seedDirectory(ctx context.Context, dir *postgres.Directory, seed config.Seed) error {
	for _, st := range seed.Tenants {
		t := &tenant.Tenant{ID: st.ID, Name: st.Name, StorageAddress: st.StorageAddress}
		if err := dir.UpsertTenant(ctx, t); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	for _, sa := range seed.Assistants {
		a := &tenant.Assistant{
			ID:             sa.ID,
			TenantID:       sa.TenantID,
			Name:           sa.Name,
			KnowledgeRef:   sa.KnowledgeRef,
			SourceURLs:     sa.SourceURLs,
			KnowledgeReady: sa.KnowledgeReady,
		}
		if err := dir.UpsertAssistant(ctx, a); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if n := len(seed.Tenants) + len(seed.Assistants); n > 0 {
		slog.Info("control plane seeded", "records", n)
	}
	return nil
}

// Close releases tenant pools and the control-plane pool.
func (s *stores) Close() {
	s.registry.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}
