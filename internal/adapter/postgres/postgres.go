// Package postgres implements the control-plane directory and the per-tenant
// stores on PostgreSQL, with embedded goose migrations for both schemas.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/Strob0t/supportdesk/internal/config"
)

//go:embed migrations/control/*.sql migrations/tenant/*.sql
var migrations embed.FS

// Version tables are kept apart so a single database may host both schemas
// in development.
const (
	controlDir          = "migrations/control"
	controlVersionTable = "goose_control_version"
	controlLockID       = 7340001

	tenantDir          = "migrations/tenant"
	tenantVersionTable = "goose_tenant_version"
	tenantLockID       = 7340002
)

// NewPool creates the control-plane pgxpool connection pool from a
// config.Postgres struct.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// RunMigrations applies pending control-plane migrations.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, controlDir, controlVersionTable, controlLockID)
}

// migrateTenant applies pending tenant-schema migrations. Goose records the
// applied versions, so repeated calls on the same store are no-ops.
func migrateTenant(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, tenantDir, tenantVersionTable, tenantLockID)
}

// claimUnscopedConversations assigns conversations written before they
// carried a tenant to the first tenant that opens the store.
func claimUnscopedConversations(ctx context.Context, pool *pgxpool.Pool, tenantID string) error {
	tag, err := pool.Exec(ctx, `UPDATE conversations SET tenant_id = $1 WHERE tenant_id IS NULL`, tenantID)
	if err != nil {
		return fmt.Errorf("claim unscoped conversations: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Warn("unscoped conversations assigned to tenant", "tenant_id", tenantID, "count", n)
	}
	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dir, table string, lockID int64) error {
	// Closing this *sql.DB leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := newProvider(db, dir, table, lockID)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations %s: %w", dir, err)
	}
	for _, r := range results {
		slog.Debug("migration applied", "dir", dir, "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// newProvider builds a goose provider over one embedded migration directory.
// The session locker serializes instances migrating the same database.
func newProvider(db *sql.DB, dir, table string, lockID int64) (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations %s: %w", dir, err)
	}
	locker, err := lock.NewPostgresSessionLocker(lock.WithLockID(lockID))
	if err != nil {
		return nil, fmt.Errorf("migration locker: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub,
		goose.WithTableName(table),
		goose.WithDisableGlobalRegistry(true),
		goose.WithSessionLocker(locker),
	)
	if err != nil {
		return nil, fmt.Errorf("migration provider %s: %w", dir, err)
	}
	return provider, nil
}

// MigrationVersion returns the current control-plane migration version.
func MigrationVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := newProvider(db, controlDir, controlVersionTable, controlLockID)
	if err != nil {
		return 0, err
	}
	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}
