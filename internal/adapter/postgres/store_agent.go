package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/supportdesk/internal/domain/agent"
)

const agentColumns = `id, tenant_id, username, display_name, password_hash, status, is_active, created_at, updated_at`

type agentRepo struct{ s *TenantStore }

func scanAgent(row scannable) (*agent.Agent, error) {
	var (
		a      agent.Agent
		status string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.Username, &a.DisplayName, &a.PasswordHash,
		&status, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = agent.Availability(status)
	return &a, nil
}

func (r agentRepo) Create(ctx context.Context, a *agent.Agent) error {
	if a.Status == "" {
		a.Status = agent.StatusOffline
	}
	err := r.s.pool.QueryRow(ctx,
		`INSERT INTO agents (tenant_id, username, display_name, password_hash, status, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		r.s.tenantID, a.Username, a.DisplayName, a.PasswordHash, string(a.Status), a.IsActive,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return conflictOnUnique(err, "create agent %s", a.Username)
	}
	a.TenantID = r.s.tenantID
	return nil
}

func (r agentRepo) Get(ctx context.Context, id string) (*agent.Agent, error) {
	a, err := scanAgent(r.s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1 AND tenant_id = $2`,
		id, r.s.tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return a, nil
}

func (r agentRepo) GetByUsername(ctx context.Context, username string) (*agent.Agent, error) {
	a, err := scanAgent(r.s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE username = $1 AND tenant_id = $2`,
		username, r.s.tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", username)
	}
	return a, nil
}

func (r agentRepo) List(ctx context.Context) ([]agent.Agent, error) {
	rows, err := r.s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY username ASC`,
		r.s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r agentRepo) SetStatus(ctx context.Context, id string, status agent.Availability) error {
	tag, err := r.s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1 AND tenant_id = $3`,
		id, string(status), r.s.tenantID)
	return execExpectOne(tag, err, "set agent %s status", id)
}

func (r agentRepo) SetStatusIf(ctx context.Context, id string, from, to agent.Availability) (bool, error) {
	tag, err := r.s.pool.Exec(ctx,
		`UPDATE agents SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2 AND tenant_id = $4`,
		id, string(from), string(to), r.s.tenantID)
	if err != nil {
		return false, fmt.Errorf("set agent %s status: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r agentRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.s.pool.Exec(ctx,
		`UPDATE agents
		 SET is_active = $2,
		     status = CASE WHEN $2 THEN status ELSE 'offline' END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $3`, id, active, r.s.tenantID)
	return execExpectOne(tag, err, "set agent %s active", id)
}

func (r agentRepo) CountByStatus(ctx context.Context, status agent.Availability) (int, error) {
	var n int
	err := r.s.pool.QueryRow(ctx,
		`SELECT count(*) FROM agents WHERE is_active AND status = $1 AND tenant_id = $2`,
		string(status), r.s.tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}
