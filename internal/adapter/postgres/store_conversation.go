package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/port/tenantstore"
)

const conversationColumns = `id, tenant_id, bot_id, session_id, status, assigned_agent, agent_id,
	requested_at, ended_at, created_at, last_active_at`

// TenantStore implements the tenantstore repositories over one tenant's pool.
// Every query is scoped to tenantID, so tenants may share a database.
type TenantStore struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewTenantStore wraps a tenant pool. The tenant schema must already be migrated.
func NewTenantStore(pool *pgxpool.Pool, tenantID string) *TenantStore {
	return &TenantStore{pool: pool, tenantID: tenantID}
}

// Handle exposes the store through the tenantstore port.
func (s *TenantStore) Handle() *tenantstore.Handle {
	return &tenantstore.Handle{
		TenantID:      s.tenantID,
		Conversations: conversationRepo{s},
		Messages:      messageRepo{s},
		Agents:        agentRepo{s},
	}
}

type conversationRepo struct{ s *TenantStore }

func (r conversationRepo) scan(row scannable) (*conversation.Conversation, error) {
	var (
		c                      conversation.Conversation
		tenantID               *string
		status                 string
		assignedAgent, agentID *string
		requestedAt, endedAt   *time.Time
	)
	if err := row.Scan(&c.ID, &tenantID, &c.BotID, &c.SessionID, &status, &assignedAgent, &agentID,
		&requestedAt, &endedAt, &c.CreatedAt, &c.LastActiveAt); err != nil {
		return nil, err
	}
	st, err := conversation.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	c.Status = st
	c.TenantID = derefString(tenantID)
	c.AssignedAgent = derefString(assignedAgent)
	c.AgentID = derefString(agentID)
	c.RequestedAt = utcPtr(requestedAt)
	c.EndedAt = utcPtr(endedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastActiveAt = c.LastActiveAt.UTC()
	return &c, nil
}

func (r conversationRepo) ResolveOrCreate(ctx context.Context, botID, sessionID string) (*conversation.Conversation, bool, error) {
	row := r.s.pool.QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, bot_id, session_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (bot_id, session_id) DO NOTHING
		 RETURNING `+conversationColumns,
		r.s.tenantID, botID, sessionID, string(conversation.StatusBot))
	c, err := r.scan(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create conversation %s/%s: %w", botID, sessionID, err)
	}
	c, err = r.GetBySession(ctx, botID, sessionID)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (r conversationRepo) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := r.s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND tenant_id = $2`,
		id, r.s.tenantID)
	c, err := r.scan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return c, nil
}

func (r conversationRepo) GetBySession(ctx context.Context, botID, sessionID string) (*conversation.Conversation, error) {
	row := r.s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE bot_id = $1 AND session_id = $2 AND tenant_id = $3`,
		botID, sessionID, r.s.tenantID)
	c, err := r.scan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s/%s", botID, sessionID)
	}
	return c, nil
}

func (r conversationRepo) List(ctx context.Context, f conversation.ListFilter) ([]conversation.Conversation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	where = append(where, "tenant_id = "+arg(r.s.tenantID))
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(conversation.StoredForms(f.Statuses...))+")")
	}
	if f.BotID != "" {
		where = append(where, "bot_id = "+arg(f.BotID))
	}
	if !f.IdleBefore.IsZero() {
		where = append(where, "last_active_at < "+arg(f.IdleBefore))
	}

	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` + strings.Join(where, " AND ")
	q += ` ORDER BY last_active_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// Transition is a single UPDATE guarded on the stored status, and on
// last_active_at when t.IdleBefore is set. Zero affected rows means the guard
// failed or the row is missing; the follow-up read tells the two apart and
// supplies the current status for the conflict.
func (r conversationRepo) Transition(ctx context.Context, id string, t conversation.Transition, agentID string, at time.Time) (*conversation.Conversation, error) {
	args := []any{id, r.s.tenantID, conversation.StoredForms(t.From...), string(t.To), at.UTC()}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	sets := []string{"status = $4", "last_active_at = GREATEST(last_active_at, $5)"}
	if t.ClearAgent {
		sets = append(sets, "assigned_agent = NULL")
	}
	if t.AssignAgent {
		p := arg(agentID)
		sets = append(sets, "assigned_agent = "+p, "agent_id = "+p)
	}
	if t.StampRequested {
		sets = append(sets, "requested_at = $5")
	}
	if t.StampEnded {
		sets = append(sets, "ended_at = $5")
	}
	where := "id = $1 AND tenant_id = $2 AND status = ANY($3)"
	if !t.IdleBefore.IsZero() {
		where += " AND last_active_at < " + arg(t.IdleBefore.UTC())
	}

	row := r.s.pool.QueryRow(ctx,
		`UPDATE conversations SET `+strings.Join(sets, ", ")+`
		 WHERE `+where+`
		 RETURNING `+conversationColumns,
		args...)
	c, err := r.scan(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s conversation %s: %w", t.Name, id, err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}
	return nil, &domain.ConflictError{Entity: "conversation", ID: id, Current: string(current.Status)}
}

func (r conversationRepo) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.s.pool.Exec(ctx,
		`UPDATE conversations SET last_active_at = GREATEST(last_active_at, $2)
		 WHERE id = $1 AND tenant_id = $3`,
		id, at.UTC(), r.s.tenantID)
	return execExpectOne(tag, err, "touch conversation %s", id)
}
