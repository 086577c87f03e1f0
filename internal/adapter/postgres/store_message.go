package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/supportdesk/internal/domain/conversation"
)

type messageRepo struct{ s *TenantStore }

// ownedByTenant restricts a message query on conversation $1 to tenant $2.
const ownedByTenant = `EXISTS (SELECT 1 FROM conversations c WHERE c.id = $1 AND c.tenant_id = $2)`

// Append locks the parent conversation row so concurrent appends to one
// conversation get seq and created_at in the same order.
func (r messageRepo) Append(ctx context.Context, m conversation.NewMessage) (*conversation.Message, error) {
	sources, err := marshalNullable(m.Sources, len(m.Sources) > 0)
	if err != nil {
		return nil, fmt.Errorf("append message: sources: %w", err)
	}
	metadata, err := marshalNullable(m.Metadata, len(m.Metadata) > 0)
	if err != nil {
		return nil, fmt.Errorf("append message: metadata: %w", err)
	}

	var out *conversation.Message
	err = pgx.BeginFunc(ctx, r.s.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx,
			`SELECT id FROM conversations WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			m.ConversationID, r.s.tenantID,
		).Scan(&locked); err != nil {
			return notFoundWrap(err, "append message: conversation %s", m.ConversationID)
		}

		msg := conversation.Message{
			ConversationID: m.ConversationID,
			Sender:         m.Sender,
			Text:           m.Text,
			Sources:        m.Sources,
			Metadata:       m.Metadata,
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, sender, text, sources, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, GREATEST(clock_timestamp(),
			     COALESCE((SELECT max(created_at) FROM messages WHERE conversation_id = $1), clock_timestamp())))
			 RETURNING id, created_at`,
			m.ConversationID, string(m.Sender), m.Text, sources, metadata,
		).Scan(&msg.ID, &msg.CreatedAt); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		out = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r messageRepo) List(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	q := `SELECT id, conversation_id, sender, text, sources, metadata, created_at
		 FROM messages WHERE conversation_id = $1 AND ` + ownedByTenant + ` ORDER BY seq ASC`
	args := []any{conversationID, r.s.tenantID}
	if limit > 0 {
		q = `SELECT * FROM (
			SELECT id, conversation_id, sender, text, sources, metadata, created_at, seq
			FROM messages WHERE conversation_id = $1 AND ` + ownedByTenant + ` ORDER BY seq DESC LIMIT $3
		) newest ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var (
			m                 conversation.Message
			sender            string
			sources, metadata []byte
			seq               int64
		)
		dest := []any{&m.ID, &m.ConversationID, &sender, &m.Text, &sources, &metadata, &m.CreatedAt}
		if limit > 0 {
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := decodeMessage(&m, sender, sources, metadata); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r messageRepo) Latest(ctx context.Context, conversationID string, sender conversation.Sender) (*conversation.Message, error) {
	var (
		m                 conversation.Message
		s                 string
		sources, metadata []byte
	)
	err := r.s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender, text, sources, metadata, created_at
		 FROM messages WHERE conversation_id = $1 AND `+ownedByTenant+` AND sender = $3
		 ORDER BY seq DESC LIMIT 1`,
		conversationID, r.s.tenantID, string(sender),
	).Scan(&m.ID, &m.ConversationID, &s, &m.Text, &sources, &metadata, &m.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "latest %s message in %s", sender, conversationID)
	}
	if err := decodeMessage(&m, s, sources, metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeMessage(m *conversation.Message, sender string, sources, metadata []byte) error {
	m.Sender = conversation.Sender(sender)
	m.CreatedAt = m.CreatedAt.UTC()
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.Sources); err != nil {
			return fmt.Errorf("decode sources of message %s: %w", m.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return fmt.Errorf("decode metadata of message %s: %w", m.ID, err)
		}
	}
	return nil
}

// marshalNullable encodes v as JSON, or returns nil (SQL NULL) when present is false.
func marshalNullable(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}
