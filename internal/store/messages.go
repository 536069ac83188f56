package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/parley/internal/types"
)

const messageColumns = `id, parent_message_id, actor_id, actor_type,
    session_id, room_id, body, token_count, answer_latency, step_id,
    metric_id, created_at`

func scanMessage(row pgx.Row) (*types.Message, error) {
	var m types.Message
	err := row.Scan(&m.ID, &m.ParentMessageID, &m.ActorID, &m.ActorType,
		&m.SessionID, &m.RoomID, &m.Body, &m.TokenCount, &m.AnswerLatency,
		&m.StepID, &m.MetricID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// RecentHistory fetches up to Limit messages from the session and room
// that are either authored by the actor or are system replies to one of
// the actor's messages, excluding the triggering message. The limit
// applies to the combined result. Rows come back newest-first; the caller
// reverses them into chronological order.
func (s *Store) RecentHistory(ctx context.Context, q types.HistoryQuery) ([]*types.Message, error) {
	rows, err := s.pool.Query(ctx, `
WITH actor_msgs AS (
    SELECT id FROM messages
    WHERE session_id = $1 AND room_id = $2 AND actor_id = $3 AND id <> $4
)
SELECT `+messageColumns+`
FROM messages m
WHERE m.session_id = $1
  AND m.room_id = $2
  AND m.id <> $4
  AND (
      m.actor_id = $3
      OR (m.actor_type = 'system' AND m.parent_message_id IN (SELECT id FROM actor_msgs))
  )
ORDER BY m.created_at DESC
LIMIT $5`,
		q.SessionID, q.RoomID, q.ActorID, q.ExcludeID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveMessage inserts a message, generating its ID when unset, and returns
// the ID.
func (s *Store) SaveMessage(ctx context.Context, m *types.Message) (types.MessageID, error) {
	if m.ID == "" {
		m.ID = types.NewMessageID()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (
    id, parent_message_id, actor_id, actor_type, session_id, room_id,
    body, token_count, answer_latency, step_id, metric_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ParentMessageID, m.ActorID, m.ActorType, m.SessionID,
		m.RoomID, m.Body, m.TokenCount, m.AnswerLatency, m.StepID, m.MetricID)
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	return m.ID, nil
}
