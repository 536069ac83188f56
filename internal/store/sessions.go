package store

import (
	"context"
	"fmt"

	"github.com/user/parley/internal/types"
)

// CreateSession opens a new active session for the actor in the room.
// Sessions are never resumed: each run of a front-end starts fresh.
func (s *Store) CreateSession(ctx context.Context, actorID types.ActorID, roomID types.RoomID) (types.SessionID, error) {
	id := types.NewSessionID()
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (id, actor_id, room_id, status)
VALUES ($1, $2, $3, 'active')`, id, actorID, roomID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// TouchSession bumps the session's updated_at.
func (s *Store) TouchSession(ctx context.Context, id types.SessionID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CloseSession completes an active session. Already-closed sessions are
// left untouched.
func (s *Store) CloseSession(ctx context.Context, id types.SessionID) error {
	_, err := s.pool.Exec(ctx, `
UPDATE sessions
SET status = 'completed', closed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
