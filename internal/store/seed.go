package store

import (
	"context"
	"fmt"

	"github.com/user/parley/internal/types"
)

// TaskClassAnswerGeneration is the built-in class for generating a reply to
// a stored user message.
const TaskClassAnswerGeneration = "user_answer_generation"

// DefaultRoom is the room the console front-end uses.
const DefaultRoom = "open_dialogue"

// DefaultPriority is assigned to answer tasks enqueued without an explicit
// priority.
const DefaultPriority = 0.7

// Seed inserts the baseline rows the system needs to operate: the default
// room, the owner and system actors, and the built-in task class. Safe to
// call on every start.
func (s *Store) Seed(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO rooms (id, name, status)
VALUES ($1, $2, 'used')
ON CONFLICT (name) DO NOTHING`,
		types.NewRoomID(), DefaultRoom); err != nil {
		return fmt.Errorf("seed room: %w", err)
	}

	// The partial unique indexes on actors(type) make these inserts
	// single-winner; ON CONFLICT DO NOTHING absorbs the race.
	if _, err := s.pool.Exec(ctx, `
INSERT INTO actors (id, type) VALUES ($1, 'owner')
ON CONFLICT DO NOTHING`, types.NewActorID()); err != nil {
		return fmt.Errorf("seed owner actor: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO actors (id, type) VALUES ($1, 'system')
ON CONFLICT DO NOTHING`, types.NewActorID()); err != nil {
		return fmt.Errorf("seed system actor: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO task_classes (name) VALUES ($1)
ON CONFLICT (name) DO NOTHING`, TaskClassAnswerGeneration); err != nil {
		return fmt.Errorf("seed task class: %w", err)
	}
	return nil
}
