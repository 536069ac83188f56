package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/parley/internal/types"
)

// ActivePrompt returns the newest active prompt with the given name.
func (s *Store) ActivePrompt(ctx context.Context, name string) (*types.Prompt, error) {
	var p types.Prompt
	err := s.pool.QueryRow(ctx, `
SELECT id, name, body, params, status, created_at
FROM prompts
WHERE name = $1 AND status = 'active'
ORDER BY created_at DESC
LIMIT 1`, name).
		Scan(&p.ID, &p.Name, &p.Body, &p.Params, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prompt %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup prompt: %w", err)
	}
	return &p, nil
}

// UpsertPrompt retires the currently active version of the named prompt and
// inserts a fresh active row, keeping the full version history.
func (s *Store) UpsertPrompt(ctx context.Context, name, body string, params json.RawMessage) (types.PromptID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin prompt upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
UPDATE prompts SET status = 'retired' WHERE name = $1 AND status = 'active'`, name); err != nil {
		return "", fmt.Errorf("retire prompt: %w", err)
	}

	id := types.NewPromptID()
	if _, err := tx.Exec(ctx, `
INSERT INTO prompts (id, name, body, params, status)
VALUES ($1, $2, $3, $4, 'active')`, id, name, body, params); err != nil {
		return "", fmt.Errorf("insert prompt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit prompt upsert: %w", err)
	}
	return id, nil
}
