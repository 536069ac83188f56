package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/parley/internal/types"
)

// ActorByExternalID resolves an external identity (e.g. "console"/"alice")
// to its linked actor, or ErrNotFound when no link exists.
func (s *Store) ActorByExternalID(ctx context.Context, source, sourceID string) (*types.Actor, error) {
	var a types.Actor
	err := s.pool.QueryRow(ctx, `
SELECT a.id, a.type, a.created_at
FROM actor_external_ids e
JOIN actors a ON a.id = e.actor_id
WHERE e.source = $1 AND e.source_id = $2`, source, sourceID).
		Scan(&a.ID, &a.Type, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("external id %s:%s: %w", source, sourceID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup external id: %w", err)
	}
	return &a, nil
}

// OwnerLinked reports whether the owner actor is already bound to a
// different external identity from the same source.
func (s *Store) OwnerLinked(ctx context.Context, source, excludeSourceID string) (bool, error) {
	var linked bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1
    FROM actor_external_ids e
    JOIN actors a ON a.id = e.actor_id
    WHERE a.type = 'owner' AND e.source = $1 AND e.source_id <> $2
)`, source, excludeSourceID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("check owner link: %w", err)
	}
	return linked, nil
}

func (s *Store) actorByType(ctx context.Context, t types.ActorType) (*types.Actor, error) {
	var a types.Actor
	err := s.pool.QueryRow(ctx, `
SELECT id, type, created_at
FROM actors
WHERE type = $1
ORDER BY created_at ASC
LIMIT 1`, t).Scan(&a.ID, &a.Type, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("actor type %s: %w", t, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s actor: %w", t, err)
	}
	return &a, nil
}

func (s *Store) OwnerActor(ctx context.Context) (*types.Actor, error) {
	return s.actorByType(ctx, types.ActorOwner)
}

func (s *Store) SystemActor(ctx context.Context) (*types.Actor, error) {
	return s.actorByType(ctx, types.ActorSystem)
}

func (s *Store) CreateActor(ctx context.Context, t types.ActorType) (types.ActorID, error) {
	id := types.NewActorID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actors (id, type) VALUES ($1, $2)`, id, t)
	if err != nil {
		return "", fmt.Errorf("create actor: %w", err)
	}
	return id, nil
}

func (s *Store) LinkExternalID(ctx context.Context, actorID types.ActorID, source, sourceID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO actor_external_ids (id, actor_id, source, source_id)
VALUES ($1, $2, $3, $4)`,
		types.NewActorID(), actorID, source, sourceID)
	if err != nil {
		return fmt.Errorf("link external id: %w", err)
	}
	return nil
}

// RoomByName finds an active room, or ErrNotFound.
func (s *Store) RoomByName(ctx context.Context, name string) (*types.Room, error) {
	var r types.Room
	err := s.pool.QueryRow(ctx, `
SELECT id, name, status, created_at
FROM rooms
WHERE name = $1 AND status = 'used'`, name).
		Scan(&r.ID, &r.Name, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup room: %w", err)
	}
	return &r, nil
}
