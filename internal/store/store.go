// Package store is the Postgres persistence layer. All durable state lives
// here; every mutation runs in a short auto-committing statement or
// transaction.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/parley/internal/types"
)

// Store implements the persistence interfaces in internal/types over a
// pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ types.TaskStore = (*Store)(nil)
var _ types.StepStore = (*Store)(nil)
var _ types.MessageStore = (*Store)(nil)
var _ types.SessionStore = (*Store)(nil)
var _ types.ActorStore = (*Store)(nil)
var _ types.RoomStore = (*Store)(nil)
var _ types.PromptStore = (*Store)(nil)

// New opens a pool for the given DSN and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates all tables and indexes if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS actors (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL CHECK (type IN ('owner', 'user', 'system')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// At most one owner and one system actor globally.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_one_owner ON actors (type) WHERE type = 'owner'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_one_system ON actors (type) WHERE type = 'system'`,

		`CREATE TABLE IF NOT EXISTS actor_external_ids (
    id         TEXT PRIMARY KEY,
    actor_id   TEXT NOT NULL REFERENCES actors(id),
    source     TEXT NOT NULL,
    source_id  TEXT NOT NULL,
    authorized BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source, source_id)
)`,

		`CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    status     TEXT NOT NULL DEFAULT 'used',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,

		`CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    actor_id   TEXT NOT NULL REFERENCES actors(id),
    room_id    TEXT NOT NULL REFERENCES rooms(id),
    status     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    closed_at  TIMESTAMPTZ
)`,

		`CREATE TABLE IF NOT EXISTS messages (
    id                TEXT PRIMARY KEY,
    parent_message_id TEXT REFERENCES messages(id),
    actor_id          TEXT NOT NULL REFERENCES actors(id),
    actor_type        TEXT NOT NULL,
    session_id        TEXT NOT NULL REFERENCES sessions(id),
    room_id           TEXT NOT NULL REFERENCES rooms(id),
    body              TEXT NOT NULL,
    token_count       INTEGER NOT NULL DEFAULT 0,
    answer_latency    DOUBLE PRECISION,
    step_id           TEXT,
    metric_id         TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_history ON messages (session_id, room_id, actor_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages (parent_message_id)`,

		`CREATE TABLE IF NOT EXISTS prompts (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    body       TEXT NOT NULL,
    params     JSONB NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_name_status ON prompts (name, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS task_classes (
    name       TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,

		`CREATE TABLE IF NOT EXISTS tasks (
    id            TEXT PRIMARY KEY,
    class         TEXT NOT NULL REFERENCES task_classes(name),
    input         JSONB NOT NULL,
    output        JSONB,
    status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    priority      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    error_module  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    error_at      TIMESTAMPTZ,
    run_latency   DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_latency DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (class, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS steps (
    id             TEXT PRIMARY KEY,
    task_id        TEXT NOT NULL REFERENCES tasks(id),
    number         INTEGER NOT NULL,
    class          TEXT NOT NULL,
    parent_step_id TEXT REFERENCES steps(id),
    input          JSONB NOT NULL,
    output         JSONB,
    status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    reasoning_id   TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at   TIMESTAMPTZ,
    error_module   TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    error_at       TIMESTAMPTZ,
    latency        DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_task ON steps (task_id)`,

		`CREATE TABLE IF NOT EXISTS reasonings (
    id           TEXT PRIMARY KEY,
    step_id      TEXT NOT NULL UNIQUE REFERENCES steps(id),
    content      TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'messages',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,

		`CREATE TABLE IF NOT EXISTS metrics (
    id                   TEXT PRIMARY KEY,
    step_id              TEXT NOT NULL REFERENCES steps(id),
    prompt_id            TEXT,
    model                TEXT NOT NULL DEFAULT '',
    params               JSONB,
    prompt_tokens        INTEGER NOT NULL DEFAULT 0,
    completion_tokens    INTEGER NOT NULL DEFAULT 0,
    total_tokens         INTEGER NOT NULL DEFAULT 0,
    context_window       INTEGER NOT NULL DEFAULT 0,
    cache_tokens         INTEGER NOT NULL DEFAULT 0,
    prompt_ms            DOUBLE PRECISION NOT NULL DEFAULT 0,
    prompt_per_second    DOUBLE PRECISION NOT NULL DEFAULT 0,
    predicted_ms         DOUBLE PRECISION NOT NULL DEFAULT 0,
    predicted_per_second DOUBLE PRECISION NOT NULL DEFAULT 0,
    response_time        DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_status         BOOLEAN NOT NULL DEFAULT false,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_step ON metrics (step_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
