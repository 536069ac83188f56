package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/user/parley/internal/types"
)

const taskColumns = `id, class, input, output, status, priority, created_at,
    started_at, completed_at, error_module, error_message, error_at,
    run_latency, total_latency`

func scanTask(row pgx.Row) (*types.Task, error) {
	var t types.Task
	err := row.Scan(&t.ID, &t.Class, &t.Input, &t.Output, &t.Status,
		&t.Priority, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
		&t.ErrorModule, &t.ErrorMessage, &t.ErrorAt,
		&t.RunLatency, &t.TotalLatency)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnqueueTask inserts a pending task of the given class. Unregistered
// classes fail with ErrValidation.
func (s *Store) EnqueueTask(ctx context.Context, class string, input json.RawMessage, priority float64) (types.TaskID, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM task_classes WHERE name = $1)`, class).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check task class: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("task class %q not registered: %w", class, types.ErrValidation)
	}
	if len(input) == 0 {
		return "", fmt.Errorf("task input must not be empty: %w", types.ErrValidation)
	}

	id := types.NewTaskID()
	_, err = s.pool.Exec(ctx, `
INSERT INTO tasks (id, class, input, priority, status)
VALUES ($1, $2, $3, $4, 'pending')`,
		id, class, input, priority)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// ClaimNextTask selects the oldest pending task of the class with
// FOR UPDATE SKIP LOCKED, so concurrent claimants skip rows another
// transaction holds instead of blocking or double-claiming. The claim
// changes nothing; marking the task running is a separate call so the
// caller can do its bookkeeping first. Returns (nil, nil) on an empty
// queue.
func (s *Store) ClaimNextTask(ctx context.Context, class string) (*types.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := scanTask(tx.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE class = $1 AND status = 'pending'
ORDER BY created_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, class))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id types.TaskID) (*types.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// MarkTaskRunning transitions a pending task to running and stamps
// started_at. A repeat call, or a call against a terminal task, matches
// zero rows and is a no-op.
func (s *Store) MarkTaskRunning(ctx context.Context, id types.TaskID) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'running', started_at = now()
WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Debug("mark running matched no pending task", "task_id", string(id))
	}
	return nil
}

// CompleteTaskSuccess finalizes a task with its output and derived
// latencies. Terminal tasks are left untouched.
func (s *Store) CompleteTaskSuccess(ctx context.Context, id types.TaskID, output json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'completed',
    completed_at = now(),
    output = $2,
    total_latency = EXTRACT(EPOCH FROM (now() - created_at)),
    run_latency = COALESCE(EXTRACT(EPOCH FROM (now() - started_at)), 0)
WHERE id = $1 AND status IN ('pending', 'running')`, id, output)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("complete success matched no open task", "task_id", string(id))
	}
	return nil
}

// CompleteTaskError finalizes a task as failed, recording the failing
// module and message for the audit trail.
func (s *Store) CompleteTaskError(ctx context.Context, id types.TaskID, module, message string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'failed',
    completed_at = now(),
    error_module = $2,
    error_message = $3,
    error_at = now(),
    total_latency = EXTRACT(EPOCH FROM (now() - created_at)),
    run_latency = COALESCE(EXTRACT(EPOCH FROM (now() - started_at)), 0)
WHERE id = $1 AND status IN ('pending', 'running')`, id, module, message)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("complete error matched no open task", "task_id", string(id))
	}
	return nil
}

// ResetDangling recovers from a previous crash: every task and step still
// pending or running becomes failed with a restart error, and every active
// session is force-closed. Assumes no other orchestrator instance is
// running concurrently.
func (s *Store) ResetDangling(ctx context.Context) (types.DanglingReset, error) {
	var reset types.DanglingReset

	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'failed',
    completed_at = now(),
    error_module = 'orchestrator_startup',
    error_message = 'system restart: task interrupted',
    error_at = now(),
    run_latency = COALESCE(EXTRACT(EPOCH FROM (now() - started_at)), 0),
    total_latency = EXTRACT(EPOCH FROM (now() - created_at))
WHERE status IN ('pending', 'running')`)
	if err != nil {
		return reset, fmt.Errorf("reset dangling tasks: %w", err)
	}
	reset.Tasks = int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx, `
UPDATE steps
SET status = 'failed',
    completed_at = now(),
    error_module = 'orchestrator_startup',
    error_message = 'system restart: step interrupted',
    error_at = now(),
    latency = EXTRACT(EPOCH FROM (now() - created_at))
WHERE status IN ('pending', 'running')`)
	if err != nil {
		return reset, fmt.Errorf("reset dangling steps: %w", err)
	}
	reset.Steps = int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx, `
UPDATE sessions
SET status = 'completed', closed_at = now(), updated_at = now()
WHERE status = 'active'`)
	if err != nil {
		return reset, fmt.Errorf("close dangling sessions: %w", err)
	}
	reset.Sessions = int(tag.RowsAffected())

	return reset, nil
}

// ListRecentTasks returns the newest tasks across all classes, for
// inspection tooling.
func (s *Store) ListRecentTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// TaskStats returns task counts grouped by class and status.
func (s *Store) TaskStats(ctx context.Context) ([]types.TaskStat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT class, status, count(*)
FROM tasks
GROUP BY class, status
ORDER BY class, status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	var stats []types.TaskStat
	for rows.Next() {
		var st types.TaskStat
		if err := rows.Scan(&st.Class, &st.Status, &st.Count); err != nil {
			return nil, fmt.Errorf("scan task stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
