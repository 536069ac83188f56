package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/parley/internal/types"
)

// CreateStep records a pending step under the given task. The step's input
// must already be final: it is the audit record of what was actually sent
// to the model, not what was originally requested.
func (s *Store) CreateStep(ctx context.Context, taskID types.TaskID, number int, class string, parent *types.StepID, input json.RawMessage) (types.StepID, error) {
	id := types.NewStepID()
	_, err := s.pool.Exec(ctx, `
INSERT INTO steps (id, task_id, number, class, parent_step_id, input, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		id, taskID, number, class, parent, input)
	if err != nil {
		return "", fmt.Errorf("create step: %w", err)
	}
	return id, nil
}

func (s *Store) CompleteStepSuccess(ctx context.Context, id types.StepID, output json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE steps
SET status = 'completed',
    completed_at = now(),
    output = $2,
    latency = EXTRACT(EPOCH FROM (now() - created_at))
WHERE id = $1 AND status IN ('pending', 'running')`, id, output)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("complete success matched no open step", "step_id", string(id))
	}
	return nil
}

func (s *Store) CompleteStepError(ctx context.Context, id types.StepID, module, message string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE steps
SET status = 'failed',
    completed_at = now(),
    error_module = $2,
    error_message = $3,
    error_at = now(),
    latency = EXTRACT(EPOCH FROM (now() - created_at))
WHERE id = $1 AND status IN ('pending', 'running')`, id, module, message)
	if err != nil {
		return fmt.Errorf("fail step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("complete error matched no open step", "step_id", string(id))
	}
	return nil
}

// SetStepReasoning links a reasoning record to its step. Once set the
// reference is never cleared.
func (s *Store) SetStepReasoning(ctx context.Context, id types.StepID, reasoningID types.ReasoningID) error {
	_, err := s.pool.Exec(ctx, `
UPDATE steps SET reasoning_id = $2 WHERE id = $1 AND reasoning_id IS NULL`, id, reasoningID)
	if err != nil {
		return fmt.Errorf("set step reasoning: %w", err)
	}
	return nil
}

// SaveReasoning stores the model's thinking content for a step. The unique
// constraint on step_id enforces at most one reasoning per step.
func (s *Store) SaveReasoning(ctx context.Context, stepID types.StepID, content, contentType string) (types.ReasoningID, error) {
	id := types.NewReasoningID()
	_, err := s.pool.Exec(ctx, `
INSERT INTO reasonings (id, step_id, content, content_type)
VALUES ($1, $2, $3, $4)`, id, stepID, content, contentType)
	if err != nil {
		return "", fmt.Errorf("save reasoning: %w", err)
	}
	return id, nil
}

// SaveMetric appends one model-invocation metric row.
func (s *Store) SaveMetric(ctx context.Context, m *types.Metric) (types.MetricID, error) {
	id := types.NewMetricID()
	_, err := s.pool.Exec(ctx, `
INSERT INTO metrics (
    id, step_id, prompt_id, model, params,
    prompt_tokens, completion_tokens, total_tokens, context_window,
    cache_tokens, prompt_ms, prompt_per_second,
    predicted_ms, predicted_per_second, response_time, error_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		id, m.StepID, m.PromptID, m.Model, m.Params,
		m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.ContextWindow,
		m.CacheTokens, m.PromptMS, m.PromptPerSecond,
		m.PredictedMS, m.PredictedPerSecond, m.ResponseTime, m.ErrorStatus)
	if err != nil {
		return "", fmt.Errorf("save metric: %w", err)
	}
	return id, nil
}
