// Package orchestrator contains the task polling loop and the response
// composer it dispatches to.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/parley/internal/history"
	"github.com/user/parley/internal/tokens"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Composer turns one answer-generation task into a persisted system reply:
// it loads the triggering message, assembles a token-budgeted context,
// calls the model, and records the step, reasoning, metric, and reply.
type Composer struct {
	tasks    types.TaskStore
	steps    types.StepStore
	messages types.MessageStore
	actors   types.ActorStore
	prompts  types.PromptStore

	assembler *history.Assembler
	est       tokens.Counter
	provider  llm.Provider

	promptName    string
	contextWindow int
}

// ComposerDeps collects the composer's dependencies.
type ComposerDeps struct {
	Tasks    types.TaskStore
	Steps    types.StepStore
	Messages types.MessageStore
	Actors   types.ActorStore
	Prompts  types.PromptStore

	Assembler *history.Assembler
	Estimator tokens.Counter
	Provider  llm.Provider

	PromptName    string
	ContextWindow int
}

func NewComposer(deps ComposerDeps) *Composer {
	return &Composer{
		tasks:         deps.Tasks,
		steps:         deps.Steps,
		messages:      deps.Messages,
		actors:        deps.Actors,
		prompts:       deps.Prompts,
		assembler:     deps.Assembler,
		est:           deps.Estimator,
		provider:      deps.Provider,
		promptName:    deps.PromptName,
		contextWindow: deps.ContextWindow,
	}
}

// answerInput is the task input payload: everything else is resolved from
// the triggering message.
type answerInput struct {
	MessageID types.MessageID `json:"message_id"`
}

// stepInput is the audit record of what was actually sent to the model,
// after any budget trimming.
type stepInput struct {
	MessageID         types.MessageID   `json:"message_id"`
	PromptID          types.PromptID    `json:"prompt_id"`
	UserContent       string            `json:"user_content"`
	ContextMessageIDs []types.MessageID `json:"context_message_ids"`
	InputTokens       int               `json:"input_tokens"`
	TrimmedMessages   int               `json:"trimmed_messages,omitempty"`
}

type stepOutput struct {
	Response    string             `json:"response"`
	ReasoningID *types.ReasoningID `json:"reasoning_id,omitempty"`
	MetricID    types.MetricID     `json:"metric_id"`
	MessageID   types.MessageID    `json:"message_id"`
}

// failTask records a terminal failure on the task. Business failures are a
// handled outcome, not an error to the loop.
func (c *Composer) failTask(ctx context.Context, taskID types.TaskID, module, message string) {
	if err := c.tasks.CompleteTaskError(ctx, taskID, module, message); err != nil {
		slog.Error("failed to record task error", "task_id", string(taskID), "error", err)
	}
}

func (c *Composer) failStepAndTask(ctx context.Context, taskID types.TaskID, stepID types.StepID, module, message string) {
	if err := c.steps.CompleteStepError(ctx, stepID, module, message); err != nil {
		slog.Error("failed to record step error", "step_id", string(stepID), "error", err)
	}
	c.failTask(ctx, taskID, module, message)
}

// ComposeAnswer processes one task end to end. Failures inside the
// pipeline are converted into terminal task/step state here; the returned
// error is non-nil only when even that bookkeeping could not happen.
func (c *Composer) ComposeAnswer(ctx context.Context, task *types.Task) error {
	var input answerInput
	if err := json.Unmarshal(task.Input, &input); err != nil || input.MessageID == "" {
		c.failTask(ctx, task.ID, "composer", "task input is missing message_id")
		return nil
	}

	// 1. The triggering user message.
	msg, err := c.messages.GetMessage(ctx, input.MessageID)
	if err != nil {
		c.failTask(ctx, task.ID, "composer", fmt.Sprintf("load message: %v", err))
		return nil
	}

	// 2. The active prompt bundle: system prompt text plus validated
	// sampling parameters. No hidden defaults anywhere downstream.
	prompt, err := c.prompts.ActivePrompt(ctx, c.promptName)
	if err != nil {
		c.failTask(ctx, task.ID, "composer", fmt.Sprintf("load prompt %q: %v", c.promptName, err))
		return nil
	}
	params, err := llm.ParseSamplingParams(prompt.Params)
	if err != nil {
		c.failTask(ctx, task.ID, "composer", fmt.Sprintf("prompt %q: %v", c.promptName, err))
		return nil
	}

	// 3. Context window plus token arithmetic.
	contextMessages, contextIDs, err := c.assembler.Build(ctx, msg.SessionID, msg.RoomID, msg.ActorID, msg.ID)
	if err != nil {
		c.failTask(ctx, task.ID, "composer", fmt.Sprintf("assemble context: %v", err))
		return nil
	}

	systemTokens := c.est.Count(prompt.Body)
	userTokens := c.est.Count(msg.Body)
	totalInput := systemTokens + userTokens + c.est.CountMessages(contextMessages)

	// 4. Budget enforcement. The same MaxTokens drives both this arithmetic
	// and the model call below; if the two diverge the context can overflow
	// silently.
	available := c.contextWindow - params.MaxTokens
	trimmed := 0
	if totalInput > available {
		slog.Warn("context exceeds budget, trimming oldest first",
			"task_id", string(task.ID),
			"input_tokens", totalInput,
			"available", available)
		for len(contextMessages) > 0 && totalInput > available {
			totalInput -= c.est.Count(contextMessages[0].Content)
			contextMessages = contextMessages[1:]
			contextIDs = contextIDs[1:]
			trimmed++
		}
	}
	if totalInput > available {
		c.failTask(ctx, task.ID, "composer", fmt.Sprintf(
			"current turn alone exceeds context budget (%d tokens, %d available): %v",
			totalInput, available, types.ErrBudgetExceeded))
		return nil
	}

	messages := make([]llm.Message, 0, len(contextMessages)+2)
	messages = append(messages, llm.Message{Role: "system", Content: prompt.Body})
	messages = append(messages, contextMessages...)
	messages = append(messages, llm.Message{Role: "user", Content: msg.Body})

	// 5. The step records the final, possibly trimmed input.
	stepInputJSON, err := json.Marshal(stepInput{
		MessageID:         msg.ID,
		PromptID:          prompt.ID,
		UserContent:       msg.Body,
		ContextMessageIDs: contextIDs,
		InputTokens:       totalInput,
		TrimmedMessages:   trimmed,
	})
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	stepID, err := c.steps.CreateStep(ctx, task.ID, 1, task.Class, nil, stepInputJSON)
	if err != nil {
		c.failTask(ctx, task.ID, "store", fmt.Sprintf("create step: %v", err))
		return nil
	}

	// 6. Model call, with the exact MaxTokens used in the budget above.
	callStart := time.Now()
	result, err := c.provider.Generate(ctx, messages, params)
	if err != nil {
		// 7. Model failure is terminal for step and task.
		c.failStepAndTask(ctx, task.ID, stepID, "model_client", err.Error())
		return nil
	}
	responseTime := time.Since(callStart).Seconds()

	// 8. Persist reasoning, metric, reply; complete step and task.
	var reasoningID *types.ReasoningID
	if result.Reasoning != "" {
		id, err := c.steps.SaveReasoning(ctx, stepID, result.Reasoning, "messages")
		if err != nil {
			c.failStepAndTask(ctx, task.ID, stepID, "store", fmt.Sprintf("save reasoning: %v", err))
			return nil
		}
		if err := c.steps.SetStepReasoning(ctx, stepID, id); err != nil {
			c.failStepAndTask(ctx, task.ID, stepID, "store", fmt.Sprintf("link reasoning: %v", err))
			return nil
		}
		reasoningID = &id
	}

	metricID, err := c.steps.SaveMetric(ctx, &types.Metric{
		StepID:             stepID,
		PromptID:           prompt.ID,
		Model:              result.Model,
		Params:             prompt.Params,
		PromptTokens:       result.Usage.PromptTokens,
		CompletionTokens:   result.Usage.CompletionTokens,
		TotalTokens:        result.Usage.TotalTokens,
		ContextWindow:      c.contextWindow,
		CacheTokens:        result.Timings.CacheTokens,
		PromptMS:           result.Timings.PromptMS,
		PromptPerSecond:    result.Timings.PromptPerSecond,
		PredictedMS:        result.Timings.PredictedMS,
		PredictedPerSecond: result.Timings.PredictedPerSecond,
		ResponseTime:       responseTime,
	})
	if err != nil {
		c.failStepAndTask(ctx, task.ID, stepID, "store", fmt.Sprintf("save metric: %v", err))
		return nil
	}

	systemActor, err := c.actors.SystemActor(ctx)
	if err != nil {
		c.failStepAndTask(ctx, task.ID, stepID, "store", fmt.Sprintf("load system actor: %v", err))
		return nil
	}

	// Latency is measured from the triggering message's timestamp, i.e.
	// "time since the question was asked", which includes queue wait.
	answerLatency := time.Since(msg.CreatedAt).Seconds()
	parentID := msg.ID
	replyID, err := c.messages.SaveMessage(ctx, &types.Message{
		ParentMessageID: &parentID,
		ActorID:         systemActor.ID,
		ActorType:       types.ActorSystem,
		SessionID:       msg.SessionID,
		RoomID:          msg.RoomID,
		Body:            result.Text,
		TokenCount:      c.est.Count(result.Text),
		AnswerLatency:   &answerLatency,
		StepID:          &stepID,
		MetricID:        &metricID,
	})
	if err != nil {
		// No automatic retry: the producer is expected to re-enqueue.
		c.failStepAndTask(ctx, task.ID, stepID, "store", fmt.Sprintf("save reply: %v", err))
		return nil
	}

	output, err := json.Marshal(stepOutput{
		Response:    result.Text,
		ReasoningID: reasoningID,
		MetricID:    metricID,
		MessageID:   replyID,
	})
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	if err := c.steps.CompleteStepSuccess(ctx, stepID, output); err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	if err := c.tasks.CompleteTaskSuccess(ctx, task.ID, output); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	slog.Info("answer composed",
		"task_id", string(task.ID),
		"message_id", string(msg.ID),
		"reply_id", string(replyID),
		"input_tokens", totalInput,
		"trimmed", trimmed,
		"answer_latency_s", answerLatency)
	return nil
}
