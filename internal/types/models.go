// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// TaskStatus is the shared lifecycle enum for tasks and steps. Transitions
// are monotonic: pending -> running -> completed|failed, never backwards.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one durable unit of orchestrator work. Rows are never deleted;
// once terminal only audit fields may change.
type Task struct {
	ID           TaskID          `json:"id"`
	Class        string          `json:"class"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Status       TaskStatus      `json:"status"`
	Priority     float64         `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorModule  string          `json:"error_module,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorAt      *time.Time      `json:"error_at,omitempty"`
	RunLatency   float64         `json:"run_latency,omitempty"`
	TotalLatency float64         `json:"total_latency,omitempty"`
}

// Step is one traceable sub-operation of a Task. The optional parent
// reference supports chains, though the composer currently records one
// step per task.
type Step struct {
	ID           StepID          `json:"id"`
	TaskID       TaskID          `json:"task_id"`
	Number       int             `json:"number"`
	Class        string          `json:"class"`
	ParentStepID *StepID         `json:"parent_step_id,omitempty"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Status       TaskStatus      `json:"status"`
	ReasoningID  *ReasoningID    `json:"reasoning_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorModule  string          `json:"error_module,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorAt      *time.Time      `json:"error_at,omitempty"`
	Latency      float64         `json:"latency,omitempty"`
}

// Reasoning is the model's internal thinking text for one step. At most one
// per step, immutable after creation.
type Reasoning struct {
	ID          ReasoningID `json:"id"`
	StepID      StepID      `json:"step_id"`
	Content     string      `json:"content"`
	ContentType string      `json:"content_type"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Metric is one append-only row per model invocation.
type Metric struct {
	ID                 MetricID        `json:"id"`
	StepID             StepID          `json:"step_id"`
	PromptID           PromptID        `json:"prompt_id"`
	Model              string          `json:"model"`
	Params             json.RawMessage `json:"params"`
	PromptTokens       int             `json:"prompt_tokens"`
	CompletionTokens   int             `json:"completion_tokens"`
	TotalTokens        int             `json:"total_tokens"`
	ContextWindow      int             `json:"context_window"`
	CacheTokens        int             `json:"cache_tokens"`
	PromptMS           float64         `json:"prompt_ms"`
	PromptPerSecond    float64         `json:"prompt_per_second"`
	PredictedMS        float64         `json:"predicted_ms"`
	PredictedPerSecond float64         `json:"predicted_per_second"`
	ResponseTime       float64         `json:"response_time"`
	ErrorStatus        bool            `json:"error_status"`
	CreatedAt          time.Time       `json:"created_at"`
}

type ActorType string

const (
	ActorOwner  ActorType = "owner"
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor is a conversation identity. Exactly one actor has type owner;
// external identities map many-to-one onto actors.
type Actor struct {
	ID        ActorID   `json:"id"`
	Type      ActorType `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type Room struct {
	ID        RoomID    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is a bounded conversation lifetime for one actor. A session
// boundary is a hard context reset.
type Session struct {
	ID        SessionID     `json:"id"`
	ActorID   ActorID       `json:"actor_id"`
	RoomID    RoomID        `json:"room_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// Message is one conversational turn. Immutable once written except for the
// latency back-filled onto the paired system reply.
type Message struct {
	ID              MessageID  `json:"id"`
	ParentMessageID *MessageID `json:"parent_message_id,omitempty"`
	ActorID         ActorID    `json:"actor_id"`
	ActorType       ActorType  `json:"actor_type"`
	SessionID       SessionID  `json:"session_id"`
	RoomID          RoomID     `json:"room_id"`
	Body            string     `json:"body"`
	TokenCount      int        `json:"token_count"`
	AnswerLatency   *float64   `json:"answer_latency,omitempty"`
	StepID          *StepID    `json:"step_id,omitempty"`
	MetricID        *MetricID  `json:"metric_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Prompt is a versioned system-prompt record. Params holds the sampling
// parameters as JSON; callers validate them into llm.SamplingParams at load.
type Prompt struct {
	ID        PromptID        `json:"id"`
	Name      string          `json:"name"`
	Body      string          `json:"body"`
	Params    json.RawMessage `json:"params"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}
