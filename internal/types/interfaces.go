// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

// DanglingReset reports how many rows the startup recovery touched.
type DanglingReset struct {
	Tasks    int
	Steps    int
	Sessions int
}

// TaskStat is one (class, status) count from the queue.
type TaskStat struct {
	Class  string
	Status TaskStatus
	Count  int
}

// HistoryQuery selects the chronological context window for one actor
// within one session and room. ExcludeID drops the triggering message.
type HistoryQuery struct {
	SessionID SessionID
	RoomID    RoomID
	ActorID   ActorID
	ExcludeID MessageID
	Limit     int
}

type TaskStore interface {
	EnqueueTask(ctx context.Context, class string, input json.RawMessage, priority float64) (TaskID, error)
	// ClaimNextTask atomically selects the oldest pending task of the class,
	// skipping rows locked by other claimants. Returns (nil, nil) when the
	// queue is empty. Claiming does not change the task's status.
	ClaimNextTask(ctx context.Context, class string) (*Task, error)
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	MarkTaskRunning(ctx context.Context, id TaskID) error
	CompleteTaskSuccess(ctx context.Context, id TaskID, output json.RawMessage) error
	CompleteTaskError(ctx context.Context, id TaskID, module, message string) error
	ResetDangling(ctx context.Context) (DanglingReset, error)
	TaskStats(ctx context.Context) ([]TaskStat, error)
}

type StepStore interface {
	CreateStep(ctx context.Context, taskID TaskID, number int, class string, parent *StepID, input json.RawMessage) (StepID, error)
	CompleteStepSuccess(ctx context.Context, id StepID, output json.RawMessage) error
	CompleteStepError(ctx context.Context, id StepID, module, message string) error
	SetStepReasoning(ctx context.Context, id StepID, reasoningID ReasoningID) error
	SaveReasoning(ctx context.Context, stepID StepID, content, contentType string) (ReasoningID, error)
	SaveMetric(ctx context.Context, m *Metric) (MetricID, error)
}

type MessageStore interface {
	GetMessage(ctx context.Context, id MessageID) (*Message, error)
	RecentHistory(ctx context.Context, q HistoryQuery) ([]*Message, error)
	SaveMessage(ctx context.Context, m *Message) (MessageID, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, actorID ActorID, roomID RoomID) (SessionID, error)
	TouchSession(ctx context.Context, id SessionID) error
	CloseSession(ctx context.Context, id SessionID) error
}

type ActorStore interface {
	// ActorByExternalID resolves a linked external identity, or ErrNotFound.
	ActorByExternalID(ctx context.Context, source, sourceID string) (*Actor, error)
	// OwnerLinked reports whether the owner actor is already bound to a
	// different external identity from the same source.
	OwnerLinked(ctx context.Context, source, excludeSourceID string) (bool, error)
	OwnerActor(ctx context.Context) (*Actor, error)
	SystemActor(ctx context.Context) (*Actor, error)
	CreateActor(ctx context.Context, t ActorType) (ActorID, error)
	LinkExternalID(ctx context.Context, actorID ActorID, source, sourceID string) error
}

type RoomStore interface {
	RoomByName(ctx context.Context, name string) (*Room, error)
}

type PromptStore interface {
	// ActivePrompt returns the newest active prompt with the given name,
	// or ErrNotFound.
	ActivePrompt(ctx context.Context, name string) (*Prompt, error)
	UpsertPrompt(ctx context.Context, name, body string, params json.RawMessage) (PromptID, error)
}
