// internal/types/ids.go
package types

import "github.com/google/uuid"

type TaskID string
type StepID string
type ReasoningID string
type MetricID string
type MessageID string
type SessionID string
type ActorID string
type RoomID string
type PromptID string

func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

func NewStepID() StepID {
	return StepID(uuid.New().String())
}

func NewReasoningID() ReasoningID {
	return ReasoningID(uuid.New().String())
}

func NewMetricID() MetricID {
	return MetricID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewActorID() ActorID {
	return ActorID(uuid.New().String())
}

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

func NewPromptID() PromptID {
	return PromptID(uuid.New().String())
}
