package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// memStore is an in-memory stand-in for the Postgres store, covering the
// interfaces the composer and loop touch.
type memStore struct {
	mu sync.Mutex

	tasks      map[types.TaskID]*types.Task
	queue      []types.TaskID
	steps      map[types.StepID]*types.Step
	messages   map[types.MessageID]*types.Message
	history    []*types.Message
	reasonings map[types.ReasoningID]*types.Reasoning
	metrics    map[types.MetricID]*types.Metric
	prompt     *types.Prompt

	saveMessageErr error
	createStepErr  error
	claimErr       error
	resetCalls     int
}

func newMemStore() *memStore {
	return &memStore{
		tasks:      make(map[types.TaskID]*types.Task),
		steps:      make(map[types.StepID]*types.Step),
		messages:   make(map[types.MessageID]*types.Message),
		reasonings: make(map[types.ReasoningID]*types.Reasoning),
		metrics:    make(map[types.MetricID]*types.Metric),
	}
}

func (s *memStore) EnqueueTask(ctx context.Context, class string, input json.RawMessage, priority float64) (types.TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewTaskID()
	s.tasks[id] = &types.Task{
		ID:        id,
		Class:     class,
		Input:     input,
		Status:    types.TaskPending,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	s.queue = append(s.queue, id)
	return id, nil
}

func (s *memStore) ClaimNextTask(ctx context.Context, class string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	for i, id := range s.queue {
		t := s.tasks[id]
		if t.Class == class && t.Status == types.TaskPending {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetTask(ctx context.Context, id types.TaskID) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *memStore) MarkTaskRunning(ctx context.Context, id types.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.Status == types.TaskPending {
		now := time.Now()
		t.Status = types.TaskRunning
		t.StartedAt = &now
	}
	return nil
}

func (s *memStore) CompleteTaskSuccess(ctx context.Context, id types.TaskID, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.ErrNotFound
	}
	if !t.Status.Terminal() {
		now := time.Now()
		t.Status = types.TaskCompleted
		t.Output = output
		t.CompletedAt = &now
	}
	return nil
}

func (s *memStore) CompleteTaskError(ctx context.Context, id types.TaskID, module, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.ErrNotFound
	}
	if !t.Status.Terminal() {
		now := time.Now()
		t.Status = types.TaskFailed
		t.ErrorModule = module
		t.ErrorMessage = message
		t.ErrorAt = &now
	}
	return nil
}

func (s *memStore) ResetDangling(ctx context.Context) (types.DanglingReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
	var reset types.DanglingReset
	for _, t := range s.tasks {
		if t.Status == types.TaskPending || t.Status == types.TaskRunning {
			t.Status = types.TaskFailed
			t.ErrorModule = "orchestrator_startup"
			t.ErrorMessage = "system restart: task interrupted"
			reset.Tasks++
		}
	}
	return reset, nil
}

func (s *memStore) TaskStats(ctx context.Context) ([]types.TaskStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range s.tasks {
		counts[t.Class+"|"+string(t.Status)]++
	}
	stats := make([]types.TaskStat, 0, len(counts))
	for key, n := range counts {
		parts := strings.SplitN(key, "|", 2)
		stats = append(stats, types.TaskStat{Class: parts[0], Status: types.TaskStatus(parts[1]), Count: n})
	}
	return stats, nil
}

func (s *memStore) CreateStep(ctx context.Context, taskID types.TaskID, number int, class string, parent *types.StepID, input json.RawMessage) (types.StepID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createStepErr != nil {
		return "", s.createStepErr
	}
	id := types.NewStepID()
	s.steps[id] = &types.Step{
		ID:           id,
		TaskID:       taskID,
		Number:       number,
		Class:        class,
		ParentStepID: parent,
		Input:        input,
		Status:       types.TaskPending,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (s *memStore) CompleteStepSuccess(ctx context.Context, id types.StepID, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return types.ErrNotFound
	}
	step.Status = types.TaskCompleted
	step.Output = output
	return nil
}

func (s *memStore) CompleteStepError(ctx context.Context, id types.StepID, module, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return types.ErrNotFound
	}
	step.Status = types.TaskFailed
	step.ErrorModule = module
	step.ErrorMessage = message
	return nil
}

func (s *memStore) SetStepReasoning(ctx context.Context, id types.StepID, reasoningID types.ReasoningID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return types.ErrNotFound
	}
	step.ReasoningID = &reasoningID
	return nil
}

func (s *memStore) SaveReasoning(ctx context.Context, stepID types.StepID, content, contentType string) (types.ReasoningID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewReasoningID()
	s.reasonings[id] = &types.Reasoning{ID: id, StepID: stepID, Content: content, ContentType: contentType}
	return id, nil
}

func (s *memStore) SaveMetric(ctx context.Context, m *types.Metric) (types.MetricID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewMetricID()
	copied := *m
	copied.ID = id
	s.metrics[id] = &copied
	return id, nil
}

func (s *memStore) GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *memStore) RecentHistory(ctx context.Context, q types.HistoryQuery) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// history is stored newest-first, as the real store returns it
	if q.Limit < len(s.history) {
		return s.history[:q.Limit], nil
	}
	return s.history, nil
}

func (s *memStore) SaveMessage(ctx context.Context, m *types.Message) (types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveMessageErr != nil {
		return "", s.saveMessageErr
	}
	if m.ID == "" {
		m.ID = types.NewMessageID()
	}
	m.CreatedAt = time.Now()
	copied := *m
	s.messages[m.ID] = &copied
	return m.ID, nil
}

func (s *memStore) ActorByExternalID(ctx context.Context, source, sourceID string) (*types.Actor, error) {
	return nil, types.ErrNotFound
}

func (s *memStore) OwnerLinked(ctx context.Context, source, excludeSourceID string) (bool, error) {
	return false, nil
}

func (s *memStore) OwnerActor(ctx context.Context) (*types.Actor, error) {
	return &types.Actor{ID: "owner-actor", Type: types.ActorOwner}, nil
}

func (s *memStore) SystemActor(ctx context.Context) (*types.Actor, error) {
	return &types.Actor{ID: "system-actor", Type: types.ActorSystem}, nil
}

func (s *memStore) CreateActor(ctx context.Context, t types.ActorType) (types.ActorID, error) {
	return types.NewActorID(), nil
}

func (s *memStore) LinkExternalID(ctx context.Context, actorID types.ActorID, source, sourceID string) error {
	return nil
}

func (s *memStore) ActivePrompt(ctx context.Context, name string) (*types.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prompt == nil || s.prompt.Name != name {
		return nil, types.ErrNotFound
	}
	copied := *s.prompt
	return &copied, nil
}

func (s *memStore) UpsertPrompt(ctx context.Context, name, body string, params json.RawMessage) (types.PromptID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewPromptID()
	s.prompt = &types.Prompt{ID: id, Name: name, Body: body, Params: params, Status: "active"}
	return id, nil
}

// wordCounter counts whitespace-separated words, giving tests predictable
// budget arithmetic.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) CountMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += wordCounter{}.Count(m.Content)
	}
	return total
}

// stubProvider returns a fixed result or error, recording what it was
// called with.
type stubProvider struct {
	mu       sync.Mutex
	result   *llm.Result
	err      error
	calls    int
	messages []llm.Message
	params   llm.SamplingParams
}

func (p *stubProvider) Generate(ctx context.Context, messages []llm.Message, params llm.SamplingParams) (*llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.messages = messages
	p.params = params
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &llm.Result{Text: "stub answer"}, nil
}

var errBoom = fmt.Errorf("boom")
