package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/user/parley/internal/history"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

func newTestComposer(st *memStore, provider llm.Provider, contextWindow int) *Composer {
	return NewComposer(ComposerDeps{
		Tasks:         st,
		Steps:         st,
		Messages:      st,
		Actors:        st,
		Prompts:       st,
		Assembler:     history.New(st, wordCounter{}, 7),
		Estimator:     wordCounter{},
		Provider:      provider,
		PromptName:    "core_identity",
		ContextWindow: contextWindow,
	})
}

func seedPrompt(st *memStore, body string, maxTokens int) {
	params := fmt.Sprintf(`{"temperature":0.7,"top_p":0.9,"top_k":40,"min_p":0.05,"max_tokens":%d,"presence_penalty":0.5}`, maxTokens)
	st.UpsertPrompt(context.Background(), "core_identity", body, json.RawMessage(params))
}

func seedUserMessage(st *memStore, body string) types.MessageID {
	id, _ := st.SaveMessage(context.Background(), &types.Message{
		ActorID:   "owner-actor",
		ActorType: types.ActorOwner,
		SessionID: "s1",
		RoomID:    "r1",
		Body:      body,
	})
	// Backdate so answer latency is measurably positive.
	st.mu.Lock()
	st.messages[id].CreatedAt = time.Now().Add(-time.Second)
	st.mu.Unlock()
	return id
}

func seedAnswerTask(st *memStore, messageID types.MessageID) *types.Task {
	input, _ := json.Marshal(map[string]string{"message_id": string(messageID)})
	id, _ := st.EnqueueTask(context.Background(), "user_answer_generation", input, 0.7)
	task, _ := st.GetTask(context.Background(), id)
	return task
}

func singleStep(t *testing.T, st *memStore) *types.Step {
	t.Helper()
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.steps) != 1 {
		t.Fatalf("expected exactly 1 step, got %d", len(st.steps))
	}
	for _, step := range st.steps {
		return step
	}
	return nil
}

func TestComposeAnswer(t *testing.T) {
	st := newMemStore()
	seedPrompt(st, "be terse", 100)
	msgID := seedUserMessage(st, "what is the answer")
	task := seedAnswerTask(st, msgID)

	provider := &stubProvider{result: &llm.Result{
		Text:      "the answer is forty two",
		Reasoning: "counted on fingers",
		Usage:     llm.Usage{PromptTokens: 6, CompletionTokens: 5, TotalTokens: 11},
		Timings:   llm.Timings{CacheTokens: 2, PredictedPerSecond: 30},
		Model:     "local",
	}}
	c := newTestComposer(st, provider, 8192)

	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	// Model saw system prompt first and the user turn last.
	if len(provider.messages) != 2 {
		t.Fatalf("expected 2 model messages, got %d", len(provider.messages))
	}
	if provider.messages[0].Role != "system" || provider.messages[0].Content != "be terse" {
		t.Errorf("unexpected system message: %+v", provider.messages[0])
	}
	if provider.messages[1].Role != "user" || provider.messages[1].Content != "what is the answer" {
		t.Errorf("unexpected user message: %+v", provider.messages[1])
	}
	if provider.params.MaxTokens != 100 {
		t.Errorf("expected max_tokens 100 from prompt params, got %d", provider.params.MaxTokens)
	}

	step := singleStep(t, st)
	if step.Status != types.TaskCompleted {
		t.Errorf("expected completed step, got %s", step.Status)
	}
	if step.ReasoningID == nil {
		t.Fatal("expected reasoning linked to step")
	}
	reasoning := st.reasonings[*step.ReasoningID]
	if reasoning.Content != "counted on fingers" || reasoning.ContentType != "messages" {
		t.Errorf("unexpected reasoning: %+v", reasoning)
	}

	if len(st.metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(st.metrics))
	}
	for _, m := range st.metrics {
		if m.TotalTokens != 11 || m.CacheTokens != 2 || m.ContextWindow != 8192 {
			t.Errorf("unexpected metric: %+v", m)
		}
		if m.ResponseTime < 0 {
			t.Errorf("negative response time: %v", m.ResponseTime)
		}
	}

	// The reply message points back at the trigger and carries its links.
	var reply *types.Message
	for _, m := range st.messages {
		if m.ActorType == types.ActorSystem {
			reply = m
		}
	}
	if reply == nil {
		t.Fatal("no system reply persisted")
	}
	if reply.ParentMessageID == nil || *reply.ParentMessageID != msgID {
		t.Errorf("reply should reference the trigger message")
	}
	if reply.Body != "the answer is forty two" {
		t.Errorf("unexpected reply body: %q", reply.Body)
	}
	if reply.TokenCount != 5 {
		t.Errorf("expected reply token count 5, got %d", reply.TokenCount)
	}
	if reply.StepID == nil || reply.MetricID == nil {
		t.Error("reply should link step and metric")
	}
	if reply.AnswerLatency == nil || *reply.AnswerLatency <= 0 {
		t.Error("reply should record a positive answer latency")
	}
	if reply.SessionID != "s1" || reply.RoomID != "r1" {
		t.Errorf("reply should stay in the trigger's session and room")
	}

	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskCompleted {
		t.Fatalf("expected completed task, got %s (%s: %s)", done.Status, done.ErrorModule, done.ErrorMessage)
	}
	var out stepOutput
	if err := json.Unmarshal(done.Output, &out); err != nil {
		t.Fatal(err)
	}
	if out.Response != "the answer is forty two" {
		t.Errorf("unexpected task output response: %q", out.Response)
	}
	if out.MessageID != reply.ID {
		t.Errorf("task output should name the reply message")
	}
}

func TestComposeAnswerIncludesHistory(t *testing.T) {
	st := newMemStore()
	seedPrompt(st, "be terse", 100)
	msgID := seedUserMessage(st, "and now")
	task := seedAnswerTask(st, msgID)

	// Newest-first, as RecentHistory returns rows.
	st.history = []*types.Message{
		{ID: "h2", ActorType: types.ActorSystem, Body: "earlier answer"},
		{ID: "h1", ActorType: types.ActorOwner, Body: "earlier question"},
	}

	provider := &stubProvider{}
	c := newTestComposer(st, provider, 8192)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	if len(provider.messages) != 4 {
		t.Fatalf("expected 4 model messages, got %d", len(provider.messages))
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, role := range wantRoles {
		if provider.messages[i].Role != role {
			t.Errorf("message %d: expected role %q, got %q", i, role, provider.messages[i].Role)
		}
	}

	step := singleStep(t, st)
	var input stepInput
	if err := json.Unmarshal(step.Input, &input); err != nil {
		t.Fatal(err)
	}
	if len(input.ContextMessageIDs) != 2 || input.ContextMessageIDs[0] != "h1" || input.ContextMessageIDs[1] != "h2" {
		t.Errorf("step input should record chronological context ids, got %v", input.ContextMessageIDs)
	}
}

func TestComposeAnswerMessageNotFound(t *testing.T) {
	st := newMemStore()
	seedPrompt(st, "be terse", 100)
	task := seedAnswerTask(st, "no-such-message")

	c := newTestComposer(st, &stubProvider{}, 8192)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskFailed {
		t.Fatalf("expected failed task, got %s", done.Status)
	}
	if done.ErrorModule != "composer" {
		t.Errorf("expected error module 'composer', got %q", done.ErrorModule)
	}
	if len(st.steps) != 0 {
		t.Errorf("no step should exist for an unresolvable task, got %d", len(st.steps))
	}
}

func TestComposeAnswerBadParams(t *testing.T) {
	st := newMemStore()
	st.UpsertPrompt(context.Background(), "core_identity", "be terse", json.RawMessage(`{"temperature":0.7}`))
	msgID := seedUserMessage(st, "hello")
	task := seedAnswerTask(st, msgID)

	c := newTestComposer(st, &stubProvider{}, 8192)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskFailed || done.ErrorModule != "composer" {
		t.Fatalf("expected composer failure for incomplete params, got %s/%s", done.Status, done.ErrorModule)
	}
	if len(st.steps) != 0 {
		t.Errorf("no step should exist, got %d", len(st.steps))
	}
}

func TestComposeAnswerModelFailure(t *testing.T) {
	st := newMemStore()
	seedPrompt(st, "be terse", 100)
	msgID := seedUserMessage(st, "hello")
	task := seedAnswerTask(st, msgID)

	c := newTestComposer(st, &stubProvider{err: errBoom}, 8192)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	step := singleStep(t, st)
	if step.Status != types.TaskFailed || step.ErrorModule != "model_client" {
		t.Errorf("expected model_client step failure, got %s/%s", step.Status, step.ErrorModule)
	}
	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskFailed || done.ErrorModule != "model_client" {
		t.Errorf("expected model_client task failure, got %s/%s", done.Status, done.ErrorModule)
	}
	for _, m := range st.messages {
		if m.ActorType == types.ActorSystem {
			t.Error("no reply should be persisted on model failure")
		}
	}
}

func TestComposeAnswerReplyPersistFailure(t *testing.T) {
	st := newMemStore()
	seedPrompt(st, "be terse", 100)
	msgID := seedUserMessage(st, "hello")
	task := seedAnswerTask(st, msgID)
	st.saveMessageErr = errBoom

	c := newTestComposer(st, &stubProvider{}, 8192)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	step := singleStep(t, st)
	if step.Status != types.TaskFailed || step.ErrorModule != "store" {
		t.Errorf("expected store step failure, got %s/%s", step.Status, step.ErrorModule)
	}
	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskFailed {
		t.Errorf("expected failed task, got %s", done.Status)
	}
}

func TestComposeAnswerTrimsOldestFirst(t *testing.T) {
	st := newMemStore()
	// System prompt: 1 word. Current turn: 3 words. History: 3 turns of
	// 2 words each, 10 words total. Window 11 minus max_tokens 2 leaves 9
	// available, so exactly one oldest turn must go: 10 - 2 = 8 <= 9.
	seedPrompt(st, "terse", 2)
	msgID := seedUserMessage(st, "one two three")
	task := seedAnswerTask(st, msgID)
	st.history = []*types.Message{
		{ID: "h3", ActorType: types.ActorOwner, Body: "newest turn"},
		{ID: "h2", ActorType: types.ActorSystem, Body: "middle turn"},
		{ID: "h1", ActorType: types.ActorOwner, Body: "oldest turn"},
	}

	provider := &stubProvider{}
	c := newTestComposer(st, provider, 11)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	step := singleStep(t, st)
	var input stepInput
	if err := json.Unmarshal(step.Input, &input); err != nil {
		t.Fatal(err)
	}
	// Trimming removes a prefix of the chronological list, never the middle.
	if len(input.ContextMessageIDs) != 2 || input.ContextMessageIDs[0] != "h2" || input.ContextMessageIDs[1] != "h3" {
		t.Errorf("expected oldest turn trimmed, got %v", input.ContextMessageIDs)
	}
	if input.TrimmedMessages != 1 {
		t.Errorf("expected 1 trimmed message, got %d", input.TrimmedMessages)
	}
	// system + 2 context turns + current
	if len(provider.messages) != 4 {
		t.Errorf("expected 4 model messages after trim, got %d", len(provider.messages))
	}

	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskCompleted {
		t.Errorf("trimmed request should still complete, got %s", done.Status)
	}
}

func TestComposeAnswerBudgetExceeded(t *testing.T) {
	st := newMemStore()
	// No history to trim: system (1) + current (4) = 5 > 10 - 8 = 2.
	seedPrompt(st, "terse", 8)
	msgID := seedUserMessage(st, "one two three four")
	task := seedAnswerTask(st, msgID)

	provider := &stubProvider{}
	c := newTestComposer(st, provider, 10)
	if err := c.ComposeAnswer(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	done, _ := st.GetTask(context.Background(), task.ID)
	if done.Status != types.TaskFailed || done.ErrorModule != "composer" {
		t.Fatalf("expected composer budget failure, got %s/%s", done.Status, done.ErrorModule)
	}
	if provider.calls != 0 {
		t.Errorf("model must not be called on budget failure, got %d calls", provider.calls)
	}
	if len(st.steps) != 0 {
		t.Errorf("no step should exist on budget failure, got %d", len(st.steps))
	}
}
