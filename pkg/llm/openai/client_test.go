package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/parley/pkg/llm"
)

func testParams() llm.SamplingParams {
	return llm.SamplingParams{
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            40,
		MinP:            0.05,
		MaxTokens:       512,
		PresencePenalty: 0.5,
		Stop:            []string{},
	}
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["model"] != "local" {
			t.Errorf("expected model 'local', got %v", req["model"])
		}
		if req["stream"] != false {
			t.Errorf("expected stream false, got %v", req["stream"])
		}
		if req["max_tokens"] != float64(512) {
			t.Errorf("expected max_tokens 512, got %v", req["max_tokens"])
		}

		resp := map[string]any{
			"id":    "chatcmpl-1",
			"model": "local",
			"choices": []map[string]any{
				{"message": map[string]any{
					"role":              "assistant",
					"content":           "test response",
					"reasoning_content": "thinking aloud",
				}},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
			"timings": map[string]any{
				"cache_n":              8,
				"prompt_ms":            12.5,
				"predicted_ms":         250.0,
				"predicted_per_second": 20.0,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	result, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "test response" {
		t.Errorf("expected 'test response', got %q", result.Text)
	}
	if result.Reasoning != "thinking aloud" {
		t.Errorf("expected reasoning content, got %q", result.Reasoning)
	}
	if result.Usage.PromptTokens != 10 || result.Usage.CompletionTokens != 5 || result.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}
	if result.Timings.CacheTokens != 8 {
		t.Errorf("expected 8 cache tokens, got %d", result.Timings.CacheTokens)
	}
	if result.Timings.PredictedPerSecond != 20.0 {
		t.Errorf("expected 20 tok/s, got %v", result.Timings.PredictedPerSecond)
	}
	if result.RequestID != "chatcmpl-1" {
		t.Errorf("expected request id 'chatcmpl-1', got %q", result.RequestID)
	}
}

func TestGenerateEmptyMessages(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1", Model: "local"})
	if _, err := client.Generate(context.Background(), nil, testParams()); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	_, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, testParams())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "all 3 attempts failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerateRecoversMidRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "recovered"}},
			},
		})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	result, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "recovered" {
		t.Errorf("expected 'recovered', got %q", result.Text)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestGenerateClientErrorNoRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	_, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, testParams())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a 4xx, got %d", calls)
	}
}

func TestGenerateMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json at all")
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	_, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, testParams())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Model: "local", Retry: fastRetry(3)})
	_, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, testParams())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
