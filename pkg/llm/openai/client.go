// Package openai implements llm.Provider against an OpenAI-style chat
// completions endpoint, such as llama-server's.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/parley/pkg/llm"
)

// ErrParse marks a successful HTTP response whose body did not match the
// expected completion shape.
var ErrParse = errors.New("openai: malformed response")

// Config holds the client's construction parameters. The client is built
// explicitly and passed by reference through the process's dependency
// graph; there is no lazily initialized global instance.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
}

// Client implements llm.Provider for OpenAI-compatible APIs. It owns its
// HTTP connection pool.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a client with the given configuration.
func New(config Config) *Client {
	config.Retry = config.Retry.normalized()
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []llm.Message `json:"messages"`
	Temperature     float64       `json:"temperature"`
	TopP            float64       `json:"top_p"`
	TopK            int           `json:"top_k"`
	MinP            float64       `json:"min_p"`
	MaxTokens       int           `json:"max_tokens"`
	PresencePenalty float64       `json:"presence_penalty"`
	Stop            []string      `json:"stop"`
	Stream          bool          `json:"stream"`
}

// chatResponse is the chat completions response body. llama-server adds a
// timings block next to the standard usage counters.
type chatResponse struct {
	Choices []choice    `json:"choices"`
	Usage   llm.Usage   `json:"usage"`
	Timings llm.Timings `json:"timings"`
	Model   string      `json:"model"`
	ID      string      `json:"id"`
}

type choice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

// Generate sends a chat completion request and returns the normalized
// result. Transient failures are retried per the configured policy with
// exponential backoff; 4xx responses fail after exactly one attempt.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, params llm.SamplingParams) (*llm.Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("generate: messages must not be empty")
	}

	stop := params.Stop
	if stop == nil {
		stop = []string{}
	}
	body, err := json.Marshal(chatRequest{
		Model:           c.config.Model,
		Messages:        messages,
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		TopK:            params.TopK,
		MinP:            params.MinP,
		MaxTokens:       params.MaxTokens,
		PresencePenalty: params.PresencePenalty,
		Stop:            stop,
		Stream:          false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.Retry.MaxAttempts; attempt++ {
		result, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		if attempt < c.config.Retry.MaxAttempts {
			select {
			case <-time.After(c.config.Retry.NextDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", c.config.Retry.MaxAttempts, lastErr)
}

// attempt performs one HTTP round trip. The second return value reports
// whether the failure is transient.
func (c *Client) attempt(ctx context.Context, body []byte) (*llm.Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient.
		return nil, true, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("request rejected (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}

	result, err := parseResponse(respBody)
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

func parseResponse(body []byte) (*llm.Result, error) {
	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrParse)
	}

	msg := chatResp.Choices[0].Message
	return &llm.Result{
		Text:      msg.Content,
		Reasoning: msg.ReasoningContent,
		Usage:     chatResp.Usage,
		Timings:   chatResp.Timings,
		Model:     chatResp.Model,
		RequestID: chatResp.ID,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
