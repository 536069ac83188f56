package llm

import (
	"encoding/json"
	"fmt"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingParams are the generation parameters sent with every request.
// There are no implicit defaults: every field except Stop must be present in
// the source prompt record, so callers always generate from an explicit,
// versioned configuration.
type SamplingParams struct {
	Temperature     float64  `json:"temperature"`
	TopP            float64  `json:"top_p"`
	TopK            int      `json:"top_k"`
	MinP            float64  `json:"min_p"`
	MaxTokens       int      `json:"max_tokens"`
	PresencePenalty float64  `json:"presence_penalty"`
	Stop            []string `json:"stop"`
}

// samplingParamsJSON mirrors SamplingParams with pointer fields so that
// missing keys are distinguishable from zero values.
type samplingParamsJSON struct {
	Temperature     *float64 `json:"temperature"`
	TopP            *float64 `json:"top_p"`
	TopK            *int     `json:"top_k"`
	MinP            *float64 `json:"min_p"`
	MaxTokens       *int     `json:"max_tokens"`
	PresencePenalty *float64 `json:"presence_penalty"`
	Stop            []string `json:"stop"`
}

// ParseSamplingParams decodes and validates a prompt record's params field.
// Validation happens here, at load time, not at call time.
func ParseSamplingParams(raw json.RawMessage) (SamplingParams, error) {
	var p samplingParamsJSON
	if err := json.Unmarshal(raw, &p); err != nil {
		return SamplingParams{}, fmt.Errorf("decode sampling params: %w", err)
	}

	missing := func(name string) (SamplingParams, error) {
		return SamplingParams{}, fmt.Errorf("sampling params: %s is required", name)
	}
	switch {
	case p.Temperature == nil:
		return missing("temperature")
	case p.TopP == nil:
		return missing("top_p")
	case p.TopK == nil:
		return missing("top_k")
	case p.MinP == nil:
		return missing("min_p")
	case p.MaxTokens == nil:
		return missing("max_tokens")
	case p.PresencePenalty == nil:
		return missing("presence_penalty")
	}
	if *p.MaxTokens <= 0 {
		return SamplingParams{}, fmt.Errorf("sampling params: max_tokens must be positive, got %d", *p.MaxTokens)
	}

	params := SamplingParams{
		Temperature:     *p.Temperature,
		TopP:            *p.TopP,
		TopK:            *p.TopK,
		MinP:            *p.MinP,
		MaxTokens:       *p.MaxTokens,
		PresencePenalty: *p.PresencePenalty,
		Stop:            p.Stop,
	}
	if params.Stop == nil {
		params.Stop = []string{}
	}
	return params, nil
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Timings is the server-side timing breakdown reported by the model backend.
type Timings struct {
	CacheTokens         int     `json:"cache_n"`
	PromptN             int     `json:"prompt_n"`
	PromptMS            float64 `json:"prompt_ms"`
	PromptPerTokenMS    float64 `json:"prompt_per_token_ms"`
	PromptPerSecond     float64 `json:"prompt_per_second"`
	PredictedN          int     `json:"predicted_n"`
	PredictedMS         float64 `json:"predicted_ms"`
	PredictedPerTokenMS float64 `json:"predicted_per_token_ms"`
	PredictedPerSecond  float64 `json:"predicted_per_second"`
}

// Result is a normalized generation result. Text is the visible answer;
// Reasoning carries the model's internal thinking payload when the backend
// provides one.
type Result struct {
	Text      string  `json:"text"`
	Reasoning string  `json:"reasoning,omitempty"`
	Usage     Usage   `json:"usage"`
	Timings   Timings `json:"timings"`
	Model     string  `json:"model"`
	RequestID string  `json:"request_id"`
}
