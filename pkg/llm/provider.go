package llm

import "context"

// Provider defines the interface for interacting with a model backend.
// Implementations handle protocol details: request formatting, retries, and
// response parsing. Failures are returned as errors, never panics.
type Provider interface {
	Generate(ctx context.Context, messages []Message, params SamplingParams) (*Result, error)
}
