// Package tokens provides approximate token counting for context budget
// arithmetic.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/parley/pkg/llm"
)

// Counter is the counting surface consumers depend on.
type Counter interface {
	Count(text string) int
	CountMessages(messages []llm.Message) int
}

// Estimator counts tokens for a specific tokenizer family. The count is an
// estimate: the serving model's own tokenizer may differ slightly, which is
// why budget arithmetic keeps a reserve.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

var _ Counter = (*Estimator)(nil)

// New creates an estimator for the named encoding, falling back to
// cl100k_base when the name is unknown.
func New(encoding string) (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{tokenizer: enc}, nil
}

// Count returns the approximate token count of text.
func (e *Estimator) Count(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// CountMessages sums the token counts of the message contents.
func (e *Estimator) CountMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += e.Count(m.Content)
	}
	return total
}
