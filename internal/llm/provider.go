// Package llm defines the completion-provider abstraction the judge-backed
// strategies grade through, plus the concrete clients and decorators: an
// OpenAI-compatible chat client, a preference-scoring client, a rate-limiting
// retry decorator, a fault injector, and a mock for tests.
package llm

import (
	"context"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is a provider's answer plus its accounting.
type CompletionResponse struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	DurationMS   int64   `json:"duration_ms"`
}

// Usage converts the response accounting into the result-facing shape.
func (r *CompletionResponse) Usage() *types.TokenUsage {
	if r == nil {
		return nil
	}
	return &types.TokenUsage{
		Prompt:     r.InputTokens,
		Completion: r.OutputTokens,
		Total:      r.InputTokens + r.OutputTokens,
		CostUSD:    r.Cost,
	}
}

// Provider is a completion backend. Implementations must be safe for
// concurrent use; the grading pool fans judge calls out across goroutines.
type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
