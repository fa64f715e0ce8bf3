// Package embedding provides text-embedding providers for semantic
// similarity grading: a hosted OpenAI client and, behind the onnx build tag,
// a local MiniLM model.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

var errONNXNotAvailable = errors.New("onnx embedding: not compiled, rebuild with -tags onnx")

// EmbedderConfig holds configuration for creating an Embedder.
type EmbedderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	ModelDir string
}

// NewEmbedder creates an Embedder for the configured provider. An empty
// Provider selects openai.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg)
	case "onnx", "local":
		return NewONNXEmbedder(cfg)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q (want openai or onnx)", cfg.Provider)
	}
}
