package domain

import "context"

// VectorDimensions is the embedding size both collections are built with.
const VectorDimensions = 1024

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompletionConfig tunes a single completion call.
type CompletionConfig struct {
	System      string
	Temperature float32
	MaxTokens   int
}

// Completer is the text-to-text language model contract (query understanding, re-ranking).
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
