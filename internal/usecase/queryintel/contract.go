package queryintel

import (
	"context"

	"github.com/liteshelf/bookrec/internal/domain"
)

// Embedder produces query vectors for the semantic fallback path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs the structured-analysis chat completion.
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg domain.CompletionConfig) (string, error)
}
