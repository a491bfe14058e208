package recommend

import (
	"context"

	"github.com/liteshelf/bookrec/internal/domain"
)

// Analyzer turns a raw query into a structured one, never failing.
type Analyzer interface {
	Analyze(ctx context.Context, query string) domain.AnalysisOutcome
	AnalyzeFast(ctx context.Context, query string) domain.AnalysisOutcome
}

// Embedder produces query and tag-text vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs the optional LLM rerank completion.
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg domain.CompletionConfig) (string, error)
}

// Store is the retrieval surface the orchestrator drives.
type Store interface {
	SearchTags(ctx context.Context, vector []float32, filters *domain.QueryFilters, limit int, threshold float64) ([]domain.VectorRecord, error)
	RescoreDescriptions(ctx context.Context, vector []float32, bookIDs []string) (map[string]float64, error)
	ScanTitles(ctx context.Context, limit int) ([]domain.BookMetadata, error)
}

// Expander handles vague queries via rewriting and multi-round search.
type Expander interface {
	Expand(query string) domain.QueryExpansion
	MultiRoundSearch(ctx context.Context, exp domain.QueryExpansion, filters *domain.QueryFilters) ([]domain.ScoredBook, []domain.SearchRound, error)
}
