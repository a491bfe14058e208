package vectorstore

import (
	"context"

	"github.com/liteshelf/bookrec/internal/domain"
)

// Searcher is the slice of the vector database client the store depends on.
type Searcher interface {
	Query(ctx context.Context, collection string, vector []float32, filters *domain.QueryFilters, limit int, threshold float64) ([]domain.VectorRecord, error)
	QueryByIDs(ctx context.Context, collection string, vector []float32, ids []string) ([]domain.VectorRecord, error)
	Retrieve(ctx context.Context, collection string, ids []string) ([]domain.VectorRecord, error)
	Scroll(ctx context.Context, collection string, limit int) ([]domain.VectorRecord, error)
}
