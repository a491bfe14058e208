package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

// Config wires the store to its two collections and sizes the result cache.
type Config struct {
	TagsCollection string
	DescCollection string
	// IDChunkSize bounds how many ids a single rescore query carries.
	IDChunkSize int
	CacheSize   int
	CacheTTL    time.Duration
	Logger      *zap.Logger
}

// Store is the retrieval façade over the two book collections: scored tag
// search and batched description re-scoring, both behind a short-lived
// result cache, plus metadata hydration.
type Store struct {
	client Searcher
	cfg    Config
	logger *zap.Logger
	cache  *expirable.LRU[string, []domain.VectorRecord]
}

// New creates the store. Cache entries expire after cfg.CacheTTL so repeat
// queries inside a session skip the vector database entirely.
func New(client Searcher, cfg Config) *Store {
	if cfg.IDChunkSize <= 0 {
		cfg.IDChunkSize = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		cfg:    cfg,
		logger: logger,
		cache:  expirable.NewLRU[string, []domain.VectorRecord](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// SearchTags runs a scored search over the tag collection. A nil or empty
// filter set means an unconstrained search. Results pass through the cache.
func (s *Store) SearchTags(
	ctx context.Context, vector []float32, filters *domain.QueryFilters, limit int, threshold float64,
) ([]domain.VectorRecord, error) {
	key := searchKey(s.cfg.TagsCollection, vector, filters, limit, threshold)
	if cached, ok := s.cache.Get(key); ok {
		metrics.SearchResultCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.SearchResultCacheTotal.WithLabelValues("miss").Inc()

	records, err := s.client.Query(ctx, s.cfg.TagsCollection, vector, filters, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("tag search: %w", err)
	}
	s.cache.Add(key, records)
	return records, nil
}

// RescoreDescriptions scores the query vector against the description points
// of the given books in chunked batch calls. Books without a description
// point are absent from the returned map.
func (s *Store) RescoreDescriptions(
	ctx context.Context, vector []float32, bookIDs []string,
) (map[string]float64, error) {
	scores := make(map[string]float64, len(bookIDs))

	for start := 0; start < len(bookIDs); start += s.cfg.IDChunkSize {
		end := start + s.cfg.IDChunkSize
		if end > len(bookIDs) {
			end = len(bookIDs)
		}
		chunk := bookIDs[start:end]

		pointIDs := make([]string, len(chunk))
		byPoint := make(map[string]string, len(chunk))
		for i, id := range chunk {
			pid := DescPointID(id)
			pointIDs[i] = pid
			byPoint[pid] = id
		}

		key := idSetKey(s.cfg.DescCollection, vector, pointIDs)
		records, ok := s.cache.Get(key)
		if ok {
			metrics.SearchResultCacheTotal.WithLabelValues("hit").Inc()
		} else {
			metrics.SearchResultCacheTotal.WithLabelValues("miss").Inc()
			var err error
			records, err = s.client.QueryByIDs(ctx, s.cfg.DescCollection, vector, pointIDs)
			if err != nil {
				return nil, fmt.Errorf("description rescore: %w", err)
			}
			s.cache.Add(key, records)
		}
		for _, rec := range records {
			bookID, ok := byPoint[rec.ID]
			if !ok {
				continue
			}
			scores[bookID] = rec.Score
		}
	}
	return scores, nil
}

// FetchMetadata hydrates book metadata from the tag collection payloads.
// Books with missing or invalid payloads are dropped, not errored.
func (s *Store) FetchMetadata(
	ctx context.Context, bookIDs []string,
) (map[string]domain.BookMetadata, error) {
	books := make(map[string]domain.BookMetadata, len(bookIDs))

	for start := 0; start < len(bookIDs); start += s.cfg.IDChunkSize {
		end := start + s.cfg.IDChunkSize
		if end > len(bookIDs) {
			end = len(bookIDs)
		}
		chunk := bookIDs[start:end]

		pointIDs := make([]string, len(chunk))
		for i, id := range chunk {
			pointIDs[i] = TagPointID(id)
		}

		records, err := s.client.Retrieve(ctx, s.cfg.TagsCollection, pointIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata: %w", err)
		}
		for _, rec := range records {
			book := domain.BookFromPayload(rec.Payload)
			if !book.Valid() {
				s.logger.Debug("Dropping book with invalid payload", zap.String("point_id", rec.ID))
				continue
			}
			books[book.BookID] = book
		}
	}
	return books, nil
}

// ScanTitles lists book metadata without scoring, for exact-title matching.
func (s *Store) ScanTitles(ctx context.Context, limit int) ([]domain.BookMetadata, error) {
	records, err := s.client.Scroll(ctx, s.cfg.TagsCollection, limit)
	if err != nil {
		return nil, fmt.Errorf("title scan: %w", err)
	}

	books := make([]domain.BookMetadata, 0, len(records))
	for _, rec := range records {
		book := domain.BookFromPayload(rec.Payload)
		if !book.Valid() {
			continue
		}
		books = append(books, book)
	}
	return books, nil
}

// searchKey folds every search parameter into a stable cache key.
func searchKey(collection string, vector []float32, filters *domain.QueryFilters, limit int, threshold float64) string {
	h := sha256.New()
	h.Write([]byte(collection))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(limit))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(threshold*1e6)))
	h.Write(buf[:])

	if filters != nil {
		h.Write([]byte(filters.Language))
		tags := append([]string(nil), filters.Tags...)
		sort.Strings(tags)
		for _, tag := range tags {
			h.Write([]byte{0})
			h.Write([]byte(tag))
		}
	}

	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// idSetKey folds an id-set rescore query into the same cache space. The ids
// are sorted so chunk ordering does not split the cache.
func idSetKey(collection string, vector []float32, ids []string) string {
	h := sha256.New()
	h.Write([]byte("ids:"))
	h.Write([]byte(collection))

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}

	var buf [4]byte
	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
