package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/repository/vectorstore"
	qdrantt "github.com/liteshelf/bookrec/internal/transport/qdrant"
)

// VectorStore is the slice of the vector database client the importer drives.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	ClearCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []qdrantt.Point) error
	Count(ctx context.Context, collection string) (uint64, error)
}

// Config controls an import run.
type Config struct {
	TagsCollection string
	DescCollection string
	VectorDim      int
	BatchSize      int
	// Clear wipes both collections before importing.
	Clear bool
}

// Summary reports what an import run did.
type Summary struct {
	Imported  int
	Skipped   int
	TagCount  uint64
	DescCount uint64
}

// Importer loads a book catalog file into the two collections: one tag
// vector per book carrying the full metadata payload, plus a description
// vector for books that have one.
type Importer struct {
	store    VectorStore
	embedder domain.Embedder
	cfg      Config
	logger   *zap.Logger
}

func New(store VectorStore, embedder domain.Embedder, cfg Config, logger *zap.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = domain.VectorDimensions
	}
	return &Importer{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// bookRecord is the catalog file schema.
type bookRecord struct {
	BookID      string   `json:"book_id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Language    string   `json:"language"`
	CoverURL    string   `json:"cover_url"`
}

// Run imports the catalog at path. Books without an id or title are skipped
// and counted, not fatal; a failed embed skips the book the same way.
func (i *Importer) Run(ctx context.Context, path string) (Summary, error) {
	books, err := loadCatalog(path)
	if err != nil {
		return Summary{}, err
	}
	i.logger.Info("Catalog loaded", zap.String("path", path), zap.Int("books", len(books)))

	if err := i.prepareCollections(ctx); err != nil {
		return Summary{}, err
	}

	var summary Summary
	var tagBatch, descBatch []qdrantt.Point

	for n, book := range books {
		meta := domain.BookMetadata{
			BookID:      book.BookID,
			Title:       book.Title,
			Author:      book.Author,
			Description: book.Description,
			Tags:        book.Tags,
			Language:    book.Language,
			CoverURL:    book.CoverURL,
		}
		if !meta.Valid() {
			summary.Skipped++
			continue
		}

		tagVec, err := i.embedder.Embed(ctx, tagSentence(meta))
		if err != nil {
			i.logger.Warn("Skipping book, tag embed failed",
				zap.String("book_id", meta.BookID), zap.Error(err))
			summary.Skipped++
			continue
		}
		tagBatch = append(tagBatch, qdrantt.Point{
			ID:     vectorstore.TagPointID(meta.BookID),
			Vector: tagVec,
			Payload: map[string]any{
				"book_id":     meta.BookID,
				"title":       meta.Title,
				"author":      meta.Author,
				"description": meta.Description,
				"tags":        meta.Tags,
				"language":    meta.Language,
				"cover_url":   meta.CoverURL,
			},
		})

		if meta.Description != "" {
			descVec, err := i.embedder.Embed(ctx, meta.Description)
			if err != nil {
				i.logger.Warn("Book kept without description vector",
					zap.String("book_id", meta.BookID), zap.Error(err))
			} else {
				descBatch = append(descBatch, qdrantt.Point{
					ID:     vectorstore.DescPointID(meta.BookID),
					Vector: descVec,
					Payload: map[string]any{
						"book_id": meta.BookID,
						"type":    "book_desc",
					},
				})
			}
		}
		summary.Imported++

		if len(tagBatch) >= i.cfg.BatchSize {
			if err := i.flush(ctx, &tagBatch, &descBatch); err != nil {
				return summary, err
			}
			i.logger.Info("Import progress",
				zap.Int("processed", n+1),
				zap.Int("total", len(books)),
			)
		}
	}
	if err := i.flush(ctx, &tagBatch, &descBatch); err != nil {
		return summary, err
	}

	if err := i.verify(ctx, &summary); err != nil {
		return summary, err
	}
	i.logger.Info("Import finished",
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
		zap.Uint64("tag_points", summary.TagCount),
		zap.Uint64("desc_points", summary.DescCount),
	)
	return summary, nil
}

func (i *Importer) prepareCollections(ctx context.Context) error {
	for _, name := range []string{i.cfg.TagsCollection, i.cfg.DescCollection} {
		if err := i.store.EnsureCollection(ctx, name, i.cfg.VectorDim); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
		if i.cfg.Clear {
			if err := i.store.ClearCollection(ctx, name); err != nil {
				return fmt.Errorf("clear collection %s: %w", name, err)
			}
			i.logger.Info("Collection cleared", zap.String("collection", name))
		}
	}
	return nil
}

func (i *Importer) flush(ctx context.Context, tagBatch, descBatch *[]qdrantt.Point) error {
	if len(*tagBatch) > 0 {
		if err := i.store.Upsert(ctx, i.cfg.TagsCollection, *tagBatch); err != nil {
			return fmt.Errorf("upsert tag batch: %w", err)
		}
		*tagBatch = (*tagBatch)[:0]
	}
	if len(*descBatch) > 0 {
		if err := i.store.Upsert(ctx, i.cfg.DescCollection, *descBatch); err != nil {
			return fmt.Errorf("upsert description batch: %w", err)
		}
		*descBatch = (*descBatch)[:0]
	}
	return nil
}

func (i *Importer) verify(ctx context.Context, summary *Summary) error {
	tagCount, err := i.store.Count(ctx, i.cfg.TagsCollection)
	if err != nil {
		return fmt.Errorf("count %s: %w", i.cfg.TagsCollection, err)
	}
	descCount, err := i.store.Count(ctx, i.cfg.DescCollection)
	if err != nil {
		return fmt.Errorf("count %s: %w", i.cfg.DescCollection, err)
	}
	summary.TagCount = tagCount
	summary.DescCount = descCount
	return nil
}

func loadCatalog(path string) ([]bookRecord, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var books []bookRecord
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return books, nil
}

// tagSentence is the canonical text a book's tag vector is built from. The
// serving path embeds the same text, so the cache covers both.
func tagSentence(book domain.BookMetadata) string {
	if len(book.Tags) > 0 {
		return "分類：" + strings.Join(book.Tags, ", ")
	}
	return "書名：" + book.Title
}
