package domain

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookFromPayload(t *testing.T) {
	payload := map[string]any{
		"book_id":     "bk_001",
		"title":       "三體",
		"author":      "劉慈欣",
		"description": "地球文明與三體文明的接觸",
		"tags":        []any{"科幻", "小說"},
		"language":    "中文",
		"cover_url":   "https://example.com/cover.jpg",
		"type":        "book", // unknown to the schema, must be ignored
	}

	book := BookFromPayload(payload)
	if book.BookID != "bk_001" || book.Title != "三體" {
		t.Fatalf("unexpected decode: %+v", book)
	}
	if len(book.Tags) != 2 || book.Tags[0] != "科幻" {
		t.Errorf("tags = %v", book.Tags)
	}
	if !book.Valid() {
		t.Error("expected valid book")
	}
}

func TestBookFromPayload_Defaults(t *testing.T) {
	book := BookFromPayload(map[string]any{"book_id": "bk_002"})
	if book.Title != "" || book.Tags != nil || book.Language != "" {
		t.Errorf("expected zero defaults, got %+v", book)
	}
	if book.Valid() {
		t.Error("book without title must not be valid")
	}

	// Non-string junk in typed fields degrades, never panics.
	book = BookFromPayload(map[string]any{"title": 42, "tags": "not-a-list"})
	if book.Title != "" || book.Tags != nil {
		t.Errorf("expected junk fields dropped, got %+v", book)
	}
}

func TestScoreWeightsBlend_Monotonic(t *testing.T) {
	w := ScoreWeights{Tag: 0.15, Description: 0.70, TagSemantic: 0.15}

	// A dominates B on every component, so A's blend must dominate too.
	a := w.Blend(0.9, 0.8, 0.7)
	b := w.Blend(0.8, 0.7, 0.7)
	if a < b {
		t.Errorf("blend not monotonic: %v < %v", a, b)
	}
}

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()
	if len(tables.TagSentences) == 0 || len(tables.KeywordTags) == 0 {
		t.Fatal("default tables must not be empty")
	}
	terms, ok := tables.TopicExpansions["時間"]
	if !ok || len(terms) == 0 {
		t.Fatal(`expected expansion terms for "時間"`)
	}
}
