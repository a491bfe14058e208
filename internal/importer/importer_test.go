package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/repository/vectorstore"
	qdrantt "github.com/liteshelf/bookrec/internal/transport/qdrant"
)

type fakeStore struct {
	ensured   []string
	cleared   []string
	upserts   map[string][]qdrantt.Point
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserts: make(map[string][]qdrantt.Point)}
}

func (f *fakeStore) EnsureCollection(_ context.Context, name string, _ int) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeStore) ClearCollection(_ context.Context, name string) error {
	f.cleared = append(f.cleared, name)
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, collection string, points []qdrantt.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts[collection] = append(f.upserts[collection], points...)
	return nil
}

func (f *fakeStore) Count(_ context.Context, collection string) (uint64, error) {
	return uint64(len(f.upserts[collection])), nil
}

type fakeEmbedder struct {
	texts []string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const catalog = `[
  {"book_id": "b1", "title": "三體", "author": "劉慈欣", "description": "地球文明與三體文明的恢弘對抗", "tags": ["科幻", "小說"], "language": "中文"},
  {"book_id": "b2", "title": "只有書名的書"},
  {"book_id": "", "title": "無效的書"}
]`

func testImporter(store *fakeStore, embedder *fakeEmbedder, clear bool) *Importer {
	return New(store, embedder, Config{
		TagsCollection: "tags_vecs",
		DescCollection: "desc_vecs",
		VectorDim:      1024,
		BatchSize:      2,
		Clear:          clear,
	}, zap.NewNop())
}

func TestRunImportsCatalog(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	imp := testImporter(store, embedder, false)

	summary, err := imp.Run(context.Background(), writeCatalog(t, catalog))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Imported != 2 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want 2 imported and 1 skipped", summary)
	}
	if len(store.ensured) != 2 {
		t.Fatalf("ensured = %v, want both collections", store.ensured)
	}
	if len(store.cleared) != 0 {
		t.Fatal("clear must be opt-in")
	}

	tags := store.upserts["tags_vecs"]
	if len(tags) != 2 {
		t.Fatalf("tag points = %d, want 2", len(tags))
	}
	if tags[0].ID != vectorstore.TagPointID("b1") {
		t.Fatalf("tag point id = %s, want deterministic id", tags[0].ID)
	}
	if tags[0].Payload["title"] != "三體" {
		t.Fatalf("tag payload = %v", tags[0].Payload)
	}

	descs := store.upserts["desc_vecs"]
	if len(descs) != 1 {
		t.Fatalf("desc points = %d, want 1 (only b1 has a description)", len(descs))
	}
	if descs[0].ID != vectorstore.DescPointID("b1") {
		t.Fatalf("desc point id = %s", descs[0].ID)
	}
	if descs[0].Payload["type"] != "book_desc" {
		t.Fatalf("desc payload = %v", descs[0].Payload)
	}

	if summary.TagCount != 2 || summary.DescCount != 1 {
		t.Fatalf("verify counts = %d/%d, want 2/1", summary.TagCount, summary.DescCount)
	}
}

func TestRunEmbedTexts(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	imp := testImporter(store, embedder, false)

	if _, err := imp.Run(context.Background(), writeCatalog(t, catalog)); err != nil {
		t.Fatalf("run: %v", err)
	}

	// b1's tag sentence and description, plus b2's title fallback sentence.
	want := map[string]bool{
		"分類：科幻, 小說":      true,
		"地球文明與三體文明的恢弘對抗": true,
		"書名：只有書名的書":      true,
	}
	if len(embedder.texts) != len(want) {
		t.Fatalf("embed calls = %v", embedder.texts)
	}
	for _, text := range embedder.texts {
		if !want[text] {
			t.Fatalf("unexpected embed text %q", text)
		}
	}
}

func TestRunClearOptIn(t *testing.T) {
	store := newFakeStore()
	imp := testImporter(store, &fakeEmbedder{}, true)

	if _, err := imp.Run(context.Background(), writeCatalog(t, `[]`)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.cleared) != 2 {
		t.Fatalf("cleared = %v, want both collections", store.cleared)
	}
}

func TestRunEmbedFailureSkipsBook(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	imp := testImporter(store, embedder, false)

	summary, err := imp.Run(context.Background(), writeCatalog(t, catalog))
	if err != nil {
		t.Fatalf("embed failures must skip, not abort: %v", err)
	}
	if summary.Imported != 0 || summary.Skipped != 3 {
		t.Fatalf("summary = %+v, want everything skipped", summary)
	}
}

func TestRunMissingCatalog(t *testing.T) {
	imp := testImporter(newFakeStore(), &fakeEmbedder{}, false)
	if _, err := imp.Run(context.Background(), "/nonexistent/books.json"); err == nil {
		t.Fatal("missing catalog must fail")
	}
}
