package embcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	m.Run()
}

type countingEmbedder struct {
	calls atomic.Int64
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32(len(text) + i)
	}
	return vec, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SoftCap = 8
	cfg.HardCap = 10
	cfg.HighFreqThreshold = 3
	cfg.PressureCheckOps = 0 // keep heap checks out of unit tests
	return cfg
}

func TestCacheHitSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{}
	cache := New(inner, testConfig(), zap.NewNop())

	first, err := cache.Embed(context.Background(), "科幻小說")
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	second, err := cache.Embed(context.Background(), "科幻小說")
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}

	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Fatalf("cached vector differs from original")
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("stats = %+v, want 1 hit, 1 miss, size 1", stats)
	}
}

func TestCacheDistinctTexts(t *testing.T) {
	inner := &countingEmbedder{}
	cache := New(inner, testConfig(), zap.NewNop())

	for _, text := range []string{"歷史", "科幻", "推理"} {
		if _, err := cache.Embed(context.Background(), text); err != nil {
			t.Fatalf("embed %q: %v", text, err)
		}
	}
	if got := inner.calls.Load(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}
	if got := cache.Stats().Size; got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}
}

func TestCacheProviderErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{err: fmt.Errorf("upstream: %w", domain.ErrEmbeddingProviderError)}
	cache := New(inner, testConfig(), zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := cache.Embed(context.Background(), "失敗"); !errors.Is(err, domain.ErrEmbeddingProviderError) {
			t.Fatalf("attempt %d: err = %v, want ErrEmbeddingProviderError", i, err)
		}
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2 (failures must not cache)", got)
	}
	if got := cache.Stats().Size; got != 0 {
		t.Fatalf("size = %d, want 0", got)
	}
}

func TestCacheHardCapNeverExceeded(t *testing.T) {
	inner := &countingEmbedder{}
	cfg := testConfig()
	cache := New(inner, cfg, zap.NewNop())

	for i := 0; i < 50; i++ {
		if _, err := cache.Embed(context.Background(), fmt.Sprintf("書籍-%d", i)); err != nil {
			t.Fatalf("embed %d: %v", i, err)
		}
		if got := cache.Stats().Size; got > int64(cfg.HardCap) {
			t.Fatalf("size %d exceeded hard cap %d after insert %d", got, cfg.HardCap, i)
		}
	}
	if cache.Stats().Evictions == 0 {
		t.Fatal("expected evictions after exceeding the soft cap")
	}
}

func TestCacheHighFrequencySurvivesCleanup(t *testing.T) {
	inner := &countingEmbedder{}
	cfg := testConfig()
	cfg.SoftCap = 100 // keep automatic cleanup out of the way
	cfg.HardCap = 200
	cache := New(inner, cfg, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < int(cfg.HighFreqThreshold)+1; i++ {
		if _, err := cache.Embed(ctx, "熱門查詢"); err != nil {
			t.Fatalf("embed hot key: %v", err)
		}
	}
	for i := 0; i < 9; i++ {
		if _, err := cache.Embed(ctx, fmt.Sprintf("冷門-%d", i)); err != nil {
			t.Fatalf("embed cold key %d: %v", i, err)
		}
	}
	if got := cache.Stats().HighFrequency; got != 1 {
		t.Fatalf("high-frequency count = %d, want 1", got)
	}

	evicted := cache.ForceCleanup()
	if evicted == 0 {
		t.Fatal("forced cleanup evicted nothing")
	}

	before := inner.calls.Load()
	if _, err := cache.Embed(ctx, "熱門查詢"); err != nil {
		t.Fatalf("re-embed hot key: %v", err)
	}
	if inner.calls.Load() != before {
		t.Fatal("high-frequency entry was evicted ahead of cold entries")
	}
}

func TestCacheForceCleanupEmpty(t *testing.T) {
	cache := New(&countingEmbedder{}, testConfig(), zap.NewNop())
	if got := cache.ForceCleanup(); got != 0 {
		t.Fatalf("evicted = %d, want 0 on empty cache", got)
	}
}

func TestCacheMissTimeoutBound(t *testing.T) {
	slow := embedderFunc(func(ctx context.Context, _ string) ([]float32, error) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embed: %w", domain.ErrEmbeddingProviderError)
		case <-time.After(5 * time.Second):
			return []float32{1}, nil
		}
	})
	cfg := testConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	cache := New(slow, cfg, zap.NewNop())

	start := time.Now()
	_, err := cache.Embed(context.Background(), "慢速")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("err = %v, want ErrEmbeddingProviderError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("miss took %v, timeout not enforced", elapsed)
	}
}

type embedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
