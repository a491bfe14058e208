package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

// Config holds the cache capacity policy.
type Config struct {
	// SoftCap triggers cleanup; HardCap is never exceeded after an insert.
	SoftCap int
	HardCap int
	// CleanupRatio is the fraction of entries removed per cleanup pass.
	CleanupRatio float64
	// HighFreqThreshold is the access count granting eviction resistance.
	HighFreqThreshold int64
	// HeapPressureRatio triggers cleanup when HeapAlloc/HeapSys exceeds it.
	HeapPressureRatio float64
	// PressureCheckOps is how many cache operations pass between heap checks.
	PressureCheckOps uint64
	// ProviderTimeout bounds the inner embed call on a miss.
	ProviderTimeout time.Duration
}

// DefaultConfig returns the production capacity policy.
func DefaultConfig() Config {
	return Config{
		SoftCap:           8000,
		HardCap:           10000,
		CleanupRatio:      0.2,
		HighFreqThreshold: 10,
		HeapPressureRatio: 0.7,
		PressureCheckOps:  1000,
		ProviderTimeout:   30 * time.Second,
	}
}

// Stats is the diagnostic snapshot exposed to the controller layer.
type Stats struct {
	Size          int64 `json:"size"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	HighFrequency int64 `json:"high_frequency"`
}

type entry struct {
	vector      []float32
	createdAt   time.Time
	accessCount atomic.Int64
	lastAccess  atomic.Int64 // unix nanos
	highFreq    atomic.Bool
}

// Cache is a process-wide text-to-vector cache decorating an inner embedder.
// Eviction is hybrid: normal entries go first, ranked by age over access
// frequency; high-frequency entries are touched only when that is not enough.
// Concurrent identical misses may both call the provider; there is no
// cross-key transactional guarantee.
type Cache struct {
	inner  domain.Embedder
	cfg    Config
	logger *zap.Logger

	entries sync.Map // key -> *entry
	size    atomic.Int64
	ops     atomic.Uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	highFreq  atomic.Int64

	cleanupMu sync.Mutex
}

// New creates a caching decorator around the provider embedder.
func New(inner domain.Embedder, cfg Config, logger *zap.Logger) *Cache {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &Cache{inner: inner, cfg: cfg, logger: logger}
}

// Embed returns a cached vector or calls the inner embedder under a bounded
// timeout. Provider failures surface as typed errors; the cache never retries.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	c.checkPressure()

	key := cacheKey(text)
	if v, ok := c.entries.Load(key); ok {
		e := v.(*entry)
		count := e.accessCount.Add(1)
		e.lastAccess.Store(time.Now().UnixNano())
		if count >= c.cfg.HighFreqThreshold && e.highFreq.CompareAndSwap(false, true) {
			c.highFreq.Add(1)
		}
		c.hits.Add(1)
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return e.vector, nil
	}

	c.misses.Add(1)
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	embedCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	vec, err := c.inner.Embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}

	c.insert(key, vec)
	return vec, nil
}

// Stats returns a diagnostic snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:          c.size.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		HighFrequency: c.highFreq.Load(),
	}
}

// ForceCleanup runs an eviction pass regardless of the current size.
func (c *Cache) ForceCleanup() int {
	return c.cleanup(true)
}

func (c *Cache) insert(key string, vec []float32) {
	now := time.Now()
	e := &entry{vector: vec, createdAt: now}
	e.lastAccess.Store(now.UnixNano())
	e.accessCount.Store(1)

	if _, loaded := c.entries.LoadOrStore(key, e); loaded {
		// Lost a concurrent miss race; the winner's entry stays.
		return
	}
	size := c.size.Add(1)
	metrics.EmbeddingCacheSize.Set(float64(size))

	if int(size) >= c.cfg.SoftCap {
		c.cleanup(false)
	}
	if int(c.size.Load()) > c.cfg.HardCap {
		c.cleanup(true)
	}
}

// checkPressure runs a heap check every PressureCheckOps operations and
// forces a cleanup above the configured heap ratio, independent of size.
func (c *Cache) checkPressure() {
	if c.cfg.PressureCheckOps == 0 {
		return
	}
	if c.ops.Add(1)%c.cfg.PressureCheckOps != 0 {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return
	}
	ratio := float64(ms.HeapAlloc) / float64(ms.HeapSys)
	if ratio > c.cfg.HeapPressureRatio {
		c.logger.Warn("Heap pressure cleanup",
			zap.Float64("heap_ratio", ratio),
			zap.Int64("cache_size", c.size.Load()),
		)
		c.cleanup(true)
	}
}

type evictCandidate struct {
	key        string
	rank       float64 // age / frequency: higher evicts first
	lastAccess int64
	highFreq   bool
}

// cleanup removes roughly CleanupRatio of the entries. Normal entries are
// evicted oldest-and-least-accessed first; high-frequency entries spill in
// oldest-by-last-access only when normal entries are insufficient.
func (c *Cache) cleanup(force bool) int {
	if force {
		c.cleanupMu.Lock()
	} else if !c.cleanupMu.TryLock() {
		// Another pass is already trimming; soft-cap triggers can skip.
		return 0
	}
	defer c.cleanupMu.Unlock()

	size := int(c.size.Load())
	if size == 0 || (!force && size < c.cfg.SoftCap) {
		return 0
	}

	target := int(float64(size) * c.cfg.CleanupRatio)
	if target < 1 {
		target = 1
	}
	if over := size - c.cfg.HardCap; over > target {
		target = over
	}

	now := time.Now()
	var normal, protected []evictCandidate
	c.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		cand := evictCandidate{
			key:        k.(string),
			rank:       now.Sub(e.createdAt).Seconds() / float64(max64(e.accessCount.Load(), 1)),
			lastAccess: e.lastAccess.Load(),
			highFreq:   e.highFreq.Load(),
		}
		if cand.highFreq {
			protected = append(protected, cand)
		} else {
			normal = append(normal, cand)
		}
		return true
	})

	sort.Slice(normal, func(i, j int) bool { return normal[i].rank > normal[j].rank })
	sort.Slice(protected, func(i, j int) bool { return protected[i].lastAccess < protected[j].lastAccess })

	evicted := 0
	for _, cand := range normal {
		if evicted >= target {
			break
		}
		c.evict(cand)
		evicted++
	}
	for _, cand := range protected {
		if evicted >= target {
			break
		}
		c.evict(cand)
		evicted++
	}

	if evicted > 0 {
		metrics.EmbeddingCacheSize.Set(float64(c.size.Load()))
		c.logger.Debug("Embedding cache cleanup",
			zap.Int("evicted", evicted),
			zap.Int64("remaining", c.size.Load()),
			zap.Bool("forced", force),
		)
	}
	return evicted
}

func (c *Cache) evict(cand evictCandidate) {
	if _, loaded := c.entries.LoadAndDelete(cand.key); !loaded {
		return
	}
	c.size.Add(-1)
	c.evictions.Add(1)
	if cand.highFreq {
		c.highFreq.Add(-1)
	}
	metrics.EmbeddingCacheEvictions.Inc()
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
