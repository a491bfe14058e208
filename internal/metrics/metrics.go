package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recommendation pipeline Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookrec",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	CompletionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "completion_requests_total",
			Help:      "Total number of LLM completion requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "embedding_cache_evictions_total",
			Help:      "Total embedding cache entries evicted",
		},
	)

	EmbeddingCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bookrec",
			Name:      "embedding_cache_size",
			Help:      "Current number of embedding cache entries",
		},
	)

	VectorSearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "vector_search_total",
			Help:      "Vector database searches by collection and status",
		},
		[]string{"collection", "status"},
	)

	VectorSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookrec",
			Name:      "vector_search_duration_seconds",
			Help:      "Vector database search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	SearchResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "search_result_cache_total",
			Help:      "Vector search result cache hits and misses",
		},
		[]string{"result"},
	)

	RecommendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bookrec",
			Name:      "recommend_duration_seconds",
			Help:      "End-to-end recommendation pipeline duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	RecommendStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookrec",
			Name:      "recommend_strategy_total",
			Help:      "Recommendations served by retrieval strategy",
		},
		[]string{"strategy"},
	)
)

var registered bool

// Register registers all pipeline metrics. Must be called once from serve.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(CompletionRequestsTotal)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(EmbeddingCacheEvictions)
	prometheus.MustRegister(EmbeddingCacheSize)
	prometheus.MustRegister(VectorSearchTotal)
	prometheus.MustRegister(VectorSearchDuration)
	prometheus.MustRegister(SearchResultCacheTotal)
	prometheus.MustRegister(RecommendDuration)
	prometheus.MustRegister(RecommendStrategyTotal)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsInFlight)
	registered = true
}
