package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/config"
	"github.com/liteshelf/bookrec/internal/domain"
	logpkg "github.com/liteshelf/bookrec/internal/logger"
	"github.com/liteshelf/bookrec/internal/metrics"
	"github.com/liteshelf/bookrec/internal/repository/embcache"
	"github.com/liteshelf/bookrec/internal/repository/vectorstore"
	chiTransport "github.com/liteshelf/bookrec/internal/transport/chi"
	openaiTransport "github.com/liteshelf/bookrec/internal/transport/openai"
	qdrantTransport "github.com/liteshelf/bookrec/internal/transport/qdrant"
	"github.com/liteshelf/bookrec/internal/usecase/expansion"
	healthuc "github.com/liteshelf/bookrec/internal/usecase/health"
	"github.com/liteshelf/bookrec/internal/usecase/queryintel"
	recommenduc "github.com/liteshelf/bookrec/internal/usecase/recommend"
	"github.com/liteshelf/bookrec/internal/version"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recommendation API server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bookrec API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("qdrant_host", cfg.Qdrant.Host),
		zap.String("embedding_model", cfg.Provider.EmbeddingModel),
	)

	// Register collectors explicitly (no init())
	metrics.Register()

	tables, err := cfg.LoadTables()
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	qc, err := qdrantTransport.New(&qdrantTransport.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		TimeoutSec: cfg.Qdrant.TimeoutSec,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("connect vector database: %w", err)
	}
	defer qc.Close()

	provider := openaiTransport.New(&openaiTransport.Config{
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		EmbeddingModel: cfg.Provider.EmbeddingModel,
		ChatModel:      cfg.Provider.ChatModel,
		Logger:         logger,
	})

	// Composition root: provider -> cache decorator -> everything else.
	cache := embcache.New(provider, embcache.Config{
		SoftCap:           cfg.Cache.SoftCap,
		HardCap:           cfg.Cache.HardCap,
		CleanupRatio:      cfg.Cache.CleanupRatio,
		HighFreqThreshold: cfg.Cache.HighFreqThreshold,
		HeapPressureRatio: cfg.Cache.HeapPressureRatio,
		PressureCheckOps:  cfg.Cache.PressureCheckOps,
		ProviderTimeout:   time.Duration(cfg.Provider.EmbedTimeoutSec) * time.Second,
	}, logger)

	store := vectorstore.New(qc, vectorstore.Config{
		TagsCollection: cfg.Qdrant.TagsCollection,
		DescCollection: cfg.Qdrant.DescCollection,
		IDChunkSize:    cfg.Search.IDChunkSize,
		CacheSize:      cfg.Search.ResultCacheSize,
		CacheTTL:       time.Duration(cfg.Search.ResultCacheTTLSec) * time.Second,
		Logger:         logger,
	})

	analyzer := queryintel.New(cache, provider, tables, queryintel.Config{
		LLMTimeout:      time.Duration(cfg.Provider.AnalyzeTimeoutSec) * time.Second,
		DefaultLanguage: cfg.Recommend.DefaultLanguage,
	}, logger)

	expander := expansion.New(cache, store, tables, expansion.Config{
		BaseThreshold:    cfg.Search.BaseThreshold,
		RelaxedThreshold: cfg.Search.RelaxedThreshold,
		PerRoundLimit:    cfg.Recommend.TagSearchLimit,
	}, logger)

	recommender := recommenduc.New(analyzer, cache, provider, store, expander, recommenduc.Config{
		Weights:         domainWeights(cfg.Recommend),
		TagSearchLimit:  cfg.Recommend.TagSearchLimit,
		FilteredMinHits: cfg.Recommend.FilteredMinHits,
		RescoreTopN:     cfg.Recommend.RescoreTopN,
		FinalLimit:      cfg.Recommend.FinalLimit,
		BaseThreshold:   cfg.Search.BaseThreshold,
		TagSemantic: recommenduc.TagSemanticGate{
			ExactRatioFloor:   cfg.Recommend.TagSemantic.ExactRatioFloor,
			ExactRatioCeiling: cfg.Recommend.TagSemantic.ExactRatioCeiling,
			BaseScoreFloor:    cfg.Recommend.TagSemantic.BaseScoreFloor,
			MaxCallsPerQuery:  cfg.Recommend.TagSemantic.MaxCallsPerQuery,
		},
		LLMRerank:       cfg.Recommend.LLMRerank,
		RerankTopN:      cfg.Recommend.RerankTopN,
		RerankMinScore:  cfg.Recommend.RerankMinScore,
		ParallelAnalyze: cfg.Recommend.ParallelAnalyze,
	}, logger)

	healthSvc := healthuc.New(map[string]healthuc.Checker{
		"qdrant":   qc,
		"provider": provider,
	}, 5*time.Second, logger)

	server := chiTransport.NewServer(recommender, cache, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

func domainWeights(rc config.RecommendConfig) domain.ScoreWeights {
	return domain.ScoreWeights{
		Tag:         rc.TagWeight,
		Description: rc.DescWeight,
		TagSemantic: rc.TagSemanticWeight,
	}
}
