package chi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	logpkg "github.com/liteshelf/bookrec/internal/logger"
	"github.com/liteshelf/bookrec/internal/repository/embcache"
	healthuc "github.com/liteshelf/bookrec/internal/usecase/health"
)

const maxQueryLength = 500

// Recommender is the recommendation pipeline surface the server exposes.
type Recommender interface {
	Recommend(ctx context.Context, query string) domain.Recommendation
	RecommendFast(ctx context.Context, query string) domain.Recommendation
}

// CacheAdmin exposes the embedding cache diagnostics endpoints.
type CacheAdmin interface {
	Stats() embcache.Stats
	ForceCleanup() int
}

// HealthService aggregates dependency liveness.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// Server is the HTTP API.
type Server struct {
	recommender Recommender
	cache       CacheAdmin
	health      HealthService
	logger      *zap.Logger
}

func NewServer(recommender Recommender, cache CacheAdmin, health HealthService, logger *zap.Logger) *Server {
	return &Server{recommender: recommender, cache: cache, health: health, logger: logger}
}

// Routes registers the API on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v2", func(r chi.Router) {
		r.Post("/recommend/natural", s.recommendNatural)
		r.Post("/recommend/fast", s.recommendFast)
		r.Get("/cache/stats", s.cacheStats)
		r.Post("/cache/cleanup", s.cacheCleanup)
	})
	r.Get("/health", s.healthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type recommendRequest struct {
	Query string `json:"query"`
}

type recommendResponse struct {
	Recommendation domain.Recommendation `json:"recommendation"`
}

// recommendNatural handles POST /api/v2/recommend/natural.
func (s *Server) recommendNatural(w http.ResponseWriter, r *http.Request) {
	query, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	rec := s.recommender.Recommend(r.Context(), query)
	writeJSON(w, http.StatusOK, recommendResponse{Recommendation: rec})
}

// recommendFast handles POST /api/v2/recommend/fast.
func (s *Server) recommendFast(w http.ResponseWriter, r *http.Request) {
	query, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	rec := s.recommender.RecommendFast(r.Context(), query)
	writeJSON(w, http.StatusOK, recommendResponse{Recommendation: rec})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return "", false
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return "", false
	}
	if len([]rune(query)) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is too long")
		return "", false
	}
	return query, true
}

// cacheStats handles GET /api/v2/cache/stats.
func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cache": s.cache.Stats()})
}

// cacheCleanup handles POST /api/v2/cache/cleanup.
func (s *Server) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	evicted := s.cache.ForceCleanup()
	logpkg.FromContext(r.Context()).Info("Manual cache cleanup", zap.Int("evicted", evicted))
	writeJSON(w, http.StatusOK, map[string]any{
		"evicted": evicted,
		"cache":   s.cache.Stats(),
	})
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
		s.logger.Warn("Health degraded", zap.Any("components", report.Components))
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
