package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
	"github.com/liteshelf/bookrec/internal/repository/embcache"
	healthuc "github.com/liteshelf/bookrec/internal/usecase/health"
)

func TestMain(m *testing.M) {
	metrics.Register()
	m.Run()
}

type fakeRecommender struct {
	lastQuery string
	fastCalls int
	fullCalls int
}

func (f *fakeRecommender) Recommend(_ context.Context, query string) domain.Recommendation {
	f.fullCalls++
	f.lastQuery = query
	return domain.Recommendation{
		Results: []domain.RecommendedBook{
			{Title: "三體", RelevanceScore: 0.9},
		},
		TotalCandidates: 1,
		Strategy:        "semantic",
	}
}

func (f *fakeRecommender) RecommendFast(_ context.Context, query string) domain.Recommendation {
	f.fastCalls++
	f.lastQuery = query
	return domain.EmptyRecommendation("semantic", 1)
}

type fakeCache struct {
	evicted int
}

func (f *fakeCache) Stats() embcache.Stats {
	return embcache.Stats{Size: 3, Hits: 10, Misses: 4}
}

func (f *fakeCache) ForceCleanup() int { return f.evicted }

type fakeHealth struct {
	degraded bool
}

func (f *fakeHealth) Check(context.Context) healthuc.Report {
	if f.degraded {
		return healthuc.Report{Status: "degraded", Components: map[string]string{"qdrant": "down"}}
	}
	return healthuc.Report{Status: "ok", Components: map[string]string{"qdrant": "ok"}}
}

func newTestRouter(rec *fakeRecommender, cache *fakeCache, health *fakeHealth) http.Handler {
	r := chi.NewRouter()
	NewServer(rec, cache, health, zap.NewNop()).Routes(r)
	return r
}

func TestRecommendNatural(t *testing.T) {
	rec := &fakeRecommender{}
	router := newTestRouter(rec, &fakeCache{}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/recommend/natural",
		strings.NewReader(`{"query": "好看的科幻小說"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rec.fullCalls != 1 || rec.lastQuery != "好看的科幻小說" {
		t.Fatalf("recommender calls = %d query = %q", rec.fullCalls, rec.lastQuery)
	}

	var resp struct {
		Recommendation domain.Recommendation `json:"recommendation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Recommendation.Results) != 1 || resp.Recommendation.Results[0].Title != "三體" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestRecommendFastRoute(t *testing.T) {
	rec := &fakeRecommender{}
	router := newTestRouter(rec, &fakeCache{}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/recommend/fast",
		strings.NewReader(`{"query": "推理小說"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rec.fastCalls != 1 || rec.fullCalls != 0 {
		t.Fatalf("calls fast=%d full=%d, want 1/0", rec.fastCalls, rec.fullCalls)
	}
}

func TestRecommendValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query": "  "}`},
		{"missing query", `{}`},
		{"invalid json", `{"query":`},
		{"too long", `{"query": "` + strings.Repeat("書", 501) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecommender{}
			router := newTestRouter(rec, &fakeCache{}, &fakeHealth{})

			req := httptest.NewRequest(http.MethodPost, "/api/v2/recommend/natural", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if rec.fullCalls != 0 {
				t.Fatal("invalid request must not reach the pipeline")
			}
		})
	}
}

func TestCacheStats(t *testing.T) {
	router := newTestRouter(&fakeRecommender{}, &fakeCache{}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v2/cache/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Cache embcache.Stats `json:"cache"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cache.Size != 3 || resp.Cache.Hits != 10 {
		t.Fatalf("stats = %+v", resp.Cache)
	}
}

func TestCacheCleanup(t *testing.T) {
	router := newTestRouter(&fakeRecommender{}, &fakeCache{evicted: 7}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/cache/cleanup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Evicted int `json:"evicted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Evicted != 7 {
		t.Fatalf("evicted = %d, want 7", resp.Evicted)
	}
}

func TestHealthStatusCodes(t *testing.T) {
	for _, tt := range []struct {
		degraded bool
		want     int
	}{
		{false, http.StatusOK},
		{true, http.StatusServiceUnavailable},
	} {
		router := newTestRouter(&fakeRecommender{}, &fakeCache{}, &fakeHealth{degraded: tt.degraded})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != tt.want {
			t.Fatalf("degraded=%v: status = %d, want %d", tt.degraded, rr.Code, tt.want)
		}
	}
}
