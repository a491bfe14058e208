package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

func TestRecommendRoundTrip(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotQuery = req.Query
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recommendation":{"results":[{"title":"三體","relevance_score":1.0}],"total_candidates":1,"strategy":"title_first","elapsed_ms":12}}`))
	}))
	defer srv.Close()

	client := New(srv.URL)
	rec, err := client.Recommend(context.Background(), "三體")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if gotPath != "/api/v2/recommend/natural" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotQuery != "三體" {
		t.Fatalf("query = %q", gotQuery)
	}
	if rec.Strategy != "title_first" || len(rec.Results) != 1 || rec.Results[0].Title != "三體" {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestRecommendFastHitsFastRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"recommendation":{"results":[],"strategy":"semantic"}}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).RecommendFast(context.Background(), "科幻"); err != nil {
		t.Fatalf("RecommendFast: %v", err)
	}
	if gotPath != "/api/v2/recommend/fast" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"validation_failed","message":"query must not be empty"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Recommend(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "validation_failed" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCacheStatsAndCleanup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/cache/stats":
			_, _ = w.Write([]byte(`{"cache":{"size":42,"hits":100,"misses":8,"evictions":3,"high_frequency":4}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/cache/cleanup":
			_, _ = w.Write([]byte(`{"evicted":7,"cache":{"size":35}}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := New(srv.URL)
	stats, err := client.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if stats.Size != 42 || stats.Hits != 100 || stats.HighFrequency != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	evicted, err := client.ForceCacheCleanup(context.Background())
	if err != nil {
		t.Fatalf("ForceCacheCleanup: %v", err)
	}
	if evicted != 7 {
		t.Fatalf("evicted = %d, want 7", evicted)
	}
}

func TestHealthDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","components":{"qdrant":"connection refused","provider":"ok"}}`))
	}))
	defer srv.Close()

	report, err := New(srv.URL).Health(context.Background())
	if err == nil {
		t.Fatal("expected error for degraded server")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != "degraded" || report.Components["qdrant"] != "connection refused" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","components":{"qdrant":"ok","provider":"ok"}}`))
	}))
	defer srv.Close()

	report, err := New(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != "ok" {
		t.Fatalf("status = %q", report.Status)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"cache":{}}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, WithAPIKey("secret")).CacheStats(context.Background()); err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}
