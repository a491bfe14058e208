package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

// embeddingResponse mirrors the OpenAI-compatible API embedding response.
type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := New(&Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		EmbeddingModel: "test-embed",
		ChatModel:      "test-chat",
		Logger:         zap.NewNop(),
	})
	return p, server
}

func TestProvider_Embed(t *testing.T) {
	want := make([]float32, domain.VectorDimensions)
	want[0] = 0.5

	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		resp := embeddingResponse{Object: "list", Model: "test-embed"}
		resp.Data = append(resp.Data, struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Object: "embedding", Embedding: want})
		_ = json.NewEncoder(w).Encode(resp)
	})

	vec, err := p.Embed(context.Background(), "科幻小說")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != domain.VectorDimensions || vec[0] != 0.5 {
		t.Errorf("unexpected vector: len=%d", len(vec))
	}
}

func TestProvider_Embed_ServerError(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusBadGateway)
	})

	_, err := p.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestProvider_Embed_EmptyResponse(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingResponse{Object: "list"})
	})

	_, err := p.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestProvider_Complete(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"tags\":[\"科幻\"]}"}}]
		}`))
	})

	got, err := p.Complete(context.Background(), "分析查詢", domain.CompletionConfig{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"tags":["科幻"]}` {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestProvider_Complete_Failure(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := p.Complete(context.Background(), "prompt", domain.CompletionConfig{})
	if !errors.Is(err, domain.ErrLLMProviderError) {
		t.Fatalf("expected ErrLLMProviderError, got %v", err)
	}
}
