package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

// Provider talks to an OpenAI-compatible API (Ollama /v1, hosted NLU endpoints)
// for both text embedding and chat completion.
type Provider struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	logger         *zap.Logger
}

// Config holds the provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Logger         *zap.Logger
}

// New creates an OpenAI-compatible embedding/completion provider.
func New(cfg *Config) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Provider{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		chatModel:      cfg.ChatModel,
		logger:         cfg.Logger,
	}
}

// Embed implements domain.Embedder with transport-level metrics.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.embeddingModel,
	}

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	model := string(p.embeddingModel)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, wrapAPIError("embedding", err, domain.ErrEmbeddingProviderError)
	}
	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(model).Observe(duration.Seconds())

	vec := resp.Data[0].Embedding
	if len(vec) != domain.VectorDimensions {
		p.logger.Warn("Unexpected embedding dimension",
			zap.Int("got", len(vec)),
			zap.Int("want", domain.VectorDimensions),
		)
	}
	return vec, nil
}

// Complete implements domain.Completer.
func (p *Provider) Complete(ctx context.Context, prompt string, cfg domain.CompletionConfig) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if cfg.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.chatModel,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(p.chatModel, "error").Inc()
		return "", wrapAPIError("completion", err, domain.ErrLLMProviderError)
	}
	if len(resp.Choices) == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(p.chatModel, "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrLLMProviderError)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(p.chatModel, "success").Inc()
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// wrapAPIError extracts a human-readable error from the API response.
// All errors are wrapped with the given domain sentinel for fallback routing.
func wrapAPIError(op string, err error, sentinel error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, reqErr.HTTPStatusCode, string(reqErr.Body), sentinel)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, apiErr.HTTPStatusCode, apiErr.Message, sentinel)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request timed out: %w", op, sentinel)
	}

	return fmt.Errorf("%s request failed: %w", op, sentinel)
}
