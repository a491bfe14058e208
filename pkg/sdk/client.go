// Package sdk is a thin HTTP client for the bookrec API.
package sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/liteshelf/bookrec/internal/domain"
)

const defaultTimeout = 35 * time.Second

// Client talks to a running bookrec server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAPIKey sends a bearer token with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a Client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bookrec: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// CacheStats mirrors the server's embedding cache snapshot.
type CacheStats struct {
	Size          int64 `json:"size"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	HighFrequency int64 `json:"high_frequency"`
}

// HealthReport mirrors the server's health response.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Recommend runs the full recommendation pipeline.
func (c *Client) Recommend(ctx context.Context, query string) (domain.Recommendation, error) {
	return c.recommend(ctx, "/api/v2/recommend/natural", query)
}

// RecommendFast runs the pipeline without any LLM calls.
func (c *Client) RecommendFast(ctx context.Context, query string) (domain.Recommendation, error) {
	return c.recommend(ctx, "/api/v2/recommend/fast", query)
}

func (c *Client) recommend(ctx context.Context, path, query string) (domain.Recommendation, error) {
	var resp struct {
		Recommendation domain.Recommendation `json:"recommendation"`
	}
	err := c.do(ctx, http.MethodPost, path, map[string]string{"query": query}, &resp)
	if err != nil {
		return domain.Recommendation{}, err
	}
	return resp.Recommendation, nil
}

// CacheStats fetches the embedding cache diagnostics.
func (c *Client) CacheStats(ctx context.Context) (CacheStats, error) {
	var resp struct {
		Cache CacheStats `json:"cache"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v2/cache/stats", nil, &resp); err != nil {
		return CacheStats{}, err
	}
	return resp.Cache, nil
}

// ForceCacheCleanup triggers an eviction pass and returns how many entries
// it removed.
func (c *Client) ForceCacheCleanup(ctx context.Context) (int, error) {
	var resp struct {
		Evicted int `json:"evicted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/cache/cleanup", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Evicted, nil
}

// Health reports dependency liveness. A degraded server returns the report
// along with an *APIError carrying status 503.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	var report HealthReport
	err := c.do(ctx, http.MethodGet, "/health", nil, &report)
	if err != nil {
		var apiErr *APIError
		if report.Status != "" && errors.As(err, &apiErr) {
			return report, err
		}
		return HealthReport{}, err
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bookrec: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("bookrec: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bookrec: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bookrec: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Error bodies are best effort; health responses carry the report.
		_ = json.Unmarshal(data, apiErr)
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		if apiErr.Code == "" {
			apiErr.Code = "error"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("bookrec: decode response: %w", err)
		}
	}
	return nil
}
