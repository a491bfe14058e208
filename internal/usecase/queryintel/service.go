package queryintel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
)

const analyzeSystemPrompt = `你是圖書推薦系統的查詢分析器。根據使用者的自然語言查詢,輸出 JSON:
{"query_text": "語意檢索用的查詢文字", "filters": {"language": "語言或空字串", "tags": ["最多5個分類標籤"]}, "summary": "一句話摘要"}
只輸出 JSON,不要其他文字。`

// Config tunes the analysis pipeline.
type Config struct {
	LLMTimeout      time.Duration
	MaxTags         int
	SemanticFloor   float64
	DefaultLanguage string
}

// Service turns free-form queries into structured ones. The primary path is
// an LLM completion behind a circuit breaker; when it fails or is open, the
// service degrades to semantic tag matching and then to keyword lookup.
// Analysis never returns an error: the worst case is a pass-through query.
type Service struct {
	embedder  Embedder
	completer Completer
	tables    domain.StaticTables
	cfg       Config
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker[domain.StructuredQuery]
}

func New(embedder Embedder, completer Completer, tables domain.StaticTables, cfg Config, logger *zap.Logger) *Service {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 3 * time.Second
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 5
	}
	if cfg.SemanticFloor <= 0 {
		cfg.SemanticFloor = 0.3
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "中文"
	}

	s := &Service{
		embedder:  embedder,
		completer: completer,
		tables:    tables,
		cfg:       cfg,
		logger:    logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker[domain.StructuredQuery](gobreaker.Settings{
		Name:        "llm-analyze",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Analyzer breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return s
}

// Analyze runs the full chain: LLM first, then the degraded paths.
func (s *Service) Analyze(ctx context.Context, query string) domain.AnalysisOutcome {
	structured, err := s.analyzeLLM(ctx, query)
	if err == nil {
		return s.finish(query, structured, domain.SourceLLM, "")
	}
	s.logger.Warn("LLM analysis unavailable", zap.Error(err), zap.String("query", query))
	return s.analyzeDegraded(ctx, query, fmt.Sprintf("llm: %v", err))
}

// AnalyzeFast skips the LLM entirely for latency-sensitive callers.
func (s *Service) AnalyzeFast(ctx context.Context, query string) domain.AnalysisOutcome {
	return s.analyzeDegraded(ctx, query, "")
}

// analyzeDegraded unions both fallback signals: semantic inference leads,
// the keyword table fills in whatever the query names verbatim. A query the
// embeddings cannot place still picks up its keyword tags.
func (s *Service) analyzeDegraded(ctx context.Context, query, reason string) domain.AnalysisOutcome {
	kwTags := s.keywordTags(query)

	semTags, err := s.semanticTags(ctx, query)
	if err != nil {
		if reason != "" {
			reason += "; "
		}
		reason += fmt.Sprintf("semantic: %v", err)
		structured := domain.StructuredQuery{
			QueryText: query,
			Filters:   domain.QueryFilters{Tags: kwTags},
		}
		return s.finish(query, structured, domain.SourceKeyword, reason)
	}

	source := domain.SourceSemantic
	if len(semTags) == 0 && len(kwTags) > 0 {
		source = domain.SourceKeyword
	}
	structured := domain.StructuredQuery{
		QueryText: query,
		Filters:   domain.QueryFilters{Tags: dedupeTags(append(semTags, kwTags...), s.cfg.MaxTags)},
	}
	return s.finish(query, structured, source, reason)
}

func dedupeTags(tags []string, limit int) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// finish applies defaults, caps tags, and attaches the title hint. Title
// detection always runs on the raw query, whatever produced the structure.
func (s *Service) finish(raw string, q domain.StructuredQuery, source domain.AnalysisSource, reason string) domain.AnalysisOutcome {
	if strings.TrimSpace(q.QueryText) == "" {
		q.QueryText = raw
	}
	if q.Filters.Language == "" {
		q.Filters.Language = s.cfg.DefaultLanguage
	}
	if len(q.Filters.Tags) > s.cfg.MaxTags {
		q.Filters.Tags = q.Filters.Tags[:s.cfg.MaxTags]
	}
	q.TitleHint = DetectTitle(raw, s.tables.SearchIntentKeywords)

	return domain.AnalysisOutcome{Query: q, Source: source, FallbackReason: reason}
}

func (s *Service) analyzeLLM(ctx context.Context, query string) (domain.StructuredQuery, error) {
	return s.breaker.Execute(func() (domain.StructuredQuery, error) {
		llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()

		raw, err := s.completer.Complete(llmCtx, query, domain.CompletionConfig{
			System:      analyzeSystemPrompt,
			Temperature: 0.1,
			MaxTokens:   500,
		})
		if err != nil {
			return domain.StructuredQuery{}, err
		}
		return parseAnalysis(raw)
	})
}

// parseAnalysis tolerates markdown fences and prose around the JSON object.
func parseAnalysis(raw string) (domain.StructuredQuery, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.StructuredQuery{}, fmt.Errorf("no JSON object in response: %w", domain.ErrMalformedLLMResponse)
	}

	var parsed struct {
		QueryText string `json:"query_text"`
		Filters   struct {
			Language string   `json:"language"`
			Tags     []string `json:"tags"`
		} `json:"filters"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return domain.StructuredQuery{}, fmt.Errorf("decode analysis: %v: %w", err, domain.ErrMalformedLLMResponse)
	}

	tags := make([]string, 0, len(parsed.Filters.Tags))
	for _, tag := range parsed.Filters.Tags {
		if t := strings.TrimSpace(tag); t != "" {
			tags = append(tags, t)
		}
	}
	return domain.StructuredQuery{
		QueryText: parsed.QueryText,
		Filters:   domain.QueryFilters{Language: parsed.Filters.Language, Tags: tags},
		Summary:   parsed.Summary,
	}, nil
}

// semanticTags ranks the static tag sentences by cosine similarity against
// the query vector and keeps those above the floor.
func (s *Service) semanticTags(ctx context.Context, query string) ([]string, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scoredTag struct {
		tag   string
		score float64
	}
	var matched []scoredTag
	for tag, sentence := range s.tables.TagSentences {
		tagVec, err := s.embedder.Embed(ctx, sentence)
		if err != nil {
			s.logger.Debug("Skipping tag sentence", zap.String("tag", tag), zap.Error(err))
			continue
		}
		if score := domain.CosineSimilarity(queryVec, tagVec); score >= s.cfg.SemanticFloor {
			matched = append(matched, scoredTag{tag: tag, score: score})
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].tag < matched[j].tag
	})
	if len(matched) > s.cfg.MaxTags {
		matched = matched[:s.cfg.MaxTags]
	}

	tags := make([]string, len(matched))
	for i, m := range matched {
		tags[i] = m.tag
	}
	return tags, nil
}

// keywordTags is the last-resort lookup: substring match over the static
// keyword table, deduplicated in stable order.
func (s *Service) keywordTags(query string) []string {
	keywords := make([]string, 0, len(s.tables.KeywordTags))
	for kw := range s.tables.KeywordTags {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	seen := make(map[string]bool)
	var tags []string
	for _, kw := range keywords {
		if !strings.Contains(query, kw) {
			continue
		}
		for _, tag := range s.tables.KeywordTags[kw] {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	if len(tags) > s.cfg.MaxTags {
		tags = tags[:s.cfg.MaxTags]
	}
	return tags
}
