package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

const rerankSystemPrompt = `你是圖書推薦排序器。根據使用者需求為候選書籍評分(0到1)。
輸出 JSON:{"rankings": [{"index": 1, "score": 0.95}, ...]}。只輸出 JSON。`

// titleScanLimit bounds the exact-title scan over the catalog.
const titleScanLimit = 1000

// TagSemanticGate controls when the tag-text embedding similarity is worth
// its provider round-trip.
type TagSemanticGate struct {
	// ExactRatioFloor/Ceiling bound the exact tag overlap band in which the
	// embedding call is made; outside the band the exact ratio stands alone.
	ExactRatioFloor   float64
	ExactRatioCeiling float64
	// BaseScoreFloor is the minimum tag-vector score a candidate needs
	// before the embedding call is worth spending on it.
	BaseScoreFloor float64
	// MaxCallsPerQuery caps provider calls per recommendation.
	MaxCallsPerQuery int
}

// Config holds the orchestrator tunables.
type Config struct {
	Weights         domain.ScoreWeights
	TagSearchLimit  int
	FilteredMinHits int
	RescoreTopN     int
	FinalLimit      int
	BaseThreshold   float64
	TagSemantic     TagSemanticGate
	LLMRerank       bool
	RerankTopN      int
	RerankMinScore  float64
	ParallelAnalyze bool
}

// Service is the recommendation pipeline: analysis, tag search with
// filter fallback, batched description re-scoring, gated tag-semantic
// refinement, weight blending, and the optional LLM rerank. Every degraded
// path ends in a well-formed response; callers never see an error.
type Service struct {
	analyzer  Analyzer
	embedder  Embedder
	completer Completer
	store     Store
	expander  Expander
	cfg       Config
	logger    *zap.Logger
}

func New(analyzer Analyzer, embedder Embedder, completer Completer, store Store, expander Expander, cfg Config, logger *zap.Logger) *Service {
	if cfg.TagSearchLimit <= 0 {
		cfg.TagSearchLimit = 50
	}
	if cfg.FilteredMinHits <= 0 {
		cfg.FilteredMinHits = 10
	}
	if cfg.RescoreTopN <= 0 {
		cfg.RescoreTopN = 20
	}
	if cfg.FinalLimit <= 0 {
		cfg.FinalLimit = 5
	}
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = 0.5
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = 12
	}
	if cfg.RerankMinScore <= 0 {
		cfg.RerankMinScore = 0.3
	}
	if cfg.TagSemantic == (TagSemanticGate{}) {
		cfg.TagSemantic = TagSemanticGate{
			ExactRatioFloor:   0.25,
			ExactRatioCeiling: 0.8,
			BaseScoreFloor:    0.6,
			MaxCallsPerQuery:  10,
		}
	}
	return &Service{
		analyzer:  analyzer,
		embedder:  embedder,
		completer: completer,
		store:     store,
		expander:  expander,
		cfg:       cfg,
		logger:    logger,
	}
}

// Recommend runs the full pipeline, LLM analysis and rerank included.
func (s *Service) Recommend(ctx context.Context, query string) (rec domain.Recommendation) {
	start := time.Now()
	defer s.recoverEmpty(&rec, start)

	outcome := s.analyze(ctx, query)
	return s.pipeline(ctx, query, outcome, start, s.cfg.LLMRerank)
}

// RecommendFast skips every LLM call for latency-sensitive callers.
func (s *Service) RecommendFast(ctx context.Context, query string) (rec domain.Recommendation) {
	start := time.Now()
	defer s.recoverEmpty(&rec, start)

	outcome := s.analyzer.AnalyzeFast(ctx, query)
	return s.pipeline(ctx, query, outcome, start, false)
}

// recoverEmpty converts panics into the well-formed empty response.
func (s *Service) recoverEmpty(rec *domain.Recommendation, start time.Time) {
	if r := recover(); r != nil {
		s.logger.Error("Recommendation pipeline panic", zap.Any("panic", r))
		*rec = domain.EmptyRecommendation("error", time.Since(start).Milliseconds())
	}
}

// analyze optionally overlaps the LLM analysis with warming the raw query's
// embedding, since the downstream search usually needs exactly that vector.
func (s *Service) analyze(ctx context.Context, query string) domain.AnalysisOutcome {
	if !s.cfg.ParallelAnalyze {
		return s.analyzer.Analyze(ctx, query)
	}

	var outcome domain.AnalysisOutcome
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outcome = s.analyzer.Analyze(gctx, query)
		return nil
	})
	g.Go(func() error {
		if _, err := s.embedder.Embed(gctx, query); err != nil {
			s.logger.Debug("Warm embed failed", zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()
	return outcome
}

func (s *Service) pipeline(
	ctx context.Context, raw string, outcome domain.AnalysisOutcome, start time.Time, allowLLM bool,
) domain.Recommendation {
	hint := outcome.Query.TitleHint

	if hint.Strategy == domain.StrategyTitleFirst && hint.ExtractedTitle != "" {
		if matches := s.titleSearch(ctx, hint.ExtractedTitle); len(matches) > 0 {
			return s.finish("title_first", matches, len(matches), start)
		}
		s.logger.Info("Title search found nothing, widening to semantic",
			zap.String("title", hint.ExtractedTitle))
	}

	exp := s.expander.Expand(outcome.Query.QueryText)
	if exp.IsAbstract {
		return s.multiRound(ctx, exp, outcome.Query.Filters, start)
	}

	return s.semantic(ctx, raw, outcome, exp, start, allowLLM)
}

// titleSearch matches the extracted title against catalog titles: exact
// matches first, then substring matches.
func (s *Service) titleSearch(ctx context.Context, title string) []domain.Candidate {
	books, err := s.store.ScanTitles(ctx, titleScanLimit)
	if err != nil {
		s.logger.Warn("Title scan failed", zap.Error(err))
		return nil
	}

	var matches []domain.Candidate
	for _, book := range books {
		var score float64
		switch {
		case book.Title == title:
			score = 1.0
		case strings.Contains(book.Title, title) || strings.Contains(title, book.Title):
			score = 0.9
		default:
			continue
		}
		matches = append(matches, domain.Candidate{
			BookID:     book.BookID,
			FinalScore: score,
			Metadata:   book,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].FinalScore != matches[j].FinalScore {
			return matches[i].FinalScore > matches[j].FinalScore
		}
		return matches[i].BookID < matches[j].BookID
	})
	if len(matches) > s.cfg.FinalLimit {
		matches = matches[:s.cfg.FinalLimit]
	}
	return matches
}

// multiRound hands vague queries to the progressive widening search.
func (s *Service) multiRound(
	ctx context.Context, exp domain.QueryExpansion, filters domain.QueryFilters, start time.Time,
) domain.Recommendation {
	var filterPtr *domain.QueryFilters
	if !filters.Empty() {
		filterPtr = &filters
	}

	books, rounds, err := s.expander.MultiRoundSearch(ctx, exp, filterPtr)
	if err != nil {
		s.logger.Warn("Multi-round search failed", zap.Error(err))
		return s.empty("multi_round_failed", start)
	}
	s.logger.Info("Multi-round search done",
		zap.String("cleaned_query", exp.CleanedQuery),
		zap.Int("rounds", len(rounds)),
		zap.Int("candidates", len(books)),
	)

	if len(books) == 0 {
		return s.empty("multi_round_no_match", start)
	}

	candidates := make([]domain.Candidate, len(books))
	for i, sb := range books {
		candidates[i] = domain.Candidate{
			BookID:     sb.Book.BookID,
			FinalScore: sb.Score,
			Metadata:   sb.Book,
		}
	}
	total := len(candidates)
	if len(candidates) > s.cfg.FinalLimit {
		candidates = candidates[:s.cfg.FinalLimit]
	}
	return s.finish("multi_round", candidates, total, start)
}

// semantic is the main retrieval path.
func (s *Service) semantic(
	ctx context.Context, raw string, outcome domain.AnalysisOutcome, exp domain.QueryExpansion,
	start time.Time, allowLLM bool,
) domain.Recommendation {
	strategy := "semantic"
	if outcome.Query.TitleHint.Strategy == domain.StrategyHybrid {
		strategy = "hybrid"
	}

	// With inferred tags the query is embedded as the same canonical
	// sentence the importer writes tag vectors from, so the search runs
	// in the tag-vector space rather than free-text space.
	queryText := outcome.Query.QueryText
	if tags := outcome.Query.Filters.Tags; len(tags) > 0 {
		queryText = tagQuerySentence(tags)
	}
	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.logger.Warn("Query embedding failed", zap.Error(err))
		return s.empty(strategy+"_failed", start)
	}

	records, err := s.tagSearch(ctx, queryVec, outcome.Query.Filters)
	if err != nil {
		s.logger.Warn("Tag search failed", zap.Error(err))
		return s.empty(strategy+"_failed", start)
	}

	candidates := buildCandidates(records)
	if strategy == "hybrid" && outcome.Query.TitleHint.ExtractedTitle != "" {
		candidates = s.mergeTitleMatches(ctx, candidates, outcome.Query.TitleHint.ExtractedTitle)
	}
	if len(candidates) == 0 {
		// A valid empty result, not an error; the label tells them apart.
		return s.empty(strategy+"_no_match", start)
	}
	total := len(candidates)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TagScore != candidates[j].TagScore {
			return candidates[i].TagScore > candidates[j].TagScore
		}
		return candidates[i].BookID < candidates[j].BookID
	})
	if len(candidates) > s.cfg.RescoreTopN {
		candidates = candidates[:s.cfg.RescoreTopN]
	}

	s.rescoreDescriptions(ctx, queryVec, candidates)
	s.applyTagSemantic(ctx, queryVec, outcome.Query.Filters.Tags, candidates)

	for i := range candidates {
		candidates[i].FinalScore = s.cfg.Weights.Blend(
			candidates[i].TagScore, candidates[i].DescScore, candidates[i].TagSemanticScore)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		return candidates[i].BookID < candidates[j].BookID
	})

	if allowLLM {
		candidates = s.llmRerank(ctx, raw, candidates)
	}
	if len(candidates) > s.cfg.FinalLimit {
		candidates = candidates[:s.cfg.FinalLimit]
	}
	return s.finish(strategy, candidates, total, start)
}

// tagSearch runs the filtered search and widens to unfiltered when the
// filters starve it, merging by best score per book.
func (s *Service) tagSearch(
	ctx context.Context, vec []float32, filters domain.QueryFilters,
) ([]domain.VectorRecord, error) {
	var filterPtr *domain.QueryFilters
	if !filters.Empty() {
		filterPtr = &filters
	}

	records, err := s.store.SearchTags(ctx, vec, filterPtr, s.cfg.TagSearchLimit, s.cfg.BaseThreshold)
	if err != nil {
		return nil, err
	}
	if filterPtr == nil || len(records) >= s.cfg.FilteredMinHits {
		return records, nil
	}

	s.logger.Info("Filtered search starved, widening",
		zap.Int("filtered_hits", len(records)),
		zap.Strings("tags", filters.Tags),
	)
	wide, err := s.store.SearchTags(ctx, vec, nil, s.cfg.TagSearchLimit, s.cfg.BaseThreshold)
	if err != nil {
		// The filtered results are still usable.
		s.logger.Warn("Unfiltered fallback failed", zap.Error(err))
		return records, nil
	}

	best := make(map[string]domain.VectorRecord, len(records)+len(wide))
	for _, rec := range append(records, wide...) {
		if prev, ok := best[rec.ID]; !ok || rec.Score > prev.Score {
			best[rec.ID] = rec
		}
	}
	merged := make([]domain.VectorRecord, 0, len(best))
	for _, rec := range best {
		merged = append(merged, rec)
	}
	return merged, nil
}

func buildCandidates(records []domain.VectorRecord) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, len(records))
	for _, rec := range records {
		book := domain.BookFromPayload(rec.Payload)
		if !book.Valid() {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			BookID:   book.BookID,
			TagScore: rec.Score,
			Metadata: book,
		})
	}
	return candidates
}

// mergeTitleMatches folds exact-title hits into the semantic candidate set
// with a full tag score, so named books cannot lose to loose neighbors.
func (s *Service) mergeTitleMatches(
	ctx context.Context, candidates []domain.Candidate, title string,
) []domain.Candidate {
	matches := s.titleSearch(ctx, title)
	if len(matches) == 0 {
		return candidates
	}

	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		index[c.BookID] = i
	}
	for _, m := range matches {
		if i, ok := index[m.BookID]; ok {
			if candidates[i].TagScore < m.FinalScore {
				candidates[i].TagScore = m.FinalScore
			}
			continue
		}
		candidates = append(candidates, domain.Candidate{
			BookID:   m.BookID,
			TagScore: m.FinalScore,
			Metadata: m.Metadata,
		})
	}
	return candidates
}

// rescoreDescriptions fills DescScore in one batched call; books without a
// description vector keep zero, and a failed call degrades to tag-only.
func (s *Service) rescoreDescriptions(ctx context.Context, vec []float32, candidates []domain.Candidate) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.BookID
	}

	scores, err := s.store.RescoreDescriptions(ctx, vec, ids)
	if err != nil {
		s.logger.Warn("Description rescore failed, keeping tag scores", zap.Error(err))
		return
	}
	for i := range candidates {
		candidates[i].DescScore = scores[candidates[i].BookID]
	}
}

// applyTagSemantic fills TagSemanticScore under the gate: each candidate
// starts from its exact-match ratio, and the mid-band candidates with a
// strong tag score trade it for an embedding-cosine score while the
// per-query call budget lasts.
func (s *Service) applyTagSemantic(ctx context.Context, vec []float32, queryTags []string, candidates []domain.Candidate) {
	if len(queryTags) == 0 {
		return
	}
	gate := s.cfg.TagSemantic
	callsLeft := gate.MaxCallsPerQuery

	for i := range candidates {
		ratio := exactTagRatio(queryTags, candidates[i].Metadata.Tags)
		candidates[i].TagSemanticScore = ratio
		inBand := ratio >= gate.ExactRatioFloor && ratio < gate.ExactRatioCeiling
		if inBand && candidates[i].TagScore >= gate.BaseScoreFloor && callsLeft > 0 {
			callsLeft--
			candidates[i].TagSemanticScore = s.embeddedTagScore(ctx, vec, candidates[i].Metadata, ratio)
		}
	}
}

func (s *Service) embeddedTagScore(ctx context.Context, queryVec []float32, book domain.BookMetadata, exactRatio float64) float64 {
	tagVec, err := s.embedder.Embed(ctx, tagText(book))
	if err != nil {
		s.logger.Debug("Tag embed failed", zap.String("book_id", book.BookID), zap.Error(err))
		return exactRatio
	}
	return domain.CosineSimilarity(queryVec, tagVec)
}

// tagQuerySentence puts tags into the sentence form the importer embeds,
// so query and point vectors share one space and the embedding cache is
// shared between import and serving.
func tagQuerySentence(tags []string) string {
	return "分類：" + strings.Join(tags, ", ")
}

func tagText(book domain.BookMetadata) string {
	if len(book.Tags) > 0 {
		return tagQuerySentence(book.Tags)
	}
	return "書名：" + book.Title
}

func exactTagRatio(queryTags, bookTags []string) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	set := make(map[string]bool, len(bookTags))
	for _, t := range bookTags {
		set[t] = true
	}
	matched := 0
	for _, t := range queryTags {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTags))
}

// llmRerank asks the model to re-score the head of the ranking. Failures of
// any kind leave the incoming order untouched.
func (s *Service) llmRerank(ctx context.Context, query string, candidates []domain.Candidate) []domain.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	top := len(candidates)
	if top > s.cfg.RerankTopN {
		top = s.cfg.RerankTopN
	}

	var b strings.Builder
	fmt.Fprintf(&b, "使用者需求:%s\n候選書籍:\n", query)
	for i, c := range candidates[:top] {
		fmt.Fprintf(&b, "%d. 《%s》%s\n", i+1, c.Metadata.Title, snippet(c.Metadata.Description, 80))
	}

	raw, err := s.completer.Complete(ctx, b.String(), domain.CompletionConfig{
		System:      rerankSystemPrompt,
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		s.logger.Warn("LLM rerank failed, keeping ranking", zap.Error(err))
		return candidates
	}

	ranked, err := parseRerank(raw, candidates[:top], s.cfg.RerankMinScore)
	if err != nil {
		s.logger.Warn("LLM rerank unparseable, keeping ranking", zap.Error(err))
		return candidates
	}
	if len(ranked) == 0 {
		return candidates
	}
	if len(ranked) > s.cfg.FinalLimit {
		ranked = ranked[:s.cfg.FinalLimit]
	}
	return ranked
}

func parseRerank(raw string, candidates []domain.Candidate, minScore float64) ([]domain.Candidate, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in rerank response: %w", domain.ErrMalformedLLMResponse)
	}

	var parsed struct {
		Rankings []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"rankings"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode rerank: %v: %w", err, domain.ErrMalformedLLMResponse)
	}

	type rankedCandidate struct {
		candidate domain.Candidate
		score     float64
	}
	ranked := make([]rankedCandidate, 0, len(parsed.Rankings))
	for _, r := range parsed.Rankings {
		if r.Index < 1 || r.Index > len(candidates) || r.Score < minScore {
			continue
		}
		ranked = append(ranked, rankedCandidate{candidate: candidates[r.Index-1], score: r.Score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]domain.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.candidate
	}
	return out, nil
}

func snippet(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}

// finish assembles the response and records the pipeline metrics.
func (s *Service) finish(strategy string, candidates []domain.Candidate, total int, start time.Time) domain.Recommendation {
	results := make([]domain.RecommendedBook, len(candidates))
	for i, c := range candidates {
		results[i] = domain.RecommendedBook{
			Title:          c.Metadata.Title,
			Author:         c.Metadata.Author,
			Description:    c.Metadata.Description,
			CoverURL:       c.Metadata.CoverURL,
			Tags:           c.Metadata.Tags,
			RelevanceScore: c.FinalScore,
		}
	}

	elapsed := time.Since(start)
	metrics.RecommendDuration.Observe(elapsed.Seconds())
	metrics.RecommendStrategyTotal.WithLabelValues(strategy).Inc()

	return domain.Recommendation{
		Results:         results,
		TotalCandidates: total,
		Strategy:        strategy,
		ElapsedMs:       elapsed.Milliseconds(),
	}
}

func (s *Service) empty(strategy string, start time.Time) domain.Recommendation {
	elapsed := time.Since(start)
	metrics.RecommendDuration.Observe(elapsed.Seconds())
	metrics.RecommendStrategyTotal.WithLabelValues(strategy).Inc()
	return domain.EmptyRecommendation(strategy, elapsed.Milliseconds())
}
