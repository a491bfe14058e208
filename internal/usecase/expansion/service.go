package expansion

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
)

// Embedder produces the per-round query vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TagSearcher is the retrieval slice the multi-round search runs against.
type TagSearcher interface {
	SearchTags(ctx context.Context, vector []float32, filters *domain.QueryFilters, limit int, threshold float64) ([]domain.VectorRecord, error)
}

// Config tunes expansion and the round schedule.
type Config struct {
	BaseThreshold    float64
	RelaxedThreshold float64
	PerRoundLimit    int
	MaxResults       int
}

// Round strategy labels, also surfaced in the response for diagnostics.
const (
	roundCleaned     = "cleaned"
	roundExpanded    = "expanded"
	roundAlternative = "alternative"
	roundRelaxed     = "relaxed"
)

var aboutBookRe = regexp.MustCompile(`關於(.+?)的書`)

// Rerank weights for merged multi-round results. The vector score keeps a
// minority share so literal overlap with the cleaned query can promote
// books the relaxed rounds surfaced with low similarity.
const (
	rerankVectorWeight  = 0.3
	rerankOverlapWeight = 0.7
	overlapTitleWeight  = 0.4
	overlapDescWeight   = 0.4
	overlapTagsWeight   = 0.2
)

// Service rewrites vague queries into searchable ones and runs the
// progressive widening search for them.
type Service struct {
	embedder Embedder
	store    TagSearcher
	tables   domain.StaticTables
	cfg      Config
	logger   *zap.Logger
}

func New(embedder Embedder, store TagSearcher, tables domain.StaticTables, cfg Config, logger *zap.Logger) *Service {
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = 0.5
	}
	if cfg.RelaxedThreshold <= 0 {
		cfg.RelaxedThreshold = 0.3
	}
	if cfg.PerRoundLimit <= 0 {
		cfg.PerRoundLimit = 50
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Service{embedder: embedder, store: store, tables: tables, cfg: cfg, logger: logger}
}

// Expand cleans vague phrasing out of the query and derives the expanded
// terms and alternative queries for the later rounds. Pure string work; it
// never fails.
func (s *Service) Expand(query string) domain.QueryExpansion {
	cleaned := strings.TrimSpace(query)
	abstract := false

	for _, ref := range s.tables.VagueReferents {
		if strings.Contains(cleaned, ref) {
			abstract = true
			cleaned = strings.ReplaceAll(cleaned, ref, "")
		}
	}
	if m := aboutBookRe.FindStringSubmatch(cleaned); m != nil {
		abstract = true
		cleaned = m[1]
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = strings.TrimSpace(query)
	}

	var expanded []string
	topics := make([]string, 0, len(s.tables.TopicExpansions))
	for topic := range s.tables.TopicExpansions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	seen := make(map[string]bool)
	for _, topic := range topics {
		if !strings.Contains(cleaned, topic) {
			continue
		}
		for _, term := range s.tables.TopicExpansions[topic] {
			if term == cleaned || seen[term] {
				continue
			}
			seen[term] = true
			expanded = append(expanded, term)
		}
	}

	alternatives := make([]string, 0, 3)
	for _, term := range expanded {
		if len(alternatives) == 3 {
			break
		}
		alternatives = append(alternatives, cleaned+" "+term)
	}

	return domain.QueryExpansion{
		OriginalQuery:      query,
		CleanedQuery:       cleaned,
		ExpandedTerms:      expanded,
		AlternativeQueries: alternatives,
		IsAbstract:         abstract,
	}
}

// MultiRoundSearch runs up to four progressively wider rounds and merges the
// results by book, keeping each book's best vector score. A round that fails
// contributes nothing; later rounds still run. Rounds stop early once enough
// distinct books accumulated.
func (s *Service) MultiRoundSearch(
	ctx context.Context, exp domain.QueryExpansion, filters *domain.QueryFilters,
) ([]domain.ScoredBook, []domain.SearchRound, error) {
	type plannedRound struct {
		strategy  string
		query     string
		threshold float64
	}

	plan := []plannedRound{
		{roundCleaned, exp.CleanedQuery, s.cfg.BaseThreshold},
	}
	if len(exp.ExpandedTerms) > 0 {
		plan = append(plan, plannedRound{
			roundExpanded,
			exp.CleanedQuery + " " + strings.Join(exp.ExpandedTerms, " "),
			s.cfg.BaseThreshold,
		})
	}
	for _, alt := range exp.AlternativeQueries {
		plan = append(plan, plannedRound{roundAlternative, alt, s.cfg.BaseThreshold})
	}
	plan = append(plan, plannedRound{roundRelaxed, exp.CleanedQuery, s.cfg.RelaxedThreshold})

	merged := make(map[string]domain.ScoredBook)
	rounds := make([]domain.SearchRound, 0, len(plan))

	for i, round := range plan {
		if len(merged) >= s.cfg.MaxResults {
			break
		}
		start := time.Now()
		results := s.searchRound(ctx, round.query, filters, round.threshold)
		rounds = append(rounds, domain.SearchRound{
			Round:     i + 1,
			Query:     round.query,
			Strategy:  round.strategy,
			Results:   results,
			ElapsedMs: time.Since(start).Milliseconds(),
		})

		for _, sb := range results {
			if prev, ok := merged[sb.Book.BookID]; !ok || sb.Score > prev.Score {
				merged[sb.Book.BookID] = sb
			}
		}
	}

	return s.rerank(exp, merged), rounds, nil
}

func (s *Service) searchRound(
	ctx context.Context, query string, filters *domain.QueryFilters, threshold float64,
) []domain.ScoredBook {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Round embed failed", zap.String("round_query", query), zap.Error(err))
		return nil
	}

	records, err := s.store.SearchTags(ctx, vec, filters, s.cfg.PerRoundLimit, threshold)
	if err != nil {
		s.logger.Warn("Round search failed", zap.String("round_query", query), zap.Error(err))
		return nil
	}

	books := make([]domain.ScoredBook, 0, len(records))
	for _, rec := range records {
		book := domain.BookFromPayload(rec.Payload)
		if !book.Valid() {
			continue
		}
		books = append(books, domain.ScoredBook{Book: book, Score: rec.Score})
	}
	return books
}

// rerank blends each book's best vector score with literal term overlap so
// books that actually mention the cleaned query rise above loose semantic
// neighbors from the relaxed round.
func (s *Service) rerank(exp domain.QueryExpansion, merged map[string]domain.ScoredBook) []domain.ScoredBook {
	terms := append([]string{exp.CleanedQuery}, exp.ExpandedTerms...)

	books := make([]domain.ScoredBook, 0, len(merged))
	for _, sb := range merged {
		overlap := overlapTitleWeight*termOverlap(sb.Book.Title, terms) +
			overlapDescWeight*termOverlap(sb.Book.Description, terms) +
			overlapTagsWeight*termOverlap(strings.Join(sb.Book.Tags, " "), terms)
		sb.Score = rerankVectorWeight*sb.Score + rerankOverlapWeight*overlap
		books = append(books, sb)
	}

	sort.Slice(books, func(i, j int) bool {
		if books[i].Score != books[j].Score {
			return books[i].Score > books[j].Score
		}
		return books[i].Book.BookID < books[j].Book.BookID
	})
	if len(books) > s.cfg.MaxResults {
		books = books[:s.cfg.MaxResults]
	}
	return books
}

// termOverlap is the fraction of terms appearing verbatim in the text.
func termOverlap(text string, terms []string) float64 {
	if text == "" || len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
