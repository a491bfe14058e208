package domain

// TitleStrategy selects the retrieval path based on title-detection confidence.
type TitleStrategy string

const (
	// StrategyTitleFirst serves exact title matches ahead of semantic scoring.
	StrategyTitleFirst TitleStrategy = "TITLE_FIRST"
	// StrategyHybrid merges title matches with the semantic ranking.
	StrategyHybrid TitleStrategy = "HYBRID"
	// StrategySemanticOnly skips title matching entirely.
	StrategySemanticOnly TitleStrategy = "SEMANTIC_ONLY"
)

// TitleHint is the outcome of title detection on a raw query.
type TitleHint struct {
	Present        bool
	Confidence     float64
	ExtractedTitle string
	Strategy       TitleStrategy
}

// QueryFilters holds the exact-match constraints inferred from a query.
// Language is ANDed with an OR-set of tag matches.
type QueryFilters struct {
	Language string
	Tags     []string
}

// Empty reports whether the filters would constrain nothing.
func (f QueryFilters) Empty() bool {
	return f.Language == "" && len(f.Tags) == 0
}

// StructuredQuery is the immutable result of query understanding,
// produced once per request.
type StructuredQuery struct {
	QueryText string
	Filters   QueryFilters
	TitleHint TitleHint
	Summary   string
}

// AnalysisSource names the path that produced a StructuredQuery.
type AnalysisSource string

const (
	// SourceLLM means the primary LLM parse succeeded.
	SourceLLM AnalysisSource = "llm"
	// SourceSemantic means tags came from embedding-similarity inference.
	SourceSemantic AnalysisSource = "semantic"
	// SourceKeyword means tags came from the static keyword table.
	SourceKeyword AnalysisSource = "keyword"
)

// AnalysisOutcome tags a StructuredQuery with the path that built it, so
// callers and tests can assert which path executed without parsing logs.
type AnalysisOutcome struct {
	Query          StructuredQuery
	Source         AnalysisSource
	FallbackReason string
}

// Fallback reports whether the primary LLM parse was bypassed.
func (o AnalysisOutcome) Fallback() bool {
	return o.Source != SourceLLM
}
