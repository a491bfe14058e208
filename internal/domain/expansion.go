package domain

// QueryExpansion is derived deterministically from the static topic table;
// never cached.
type QueryExpansion struct {
	OriginalQuery      string
	CleanedQuery       string
	ExpandedTerms      []string
	AlternativeQueries []string
	IsAbstract         bool
}

// SearchRound records one pass of the multi-round search. Rounds are
// append-only; their results merge by book id with the highest score winning.
type SearchRound struct {
	Round     int
	Query     string
	Strategy  string
	Results   []ScoredBook
	ElapsedMs int64
}
