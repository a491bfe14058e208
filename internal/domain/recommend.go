package domain

// Candidate is a book surfaced by the first-stage tag search, pending final
// scoring. FinalScore must stay a fixed convex combination of the partial
// scores (see ScoreWeights.Blend).
type Candidate struct {
	BookID           string
	TagScore         float64
	DescScore        float64
	TagSemanticScore float64
	FinalScore       float64
	Metadata         BookMetadata
}

// ScoreWeights is the convex combination applied to candidate scores.
type ScoreWeights struct {
	Tag         float64
	Description float64
	TagSemantic float64
}

// Blend computes the final score for a candidate.
func (w ScoreWeights) Blend(tag, desc, tagSemantic float64) float64 {
	return w.Tag*tag + w.Description*desc + w.TagSemantic*tagSemantic
}

// RecommendedBook is one entry of the caller-facing ranking.
type RecommendedBook struct {
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	Description    string   `json:"description"`
	CoverURL       string   `json:"cover_url"`
	Tags           []string `json:"tags"`
	RelevanceScore float64  `json:"relevance_score"`
}

// Recommendation is the full pipeline response. "Nothing found" and
// "something failed" share this shape and differ only in Strategy.
type Recommendation struct {
	Results         []RecommendedBook `json:"results"`
	TotalCandidates int               `json:"total_candidates"`
	Strategy        string            `json:"strategy"`
	ElapsedMs       int64             `json:"elapsed_ms"`
}

// EmptyRecommendation builds the well-formed empty response used for both
// no-match and degraded outcomes.
func EmptyRecommendation(strategy string, elapsedMs int64) Recommendation {
	return Recommendation{
		Results:         []RecommendedBook{},
		TotalCandidates: 0,
		Strategy:        strategy,
		ElapsedMs:       elapsedMs,
	}
}
