package queryintel

import (
	"regexp"
	"strings"

	"github.com/liteshelf/bookrec/internal/domain"
)

var (
	cornerBracketRe = regexp.MustCompile(`《(.+?)》`)
	quotedTitleRe   = regexp.MustCompile(`[「『"](.+?)[」』"]`)
)

// DetectTitle estimates whether the query names a specific book and how
// confident the match is. Corner brackets are the strongest signal in
// Chinese text; plain quotes and search-intent phrasing rank below them.
func DetectTitle(query string, intentKeywords []string) domain.TitleHint {
	if m := cornerBracketRe.FindStringSubmatch(query); m != nil {
		hint := domain.TitleHint{
			Present:        true,
			Confidence:     0.95,
			ExtractedTitle: strings.TrimSpace(m[1]),
		}
		hint.Strategy = strategyFor(hint.Confidence)
		return hint
	}

	if m := quotedTitleRe.FindStringSubmatch(query); m != nil {
		hint := domain.TitleHint{
			Present:        true,
			Confidence:     0.8,
			ExtractedTitle: strings.TrimSpace(m[1]),
		}
		hint.Strategy = strategyFor(hint.Confidence)
		return hint
	}

	for _, kw := range intentKeywords {
		if strings.Contains(query, kw) {
			hint := domain.TitleHint{Present: true, Confidence: 0.65}
			hint.Strategy = strategyFor(hint.Confidence)
			return hint
		}
	}

	// A short query with no descriptive phrasing is plausibly a bare title.
	if runes := []rune(strings.TrimSpace(query)); len(runes) >= 2 && len(runes) <= 8 && !hasDescriptiveWord(query) {
		hint := domain.TitleHint{
			Present:        true,
			Confidence:     0.5,
			ExtractedTitle: string(runes),
		}
		hint.Strategy = strategyFor(hint.Confidence)
		return hint
	}

	return domain.TitleHint{Confidence: 0.2, Strategy: domain.StrategySemanticOnly}
}

// descriptiveWords mark a query as asking about a kind of book rather than
// naming one.
var descriptiveWords = []string{
	"好看", "推薦", "想看", "有趣", "類似", "關於", "有沒有", "什麼", "的書", "小說", "書籍",
}

func hasDescriptiveWord(query string) bool {
	for _, w := range descriptiveWords {
		if strings.Contains(query, w) {
			return true
		}
	}
	return false
}

func strategyFor(confidence float64) domain.TitleStrategy {
	switch {
	case confidence >= 0.8:
		return domain.StrategyTitleFirst
	case confidence >= 0.5:
		return domain.StrategyHybrid
	default:
		return domain.StrategySemanticOnly
	}
}
