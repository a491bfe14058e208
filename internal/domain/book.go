package domain

// BookMetadata is the per-book record stored as payload on tag-vector points.
// The vector store is the source of truth; instances are reconstructed per query.
type BookMetadata struct {
	BookID      string
	Title       string
	Author      string
	Description string
	Tags        []string
	Language    string
	CoverURL    string
}

// Valid reports whether the record resolves to an actual book.
// Records failing this check are dropped, never surfaced to callers.
func (b BookMetadata) Valid() bool {
	return b.BookID != "" && b.Title != ""
}

// BookFromPayload decodes a vector point payload into BookMetadata.
// Unknown fields are ignored; missing fields default to zero values,
// so schema drift in the store degrades a record instead of failing a query.
func BookFromPayload(payload map[string]any) BookMetadata {
	return BookMetadata{
		BookID:      payloadString(payload, "book_id"),
		Title:       payloadString(payload, "title"),
		Author:      payloadString(payload, "author"),
		Description: payloadString(payload, "description"),
		Tags:        payloadStrings(payload, "tags"),
		Language:    payloadString(payload, "language"),
		CoverURL:    payloadString(payload, "cover_url"),
	}
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadStrings(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		// Already-typed slices pass through (test fixtures, importer round trips).
		if ss, ok := payload[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ScoredBook pairs a resolved book with a retrieval score.
type ScoredBook struct {
	Book  BookMetadata
	Score float64
}
