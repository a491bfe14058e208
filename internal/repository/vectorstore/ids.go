package vectorstore

import "github.com/google/uuid"

// Point ids are deterministic so re-imports upsert in place and description
// points can be addressed directly from a book id without a payload filter.

// TagPointID returns the stable point id of a book's tag vector.
func TagPointID(bookID string) string {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(bookID)).String()
}

// DescPointID returns the stable point id of a book's description vector.
func DescPointID(bookID string) string {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(bookID+"_desc")).String()
}
