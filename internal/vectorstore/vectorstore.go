// Package vectorstore is a typed facade over the external vector database
// (Qdrant) holding one dense embedding per article, keyed on the article's
// own id so the id space is shared with the store.
package vectorstore

import (
	"context"
	"fmt"
	"time"
)

// Payload carries the optional per-point fields the similarity engine and
// clustering layer read back out of a match.
type Payload struct {
	PubDate   *time.Time
	EventDate *time.Time
	Category  string
	Quality   int8
	EntityIDs []int64
}

// Match is one result from Search: a point's id, its payload, and the raw
// cosine score against the query vector.
type Match struct {
	ID      int64
	Score   float64
	Payload Payload
}

// Store is the operation set spec.md §4.2 requires of the vector index.
type Store interface {
	// StorePoint upserts embedding and payload for id. D is fixed at
	// construction time (nominally 1024).
	StorePoint(ctx context.Context, id int64, embedding []float32, payload Payload) error

	// Search runs cosine similarity search restricted to points whose
	// payload pub_date falls within recencyWindow of now, returning up to
	// limit matches scoring at least minScore.
	Search(ctx context.Context, embedding []float32, limit int, minScore float64, recencyWindow time.Duration) ([]Match, error)

	// GetVector returns the stored embedding for id, or nil if absent.
	GetVector(ctx context.Context, id int64) ([]float32, error)
}

// ErrDimensionMismatch is returned when a caller supplies a vector whose
// length does not match the collection's configured dimension.
type ErrDimensionMismatch struct {
	Got, Want int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorstore: embedding has %d dimensions, collection expects %d", e.Got, e.Want)
}
