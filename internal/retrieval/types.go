// Package retrieval holds the two first-stage indexes of the pipeline: a
// keyword index over the chunk corpus and an embedding index.
package retrieval

import (
	"context"
	"errors"
)

var (
	// ErrNilDependency is returned when a constructor is given a nil collaborator.
	ErrNilDependency = errors.New("nil dependency")

	// ErrEmptyIndex is returned by operations that need at least one document.
	ErrEmptyIndex = errors.New("index is empty")
)

// Ranked is one entry of a ranked list.
type Ranked struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// RankedList is best first and unique by ID.
type RankedList []Ranked

// IDs returns the list's document ids in order.
func (l RankedList) IDs() []string {
	ids := make([]string, len(l))
	for i, r := range l {
		ids[i] = r.ID
	}
	return ids
}

// Meta carries per-call diagnostics. Keys are stable snake_case names.
type Meta map[string]any

// Searcher is a first-stage retriever.
type Searcher interface {
	Query(ctx context.Context, text string, topK int) (RankedList, Meta, error)
}

// Metadata is stored alongside a dense vector. The "doc_id" key links a
// vector to its lexical document.
type Metadata map[string]string

// DocIDKey is the metadata key holding the shared document id.
const DocIDKey = "doc_id"
