// Package store holds the index backends behind the retrieval layer:
// keyword ranking (Okapi BM25, Bleve, SQLite FTS5) and the HNSW vector store.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by any operation on a closed index or store.
var ErrClosed = errors.New("index is closed")

// Document is one unit of text handed to a keyword backend.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single keyword hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a keyword index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index ranks documents by keyword relevance.
type BM25Index interface {
	// Index adds documents, replacing any with the same ID.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents sharing at least one term with query,
	// best first, at most limit of them.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Close() error
}

// BM25Config tunes keyword scoring. K1 and B are only honoured by the Okapi
// backend; Bleve and FTS5 use their built-in parameters.
type BM25Config struct {
	// K1 is term frequency saturation.
	K1 float64
	// B is document length normalization.
	B float64
	// Epsilon floors negative IDF values at Epsilon times the mean IDF.
	Epsilon float64

	StopWords []string
}

// DefaultBM25Config returns the classic Okapi parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:      1.5,
		B:       0.75,
		Epsilon: 0.25,
	}
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32
	// Score is similarity in 0..1, higher is closer.
	Score float32
}

// VectorStoreConfig configures the HNSW graph.
type VectorStoreConfig struct {
	Dimensions int
	// Metric is "cos" or "l2".
	Metric string
	// M is the maximum neighbours per node.
	M int
	// EfSearch is the query-time candidate list width.
	EfSearch int
}

// DefaultVectorStoreConfig returns cosine defaults for dimensions.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides similarity lookup over embeddings.
type VectorStore interface {
	// Add inserts vectors; an existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch reports a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-ingest with the configured embedder)", e.Expected, e.Got)
}
