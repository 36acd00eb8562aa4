// Package search turns first-stage rankings into the final result list:
// query-adaptive weighting, reciprocal rank fusion and bounded reranking.
package search

import (
	"fmt"
	"strings"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/retrieval"
)

// Mode selects which retrievers a query uses.
type Mode string

const (
	ModeDense   Mode = "dense"
	ModeLexical Mode = "lexical"
	ModeHybrid  Mode = "hybrid"
)

// Retriever names, used as fusion list names and metadata keys.
const (
	SourceDense   = "dense"
	SourceLexical = "lexical"
)

// ParseMode validates a mode string. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeDense, ModeLexical, ModeHybrid:
		return m, nil
	default:
		return "", ragerrors.New(ragerrors.ErrCodeInvalidMode,
			fmt.Sprintf("unknown retrieval mode %q", s), nil).
			WithSuggestion("Use one of: dense, lexical, hybrid")
	}
}

// RetrievalHit is one ranked result.
type RetrievalHit struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
}

// NamedList is one retriever's ranking.
type NamedList struct {
	Name string
	List retrieval.RankedList
}

// ComponentScore is a retriever's pre-fusion view of a document.
type ComponentScore struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
}

// ComponentScores maps doc id -> retriever -> score.
type ComponentScores map[string]map[string]ComponentScore

// Weights are the per-retriever fusion weights.
type Weights struct {
	Dense   float64 `json:"dense"`
	Lexical float64 `json:"lexical"`
}

// Map returns the weights keyed by retriever name.
func (w Weights) Map() map[string]float64 {
	return map[string]float64{SourceDense: w.Dense, SourceLexical: w.Lexical}
}

// QueryMetadata has the same keys whatever the mode.
type QueryMetadata struct {
	RetrievalMode   string             `json:"retrieval_mode"`
	Weights         map[string]float64 `json:"weights"`
	ComponentScores ComponentScores    `json:"component_scores"`
	Reranked        bool               `json:"reranked"`
	RerankLatencyMS int64              `json:"rerank_latency_ms"`
	Cached          bool               `json:"cached"`
	FusionMethod    string             `json:"fusion_method"`
	Analysis        AnalysisMeta       `json:"analysis"`
	BranchErrors    map[string]string  `json:"branch_errors"`

	// Metrics is filled in by the query service (latency, memory, tuned params).
	Metrics map[string]any `json:"metrics,omitempty"`
}

func newQueryMetadata(mode Mode) QueryMetadata {
	return QueryMetadata{
		RetrievalMode:   string(mode),
		Weights:         map[string]float64{},
		ComponentScores: ComponentScores{},
		FusionMethod:    "none",
		BranchErrors:    map[string]string{},
	}
}

// componentScores records rank and raw score for every list entry.
func componentScores(lists ...NamedList) ComponentScores {
	cs := ComponentScores{}
	for _, nl := range lists {
		for i, r := range nl.List {
			m, ok := cs[r.ID]
			if !ok {
				m = map[string]ComponentScore{}
				cs[r.ID] = m
			}
			m[nl.Name] = ComponentScore{Rank: i + 1, Score: r.Score}
		}
	}
	return cs
}
