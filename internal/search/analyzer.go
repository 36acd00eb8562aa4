package search

import (
	"regexp"

	"gonum.org/v1/gonum/stat"

	"github.com/JackSmack1971/personal-rag-copilot/internal/store"
)

const (
	// RareIDFThreshold is the mean query IDF above which a query is
	// treated as keyword-heavy.
	RareIDFThreshold = 2.0

	lexicalBoost = 1.3
	denseDamping = 0.7
)

// identifierRegex matches ticket- and part-number-like tokens such as
// JIRA-1234 or SKU42. It runs on the original casing.
var identifierRegex = regexp.MustCompile(`[A-Z]{2,}-?\d+`)

// IDFSource reports corpus IDF for a lowercased token; unknown tokens are 0.
type IDFSource interface {
	IDF(token string) float64
}

// AnalysisMeta records the signals behind a weighting decision.
type AnalysisMeta struct {
	HasIdentifier bool    `json:"has_identifier"`
	MeanIDF       float64 `json:"mean_idf"`
	Tokens        int     `json:"tokens"`
	LexicalBias   bool    `json:"lexical_bias"`
	Weights       Weights `json:"rrf_weights"`
}

// Analyze shifts weight toward the lexical retriever for queries that
// contain identifiers or rare terms, which embeddings tend to blur. idf
// may be nil, in which case only the identifier signal applies.
func Analyze(query string, idf IDFSource, base Weights) (Weights, AnalysisMeta) {
	meta := AnalysisMeta{HasIdentifier: identifierRegex.MatchString(query)}

	tokens := store.TokenizeText(query)
	meta.Tokens = len(tokens)
	if idf != nil && len(tokens) > 0 {
		vals := make([]float64, len(tokens))
		for i, t := range tokens {
			vals[i] = idf.IDF(t)
		}
		meta.MeanIDF = stat.Mean(vals, nil)
	}

	w := base
	if meta.HasIdentifier || meta.MeanIDF > RareIDFThreshold {
		meta.LexicalBias = true
		w = Weights{Dense: base.Dense * denseDamping, Lexical: base.Lexical * lexicalBoost}
	}
	meta.Weights = w
	return w, meta
}
