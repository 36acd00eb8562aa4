package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mapIDF is an IDFSource over a fixed table.
type mapIDF map[string]float64

func (m mapIDF) IDF(token string) float64 { return m[token] }

// ============================================================================
// Analyze
// ============================================================================

func TestAnalyze_IdentifierBiasesLexical(t *testing.T) {
	// Given: a query with a ticket id and no IDF data
	w, meta := Analyze("status of JIRA-1234", nil, Weights{Dense: 1, Lexical: 1})

	// Then: lexical is boosted and dense damped
	assert.True(t, meta.HasIdentifier)
	assert.True(t, meta.LexicalBias)
	assert.InDelta(t, 0.7, w.Dense, 1e-12)
	assert.InDelta(t, 1.3, w.Lexical, 1e-12)
	assert.Equal(t, w, meta.Weights)
}

func TestAnalyze_IdentifierIsCaseSensitive(t *testing.T) {
	_, meta := Analyze("status of jira-1234", nil, Weights{Dense: 1, Lexical: 1})
	assert.False(t, meta.HasIdentifier)

	_, meta = Analyze("error AB12", nil, Weights{Dense: 1, Lexical: 1})
	assert.True(t, meta.HasIdentifier)
}

func TestAnalyze_RareTermsByMeanIDF(t *testing.T) {
	idf := mapIDF{"zymurgy": 5.0, "the": 0.1}

	// Mean of 5.0 and 0.1 is 2.55.
	w, meta := Analyze("The zymurgy", idf, Weights{Dense: 2, Lexical: 1})
	assert.InDelta(t, 2.55, meta.MeanIDF, 1e-12)
	assert.Equal(t, 2, meta.Tokens)
	assert.True(t, meta.LexicalBias)
	assert.InDelta(t, 1.4, w.Dense, 1e-12)
	assert.InDelta(t, 1.3, w.Lexical, 1e-12)
}

func TestAnalyze_CommonTermsPassThrough(t *testing.T) {
	idf := mapIDF{"the": 0.1, "cat": 1.0}
	base := Weights{Dense: 1.5, Lexical: 0.5}

	// Unknown tokens count as 0, pulling the mean down.
	w, meta := Analyze("the cat unknown", idf, base)
	assert.False(t, meta.LexicalBias)
	assert.Equal(t, base, w)
	assert.InDelta(t, 1.1/3, meta.MeanIDF, 1e-12)
}

func TestAnalyze_ThresholdIsStrict(t *testing.T) {
	_, meta := Analyze("edge", mapIDF{"edge": 2.0}, Weights{Dense: 1, Lexical: 1})
	assert.False(t, meta.LexicalBias)
}

func TestAnalyze_EmptyQuery(t *testing.T) {
	w, meta := Analyze("", mapIDF{}, Weights{Dense: 1, Lexical: 1})
	assert.Zero(t, meta.Tokens)
	assert.Zero(t, meta.MeanIDF)
	assert.Equal(t, Weights{Dense: 1, Lexical: 1}, w)
}
