package search

import (
	"sort"
	"strings"
)

// DefaultRRFConstant is the RRF smoothing constant k.
const DefaultRRFConstant = 60

// FusionMethodRRF identifies reciprocal rank fusion in metadata.
const FusionMethodRRF = "rrf"

// FusionMetadata records how a FusionResult was produced.
type FusionMetadata struct {
	Method          string             `json:"fusion_method"`
	Weights         map[string]float64 `json:"rrf_weights"`
	ComponentScores ComponentScores    `json:"component_scores"`
}

// FusionResult is a fused ranking plus its provenance.
type FusionResult struct {
	Ranking  []RetrievalHit
	Metadata FusionMetadata
}

// Fuse merges rankings with Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_list / (k + rank_list(d))
//
// over the lists containing d, with 1-based ranks. k <= 0 uses
// DefaultRRFConstant; lists absent from weights get weight 1. Equal scores
// keep the order in which documents were first seen walking the lists in
// order. Fuse does not modify its inputs.
func Fuse(lists []NamedList, k int, weights map[string]float64) FusionResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	used := make(map[string]float64, len(lists))
	for _, nl := range lists {
		w, ok := weights[nl.Name]
		if !ok {
			w = 1.0
		}
		used[nl.Name] = w
	}

	var order []string
	scores := make(map[string]float64)
	for _, nl := range lists {
		w := used[nl.Name]
		for i, r := range nl.List {
			if _, seen := scores[r.ID]; !seen {
				order = append(order, r.ID)
			}
			scores[r.ID] += w / float64(k+i+1)
		}
	}

	cs := componentScores(lists...)
	ranking := make([]RetrievalHit, len(order))
	for i, id := range order {
		ranking[i] = RetrievalHit{ID: id, Score: scores[id], Source: sourceOf(cs[id])}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Score > ranking[j].Score
	})

	return FusionResult{
		Ranking: ranking,
		Metadata: FusionMetadata{
			Method:          FusionMethodRRF,
			Weights:         used,
			ComponentScores: cs,
		},
	}
}

func sourceOf(contrib map[string]ComponentScore) string {
	names := make([]string, 0, len(contrib))
	for name := range contrib {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
