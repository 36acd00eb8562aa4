package mcp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
)

// FormatQueryResults renders a query result as markdown for the text
// content of the tool response.
func FormatQueryResults(query string, out QueryOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%s)\n\n", describe(out.Metadata))

	for i, h := range out.Results {
		formatHit(&sb, i+1, h, out.Metadata.ComponentScores[h.ID])
	}
	return sb.String()
}

func formatHit(sb *strings.Builder, num int, h search.RetrievalHit, components map[string]search.ComponentScore) {
	fmt.Fprintf(sb, "### %d. %s (score: %.4f, via %s)\n", num, h.ID, h.Score, h.Source)
	if len(components) > 0 {
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		slices.Sort(names)
		ranks := make([]string, len(names))
		for i, name := range names {
			ranks[i] = fmt.Sprintf("%s #%d", name, components[name].Rank)
		}
		fmt.Fprintf(sb, "**Ranks:** %s\n", strings.Join(ranks, ", "))
	}
	sb.WriteString("\n")
	if h.Text != "" {
		sb.WriteString(h.Text)
		sb.WriteString("\n\n---\n\n")
	}
}

// describe summarizes how the ranking was produced.
func describe(meta search.QueryMetadata) string {
	parts := []string{meta.RetrievalMode}
	if meta.FusionMethod != "" && meta.FusionMethod != "none" {
		parts = append(parts, meta.FusionMethod)
	}
	if meta.Reranked {
		if meta.Cached {
			parts = append(parts, "reranked from cache")
		} else {
			parts = append(parts, "reranked")
		}
	}
	if len(meta.BranchErrors) > 0 {
		failed := make([]string, 0, len(meta.BranchErrors))
		for name := range meta.BranchErrors {
			failed = append(failed, name)
		}
		slices.Sort(failed)
		parts = append(parts, "degraded: "+strings.Join(failed, ", ")+" unavailable")
	}
	return strings.Join(parts, ", ")
}
