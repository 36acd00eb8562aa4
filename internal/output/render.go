package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
)

const snippetWidth = 160

// Results prints ranked hits followed by a one-line summary of how they
// were produced.
func (w *Writer) Results(query string, hits []search.RetrievalHit, meta search.QueryMetadata) {
	if len(hits) == 0 {
		w.Warningf("No results for %q", query)
		return
	}
	w.Header(fmt.Sprintf("Results for %q", query))
	for i, h := range hits {
		_, _ = fmt.Fprintf(w.out, "%2d. %s  %s  %s\n",
			i+1,
			h.ID,
			w.styles.Score.Render(fmt.Sprintf("%.4f", h.Score)),
			w.styles.Label.Render(h.Source))
		if h.Text != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Dim.Render(Snippet(h.Text, snippetWidth)))
		}
	}
	w.Newline()
	w.Status("", w.styles.Label.Render(Summary(meta)))
	for _, branch := range sortedKeys(meta.BranchErrors) {
		w.Warningf("%s retriever failed: %s", branch, meta.BranchErrors[branch])
	}
}

// Summary is the single metadata line shown under results.
func Summary(meta search.QueryMetadata) string {
	parts := []string{
		"mode=" + meta.RetrievalMode,
		"fusion=" + meta.FusionMethod,
	}
	if len(meta.Weights) > 0 {
		parts = append(parts, fmt.Sprintf("w_dense=%.2f w_lexical=%.2f",
			meta.Weights[search.SourceDense], meta.Weights[search.SourceLexical]))
	}
	rerank := "off"
	switch {
	case meta.Reranked && meta.Cached:
		rerank = "cached"
	case meta.Reranked:
		rerank = fmt.Sprintf("%dms", meta.RerankLatencyMS)
	}
	parts = append(parts, "rerank="+rerank)
	if v, ok := meta.Metrics["latency_ms"]; ok {
		parts = append(parts, fmt.Sprintf("latency=%vms", v))
	}
	return strings.Join(parts, " ")
}

// Snippet collapses whitespace and truncates to width runes.
func Snippet(text string, width int) string {
	s := strings.Join(strings.Fields(text), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// LatencyRow is one mode's line in the latency table.
type LatencyRow struct {
	Mode    string  `json:"mode"`
	Samples int     `json:"samples"`
	P95MS   float64 `json:"p95_ms"`
}

// LatencyTable prints p95 per mode. Rows above target are highlighted.
func (w *Writer) LatencyTable(rows []LatencyRow, targetMS float64) {
	if len(rows) == 0 {
		w.Status("", "No latency samples recorded yet.")
		return
	}
	w.Header("Latency (p95)")
	_, _ = fmt.Fprintf(w.out, "  %-10s %8s %12s\n",
		w.styles.Label.Render("MODE"), w.styles.Label.Render("SAMPLES"), w.styles.Label.Render("P95 (ms)"))
	for _, r := range rows {
		p95 := fmt.Sprintf("%12.1f", r.P95MS)
		if targetMS > 0 && r.P95MS > targetMS {
			p95 = w.styles.Warning.Render(p95)
		}
		_, _ = fmt.Fprintf(w.out, "  %-10s %8d %s\n", r.Mode, r.Samples, p95)
	}
	if targetMS > 0 {
		_, _ = fmt.Fprintf(w.out, "  %s\n", w.styles.Dim.Render(fmt.Sprintf("target %.0f ms", targetMS)))
	}
}

// Settings prints a flattened settings view, one key per line.
func (w *Writer) Settings(title string, values map[string]string) {
	w.Header(title)
	if len(values) == 0 {
		w.Status("", "(empty)")
		return
	}
	width := 0
	for k := range values {
		width = max(width, len(k))
	}
	for _, k := range sortedKeys(values) {
		_, _ = fmt.Fprintf(w.out, "  %s  %s\n", w.styles.Label.Render(fmt.Sprintf("%-*s", width, k)), values[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
