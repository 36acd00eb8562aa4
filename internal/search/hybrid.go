package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/JackSmack1971/personal-rag-copilot/internal/retrieval"
)

const (
	// DefaultBranchTimeout bounds both first-stage queries of a hybrid call.
	DefaultBranchTimeout = 10 * time.Second

	defaultTopK = 5
)

// LexicalSearcher is the keyword retriever: it ranks, reports IDF for the
// query analyzer and resolves ids to text for snippets.
type LexicalSearcher interface {
	retrieval.Searcher
	IDFSource
	Text(id string) (string, bool)
}

// QueryRequest is one retrieval call. Zero TopK and K take defaults; zero
// weights become 1.
type QueryRequest struct {
	Text         string
	Mode         Mode
	TopK         int
	K            int
	WDense       float64
	WLexical     float64
	EnableRerank bool
	SessionID    string
	// Timeout bounds reranking.
	Timeout time.Duration
}

// HybridOption configures a HybridRetriever.
type HybridOption func(*HybridRetriever)

// WithBranchTimeout sets the shared deadline for the two retriever branches.
func WithBranchTimeout(d time.Duration) HybridOption {
	return func(h *HybridRetriever) {
		if d > 0 {
			h.branchTimeout = d
		}
	}
}

// WithDefaultMode sets the mode used when a request has none.
func WithDefaultMode(m Mode) HybridOption {
	return func(h *HybridRetriever) { h.defaultMode = m }
}

// HybridRetriever runs dense, lexical or fused retrieval for a query.
type HybridRetriever struct {
	dense    retrieval.Searcher
	lexical  LexicalSearcher
	reranker *Reranker

	pool          *ants.Pool
	branchTimeout time.Duration
	defaultMode   Mode
}

// NewHybridRetriever wires the retrievers. reranker may be nil, in which
// case EnableRerank is ignored.
func NewHybridRetriever(dense retrieval.Searcher, lexical LexicalSearcher, reranker *Reranker, opts ...HybridOption) (*HybridRetriever, error) {
	if dense == nil || lexical == nil {
		return nil, fmt.Errorf("hybrid retriever: %w", retrieval.ErrNilDependency)
	}
	pool, err := ants.NewPool(2)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch pool: %w", err)
	}
	h := &HybridRetriever{
		dense:         dense,
		lexical:       lexical,
		reranker:      reranker,
		pool:          pool,
		branchTimeout: DefaultBranchTimeout,
		defaultMode:   ModeHybrid,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type branchResult struct {
	name string
	list retrieval.RankedList
	err  error
}

// Query runs req. Retriever failures never fail the call: the branch
// contributes nothing and the error lands in BranchErrors. The only errors
// returned are for invalid requests.
func (h *HybridRetriever) Query(ctx context.Context, req QueryRequest) ([]RetrievalHit, QueryMetadata, error) {
	mode := req.Mode
	if mode == "" {
		mode = h.defaultMode
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, QueryMetadata{}, err
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	if req.WDense == 0 {
		req.WDense = 1
	}
	if req.WLexical == 0 {
		req.WLexical = 1
	}

	meta := newQueryMetadata(mode)
	switch mode {
	case ModeDense:
		return h.single(ctx, SourceDense, h.dense, req, meta), meta, nil
	case ModeLexical:
		return h.single(ctx, SourceLexical, h.lexical, req, meta), meta, nil
	}

	depth := req.TopK
	if req.EnableRerank {
		depth = max(DefaultRerankDepth, req.TopK)
	}

	results := h.runBranches(ctx, req.Text, depth)
	lists := make([]NamedList, 0, 2)
	for _, name := range []string{SourceDense, SourceLexical} {
		r := results[name]
		if r.err != nil {
			slog.Warn("retrieval branch failed",
				slog.String("branch", name),
				slog.String("error", r.err.Error()))
			meta.BranchErrors[name] = r.err.Error()
		}
		lists = append(lists, NamedList{Name: name, List: r.list})
	}

	weights, analysis := Analyze(req.Text, h.lexical, Weights{Dense: req.WDense, Lexical: req.WLexical})
	fused := Fuse(lists, req.K, weights.Map())

	meta.Weights = fused.Metadata.Weights
	meta.ComponentScores = fused.Metadata.ComponentScores
	meta.FusionMethod = fused.Metadata.Method
	meta.Analysis = analysis

	hits := h.attachText(fused.Ranking)
	if req.EnableRerank && h.reranker != nil {
		ranked, rmeta := h.reranker.Rerank(ctx, req.Text, truncate(hits, depth), req.TopK, req.SessionID, req.Timeout)
		meta.Reranked = rmeta.Reranked
		meta.Cached = rmeta.Cached
		meta.RerankLatencyMS = rmeta.LatencyMS
		return ranked, meta, nil
	}
	return truncate(hits, req.TopK), meta, nil
}

// single serves dense-only and lexical-only modes.
func (h *HybridRetriever) single(ctx context.Context, name string, s retrieval.Searcher, req QueryRequest, meta QueryMetadata) []RetrievalHit {
	list, _, err := s.Query(ctx, req.Text, req.TopK)
	if err != nil {
		slog.Warn("retrieval branch failed",
			slog.String("branch", name),
			slog.String("error", err.Error()))
		meta.BranchErrors[name] = err.Error()
		list = nil
	}
	weight := req.WDense
	if name == SourceLexical {
		weight = req.WLexical
	}
	meta.Weights[name] = weight
	for id, m := range componentScores(NamedList{Name: name, List: list}) {
		meta.ComponentScores[id] = m
	}

	hits := make([]RetrievalHit, len(list))
	for i, r := range list {
		hits[i] = RetrievalHit{ID: r.ID, Score: r.Score, Source: name}
	}
	return h.attachText(hits)
}

// runBranches queries both retrievers on the pool under one deadline. A
// branch still running, or still waiting for a worker, at the deadline is
// reported as failed; its late result is dropped.
func (h *HybridRetriever) runBranches(ctx context.Context, text string, depth int) map[string]branchResult {
	ctx, cancel := context.WithTimeout(ctx, h.branchTimeout)
	defer cancel()

	// Each branch sends exactly once, so a late sender never blocks.
	ch := make(chan branchResult, 2)
	pending := map[string]retrieval.Searcher{SourceDense: h.dense, SourceLexical: h.lexical}
	for name, s := range pending {
		// Submit blocks while the shared pool is busy with other requests.
		go func() {
			err := h.pool.Submit(func() {
				defer func() {
					if p := recover(); p != nil {
						ch <- branchResult{name: name, err: fmt.Errorf("panic: %v", p)}
					}
				}()
				if err := ctx.Err(); err != nil {
					ch <- branchResult{name: name, err: err}
					return
				}
				list, _, err := s.Query(ctx, text, depth)
				ch <- branchResult{name: name, list: list, err: err}
			})
			if err != nil {
				ch <- branchResult{name: name, err: err}
			}
		}()
	}

	out := make(map[string]branchResult, 2)
	for len(out) < 2 {
		select {
		case r := <-ch:
			if r.err != nil {
				r.list = nil
			}
			out[r.name] = r
		case <-ctx.Done():
			for name := range pending {
				if _, ok := out[name]; !ok {
					out[name] = branchResult{name: name, err: errors.Join(errBranchDeadline, ctx.Err())}
				}
			}
		}
	}
	return out
}

var errBranchDeadline = errors.New("branch deadline exceeded")

func (h *HybridRetriever) attachText(hits []RetrievalHit) []RetrievalHit {
	for i := range hits {
		hits[i].Text, _ = h.lexical.Text(hits[i].ID)
	}
	return hits
}

// Close stops the branch pool and the reranker.
func (h *HybridRetriever) Close() error {
	h.pool.Release()
	if h.reranker != nil {
		return h.reranker.Close()
	}
	return nil
}
