package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultRerankCacheTTL bounds how long a session's reranked order is reused.
	DefaultRerankCacheTTL = 300 * time.Second

	// DefaultRerankDepth is the number of fused candidates sent to the scorer.
	DefaultRerankDepth = 20

	// DefaultPerDocCost is the scorer's estimated cost per candidate.
	DefaultPerDocCost = 50 * time.Millisecond

	// DefaultRerankTimeout applies when a call passes no timeout.
	DefaultRerankTimeout = time.Second

	defaultRerankCacheSize = 1024
)

// Fallback reasons reported in RerankMetadata.Fallback.
const (
	FallbackBudget  = "budget"
	FallbackTimeout = "timeout"
	FallbackError   = "error"
)

// RerankerConfig tunes a Reranker. Zero fields take defaults.
type RerankerConfig struct {
	CacheTTL   time.Duration
	CacheSize  int
	Depth      int
	PerDocCost time.Duration
}

// RerankMetadata describes one Rerank call.
type RerankMetadata struct {
	Reranked  bool   `json:"reranked"`
	LatencyMS int64  `json:"latency_ms"`
	Cached    bool   `json:"cached"`
	Fallback  string `json:"fallback,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Reranker reorders fused candidates with a relevance Scorer.
//
// Scoring runs on a single background worker under a hard timeout that
// includes any wait for the worker. Anything that goes wrong (budget,
// timeout, scorer error or panic) returns the candidates in their original order truncated to topK, with
// Reranked false. Successful orders are cached per (session, query,
// candidate ids) for CacheTTL.
type Reranker struct {
	scorer Scorer
	cfg    RerankerConfig
	cache  atomic.Pointer[expirable.LRU[string, []RetrievalHit]]
	pool   *ants.Pool

	// slot holds one token while a scorer call runs, including one whose
	// caller already timed out. Callers queue on it within their timeout.
	slot chan struct{}
}

// NewReranker creates a reranker around scorer.
func NewReranker(scorer Scorer, cfg RerankerConfig) (*Reranker, error) {
	if scorer == nil {
		return nil, errors.New("reranker requires a scorer")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultRerankCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultRerankCacheSize
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultRerankDepth
	}
	if cfg.PerDocCost <= 0 {
		cfg.PerDocCost = DefaultPerDocCost
	}

	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank worker: %w", err)
	}
	r := &Reranker{
		scorer: scorer,
		cfg:    cfg,
		pool:   pool,
		slot:   make(chan struct{}, 1),
	}
	r.cache.Store(expirable.NewLRU[string, []RetrievalHit](cfg.CacheSize, nil, cfg.CacheTTL))
	return r, nil
}

func rerankCacheKey(sessionID, query string, ids []string) string {
	return sessionID + "\x00" + query + "\x00" + strings.Join(ids, "\x1f")
}

type scoreResult struct {
	scores []float64
	err    error
}

// Rerank scores up to Depth candidates against query and returns the best
// topK. It never fails; see RerankMetadata for what happened.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []RetrievalHit, topK int, sessionID string, timeout time.Duration) ([]RetrievalHit, RerankMetadata) {
	start := time.Now()
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}

	top := candidates
	if len(top) > r.cfg.Depth {
		top = top[:r.cfg.Depth]
	}
	ids := make([]string, len(top))
	for i, c := range top {
		ids[i] = c.ID
	}
	key := rerankCacheKey(sessionID, query, ids)

	if hit, ok := r.cache.Load().Get(key); ok {
		return truncate(clone(hit), topK), RerankMetadata{
			Reranked: true, Cached: true, LatencyMS: time.Since(start).Milliseconds(),
		}
	}

	fallback := func(reason string, err error) ([]RetrievalHit, RerankMetadata) {
		meta := RerankMetadata{Fallback: reason, LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			meta.Error = err.Error()
		}
		if reason != FallbackBudget {
			slog.Warn("rerank fallback",
				slog.String("reason", reason),
				slog.Int("candidates", len(top)),
				slog.Int64("latency_ms", meta.LatencyMS),
				slog.Any("error", err))
		}
		return truncate(clone(top), topK), meta
	}

	if len(top) == 0 {
		return []RetrievalHit{}, RerankMetadata{LatencyMS: time.Since(start).Milliseconds()}
	}
	if eta := time.Duration(len(top)) * r.cfg.PerDocCost; eta > timeout {
		return fallback(FallbackBudget, nil)
	}

	texts := make([]string, len(top))
	for i, c := range top {
		texts[i] = c.Text
	}

	scoreCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case r.slot <- struct{}{}:
	case <-scoreCtx.Done():
		return fallback(FallbackTimeout, scoreCtx.Err())
	}
	done := make(chan scoreResult, 1)
	err := r.pool.Submit(func() {
		var res scoreResult
		defer func() {
			if p := recover(); p != nil {
				res = scoreResult{err: fmt.Errorf("scorer panic: %v", p)}
			}
			done <- res
			<-r.slot
		}()
		res.scores, res.err = r.scorer.Score(scoreCtx, query, texts)
	})
	if err != nil {
		<-r.slot
		return fallback(FallbackError, err)
	}

	var res scoreResult
	select {
	case res = <-done:
	case <-scoreCtx.Done():
		return fallback(FallbackTimeout, scoreCtx.Err())
	}
	if res.err != nil {
		return fallback(FallbackError, res.err)
	}
	if len(res.scores) != len(top) {
		return fallback(FallbackError, fmt.Errorf("scorer returned %d scores for %d candidates", len(res.scores), len(top)))
	}

	ranked := clone(top)
	for i := range ranked {
		ranked[i].Score = res.scores[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	r.cache.Load().Add(key, ranked)

	return truncate(clone(ranked), topK), RerankMetadata{
		Reranked: true, LatencyMS: time.Since(start).Milliseconds(),
	}
}

// ClearCache drops all cached orders.
func (r *Reranker) ClearCache() { r.cache.Load().Purge() }

// SetCacheTTL replaces the cache with one using ttl. Cached orders are
// dropped; a non-positive ttl restores the default.
func (r *Reranker) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultRerankCacheTTL
	}
	old := r.cache.Swap(expirable.NewLRU[string, []RetrievalHit](r.cfg.CacheSize, nil, ttl))
	old.Purge()
}

// Close stops the worker.
func (r *Reranker) Close() error {
	r.pool.Release()
	return nil
}

func clone(hits []RetrievalHit) []RetrievalHit {
	return append([]RetrievalHit(nil), hits...)
}

func truncate(hits []RetrievalHit, topK int) []RetrievalHit {
	if topK >= 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}
