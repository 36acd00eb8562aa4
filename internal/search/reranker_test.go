package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(n int) []RetrievalHit {
	hits := make([]RetrievalHit, n)
	for i := range hits {
		hits[i] = RetrievalHit{
			ID:     fmt.Sprintf("%d", i),
			Score:  1 / float64(i+1),
			Source: SourceDense,
			Text:   fmt.Sprintf("text %d", i),
		}
	}
	return hits
}

// reverseScorer ranks later candidates higher and counts calls.
func reverseScorer(calls *atomic.Int32) Scorer {
	return ScorerFunc(func(_ context.Context, _ string, texts []string) ([]float64, error) {
		calls.Add(1)
		scores := make([]float64, len(texts))
		for i := range scores {
			scores[i] = float64(i)
		}
		return scores, nil
	})
}

func newTestReranker(t *testing.T, s Scorer, cfg RerankerConfig) *Reranker {
	t.Helper()
	r, err := NewReranker(s, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func ids(hits []RetrievalHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

// ============================================================================
// Construction
// ============================================================================

func TestNewReranker_NilScorer(t *testing.T) {
	_, err := NewReranker(nil, RerankerConfig{})
	assert.Error(t, err)
}

// ============================================================================
// Rerank
// ============================================================================

func TestRerank_ReordersAndTruncates(t *testing.T) {
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})

	got, meta := r.Rerank(context.Background(), "q", candidates(5), 3, "s1", time.Second)

	assert.True(t, meta.Reranked)
	assert.False(t, meta.Cached)
	assert.Empty(t, meta.Fallback)
	assert.Equal(t, []string{"4", "3", "2"}, ids(got))
	assert.Equal(t, 4.0, got[0].Score)
	assert.Equal(t, "text 4", got[0].Text)
}

func TestRerank_CacheReturnsSameOrder(t *testing.T) {
	// Given: a reranker that has scored a query once
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})
	first, _ := r.Rerank(context.Background(), "q", candidates(5), 5, "s1", time.Second)

	// When: the same session repeats the query over the same candidates
	second, meta := r.Rerank(context.Background(), "q", candidates(5), 5, "s1", time.Second)

	// Then: the order is served from cache without scoring again
	assert.True(t, meta.Cached)
	assert.True(t, meta.Reranked)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRerank_CacheKeyedBySessionAndCandidates(t *testing.T) {
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})
	ctx := context.Background()

	_, _ = r.Rerank(ctx, "q", candidates(5), 5, "s1", time.Second)
	_, meta := r.Rerank(ctx, "q", candidates(5), 5, "s2", time.Second)
	assert.False(t, meta.Cached)

	_, meta = r.Rerank(ctx, "q", candidates(4), 5, "s1", time.Second)
	assert.False(t, meta.Cached)

	_, meta = r.Rerank(ctx, "other", candidates(5), 5, "s1", time.Second)
	assert.False(t, meta.Cached)
	assert.EqualValues(t, 4, calls.Load())

	r.ClearCache()
	_, meta = r.Rerank(ctx, "q", candidates(5), 5, "s1", time.Second)
	assert.False(t, meta.Cached)
}

func TestRerank_CacheExpires(t *testing.T) {
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{CacheTTL: 20 * time.Millisecond})

	_, _ = r.Rerank(context.Background(), "q", candidates(3), 3, "s", time.Second)
	time.Sleep(60 * time.Millisecond)
	_, meta := r.Rerank(context.Background(), "q", candidates(3), 3, "s", time.Second)

	assert.False(t, meta.Cached)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRerank_BudgetFallback(t *testing.T) {
	// Given: 20 candidates at 50ms each against a 500ms budget
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})
	in := candidates(20)

	// When
	got, meta := r.Rerank(context.Background(), "q", in, 5, "s", 500*time.Millisecond)

	// Then: the scorer is never called and the fused order is kept
	assert.False(t, meta.Reranked)
	assert.Equal(t, FallbackBudget, meta.Fallback)
	assert.Equal(t, in[:5], got)
	assert.Zero(t, calls.Load())
}

func TestRerank_OnlyDepthCandidatesScored(t *testing.T) {
	var seen atomic.Int32
	s := ScorerFunc(func(_ context.Context, _ string, texts []string) ([]float64, error) {
		seen.Store(int32(len(texts)))
		return make([]float64, len(texts)), nil
	})
	r := newTestReranker(t, s, RerankerConfig{Depth: 4, PerDocCost: time.Millisecond})

	got, meta := r.Rerank(context.Background(), "q", candidates(10), 10, "s", time.Second)
	require.True(t, meta.Reranked)
	assert.EqualValues(t, 4, seen.Load())
	assert.Len(t, got, 4)
}

func TestRerank_TimeoutFallback(t *testing.T) {
	// Given: a scorer slower than the timeout
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := ScorerFunc(func(ctx context.Context, _ string, texts []string) ([]float64, error) {
		<-release
		return make([]float64, len(texts)), nil
	})
	r := newTestReranker(t, s, RerankerConfig{PerDocCost: time.Millisecond})
	in := candidates(3)

	// When
	start := time.Now()
	got, meta := r.Rerank(context.Background(), "q", in, 2, "s", 50*time.Millisecond)

	// Then: the call returns near the deadline with the fused order
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, meta.Reranked)
	assert.Equal(t, FallbackTimeout, meta.Fallback)
	assert.Equal(t, in[:2], got)

	// And: a second call queued behind the stuck scorer times out too
	_, meta = r.Rerank(context.Background(), "q2", in, 2, "s", 50*time.Millisecond)
	assert.Equal(t, FallbackTimeout, meta.Fallback)
}

func TestRerank_ConcurrentCallsQueueWithinTimeout(t *testing.T) {
	// Given: a scorer taking 100ms and a generous timeout
	var calls atomic.Int32
	s := ScorerFunc(func(_ context.Context, _ string, texts []string) ([]float64, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		scores := make([]float64, len(texts))
		for i := range scores {
			scores[i] = float64(i)
		}
		return scores, nil
	})
	r := newTestReranker(t, s, RerankerConfig{PerDocCost: time.Millisecond})

	// When: two calls arrive together
	metas := make([]RerankMetadata, 2)
	var wg sync.WaitGroup
	for i := range metas {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, metas[i] = r.Rerank(context.Background(), fmt.Sprintf("q%d", i), candidates(3), 3, "s", 2*time.Second)
		}()
	}
	wg.Wait()

	// Then: both are reranked, one after the other
	for i, m := range metas {
		assert.True(t, m.Reranked, "call %d fell back: %s", i, m.Fallback)
		assert.Empty(t, m.Fallback)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestRerank_SetCacheTTLDropsCachedOrders(t *testing.T) {
	// Given: a cached order
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{PerDocCost: time.Millisecond})
	in := candidates(3)
	_, meta := r.Rerank(context.Background(), "q", in, 3, "s", time.Second)
	require.True(t, meta.Reranked)

	// When: the TTL changes
	r.SetCacheTTL(time.Minute)

	// Then: the next call scores again and is cached afresh
	_, meta = r.Rerank(context.Background(), "q", in, 3, "s", time.Second)
	assert.False(t, meta.Cached)
	_, meta = r.Rerank(context.Background(), "q", in, 3, "s", time.Second)
	assert.True(t, meta.Cached)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRerank_ScorerErrorFallback(t *testing.T) {
	s := ScorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("model exploded")
	})
	r := newTestReranker(t, s, RerankerConfig{})
	in := candidates(3)

	got, meta := r.Rerank(context.Background(), "q", in, 3, "s", time.Second)
	assert.False(t, meta.Reranked)
	assert.Equal(t, FallbackError, meta.Fallback)
	assert.Contains(t, meta.Error, "model exploded")
	assert.Equal(t, in, got)

	// Failures are not cached.
	_, meta = r.Rerank(context.Background(), "q", in, 3, "s", time.Second)
	assert.False(t, meta.Cached)
}

func TestRerank_ScorerPanicFallback(t *testing.T) {
	s := ScorerFunc(func(context.Context, string, []string) ([]float64, error) {
		panic("boom")
	})
	r := newTestReranker(t, s, RerankerConfig{})

	_, meta := r.Rerank(context.Background(), "q", candidates(2), 2, "s", time.Second)
	assert.Equal(t, FallbackError, meta.Fallback)
	assert.Contains(t, meta.Error, "boom")

	// The worker is free again afterwards.
	_, meta = r.Rerank(context.Background(), "q", candidates(2), 2, "s", time.Second)
	assert.Equal(t, FallbackError, meta.Fallback)
}

func TestRerank_WrongScoreCount(t *testing.T) {
	s := ScorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return []float64{1}, nil
	})
	r := newTestReranker(t, s, RerankerConfig{})

	_, meta := r.Rerank(context.Background(), "q", candidates(3), 3, "s", time.Second)
	assert.Equal(t, FallbackError, meta.Fallback)
}

func TestRerank_EmptyCandidates(t *testing.T) {
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})

	got, meta := r.Rerank(context.Background(), "q", nil, 5, "s", time.Second)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.False(t, meta.Reranked)
	assert.Zero(t, calls.Load())
}

func TestRerank_DoesNotModifyCandidates(t *testing.T) {
	var calls atomic.Int32
	r := newTestReranker(t, reverseScorer(&calls), RerankerConfig{})
	in := candidates(4)
	before := append([]RetrievalHit(nil), in...)

	_, _ = r.Rerank(context.Background(), "q", in, 4, "s", time.Second)
	assert.Equal(t, before, in)
}
