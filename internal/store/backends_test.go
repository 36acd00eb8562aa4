package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBackends returns every keyword backend, in memory.
func newBackends(t *testing.T) map[string]BM25Index {
	t.Helper()
	out := map[string]BM25Index{}
	for _, name := range []string{BackendOkapi, BackendBleve, BackendSQLite} {
		idx, err := NewBM25Index(name, "", "test", DefaultBM25Config())
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = idx.Close() })
		out[name] = idx
	}
	return out
}

// =============================================================================
// Shared backend behaviour
// =============================================================================

func TestBackends_SearchFindsSharedTerms(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Given: a small corpus
			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "0", Content: "The quarterly budget report for ACME-42"},
				{ID: "1", Content: "Notes about the garden and tomatoes"},
				{ID: "2", Content: "Budget planning for the garden"},
			}))

			// When: searching for a term in two documents
			res, err := idx.Search(ctx, "budget", 10)

			// Then: both are returned with positive scores
			require.NoError(t, err)
			got := map[string]bool{}
			for _, r := range res {
				got[r.DocID] = true
				assert.Greater(t, r.Score, 0.0)
				assert.Contains(t, r.MatchedTerms, "budget")
			}
			assert.Equal(t, map[string]bool{"0": true, "2": true}, got)

			// And: any shared term is enough
			res, err = idx.Search(ctx, "tomatoes budget", 10)
			require.NoError(t, err)
			assert.Len(t, res, 3)
		})
	}
}

func TestBackends_ReplaceDeleteAndIDs(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "0", Content: "alpha"},
				{ID: "1", Content: "beta"},
			}))
			require.NoError(t, idx.Index(ctx, []*Document{{ID: "1", Content: "gamma"}}))
			require.NoError(t, idx.Delete(ctx, []string{"0"}))

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.Equal(t, []string{"1"}, ids)
			assert.Equal(t, 1, idx.Stats().DocumentCount)

			res, err := idx.Search(ctx, "beta", 5)
			require.NoError(t, err)
			assert.Empty(t, res)
		})
	}
}

func TestBackends_EmptyQueryAndClose(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			res, err := idx.Search(context.Background(), "   ", 5)
			require.NoError(t, err)
			assert.Empty(t, res)

			require.NoError(t, idx.Close())
			require.NoError(t, idx.Close())
			_, err = idx.Search(context.Background(), "x", 5)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLiteBM25Index_QuotesUserInput(t *testing.T) {
	idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Index(context.Background(), []*Document{{ID: "0", Content: "near and or not"}}))

	res, err := idx.Search(context.Background(), `NEAR(" OR AND`, 5)

	require.NoError(t, err)
	assert.Len(t, res, 1)
}

// =============================================================================
// Persistence
// =============================================================================

func TestBackends_PersistentReopen(t *testing.T) {
	for _, backend := range []string{BackendBleve, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			idx, err := NewBM25Index(backend, dir, "lexical", DefaultBM25Config())
			require.NoError(t, err)
			require.NoError(t, idx.Index(context.Background(), []*Document{{ID: "0", Content: "persisted words"}}))
			require.NoError(t, idx.Close())

			idx, err = NewBM25Index(backend, dir, "lexical", DefaultBM25Config())
			require.NoError(t, err)
			defer idx.Close()

			res, err := idx.Search(context.Background(), "persisted", 5)
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "0", res[0].DocID)
		})
	}
}

func TestNewBM25Index_Unknown(t *testing.T) {
	_, err := NewBM25Index("lucene", "", "x", DefaultBM25Config())
	assert.Error(t, err)
}

func TestIndexPath(t *testing.T) {
	assert.Equal(t, "", IndexPath("", "lex", BackendSQLite))
	assert.Equal(t, "", IndexPath("/data", "lex", BackendOkapi))
	assert.Equal(t, filepath.Join("/data", "lex.db"), IndexPath("/data", "lex", BackendSQLite))
	assert.Equal(t, filepath.Join("/data", "lex.bleve"), IndexPath("/data", "lex", BackendBleve))
}
