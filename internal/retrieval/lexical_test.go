package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSmack1971/personal-rag-copilot/internal/store"
)

func newLexical(t *testing.T, backend string) *LexicalIndex {
	t.Helper()
	l, err := NewLexicalIndex(LexicalConfig{Backend: backend, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

var corpus = []string{
	"the cat sat on the mat",
	"dogs chase cats in the park",
	"ticket JIRA-1234 tracks the login bug",
}

// ============================================================================
// LexicalIndex
// ============================================================================

func TestLexicalIndex_IndexDocumentsAssignsSequentialIDs(t *testing.T) {
	l := newLexical(t, store.BackendOkapi)
	ctx := context.Background()

	ids, meta, err := l.IndexDocuments(ctx, corpus[:2])
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids)
	assert.Equal(t, 2, meta["count"])

	ids, _, err = l.IndexDocuments(ctx, corpus[2:])
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
	assert.Equal(t, corpus, l.Documents())
	assert.Equal(t, []string{"0", "1", "2"}, l.DocIDs())
}

func TestLexicalIndex_QueryEmpty(t *testing.T) {
	l := newLexical(t, store.BackendOkapi)
	list, meta, err := l.Query(context.Background(), "cat", 5)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, "empty", meta["status"])
}

func TestLexicalIndex_QueryAllBackends(t *testing.T) {
	for _, backend := range []string{store.BackendOkapi, store.BackendBleve, store.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			// Given: a small corpus
			l := newLexical(t, backend)
			_, _, err := l.IndexDocuments(context.Background(), corpus)
			require.NoError(t, err)

			// When: querying a term in one document
			list, meta, err := l.Query(context.Background(), "login", 5)

			// Then: only that document comes back
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "2", list[0].ID)
			assert.Greater(t, list[0].Score, 0.0)
			assert.Equal(t, backend, meta["backend"])
		})
	}
}

func TestLexicalIndex_IDFIsBackendIndependent(t *testing.T) {
	okapi := newLexical(t, store.BackendOkapi)
	bleve := newLexical(t, store.BackendBleve)
	for _, l := range []*LexicalIndex{okapi, bleve} {
		_, _, err := l.IndexDocuments(context.Background(), corpus)
		require.NoError(t, err)
	}

	assert.Greater(t, okapi.IDF("login"), 0.0)
	assert.Equal(t, okapi.IDF("login"), bleve.IDF("login"))
	assert.Zero(t, okapi.IDF("unseen"))
}

func TestLexicalIndex_Text(t *testing.T) {
	l := newLexical(t, store.BackendOkapi)
	_, _, err := l.IndexDocuments(context.Background(), corpus)
	require.NoError(t, err)

	text, ok := l.Text("1")
	assert.True(t, ok)
	assert.Equal(t, corpus[1], text)

	_, ok = l.Text("99")
	assert.False(t, ok)
}

func TestLexicalIndex_DeleteKeepsIDsStable(t *testing.T) {
	l := newLexical(t, store.BackendSQLite)
	ctx := context.Background()
	_, _, err := l.IndexDocuments(ctx, corpus)
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, []string{"1"}))
	assert.Equal(t, []string{"0", "2"}, l.DocIDs())
	assert.Equal(t, []string{corpus[0], corpus[2]}, l.Documents())
	assert.Equal(t, 2, l.Stats().DocumentCount)

	list, _, err := l.Query(ctx, "dogs", 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	// New ids continue after the highest ever assigned.
	ids, _, err := l.IndexDocuments(ctx, []string{"new"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids)
}

func TestLexicalIndex_AddRestoresIDs(t *testing.T) {
	l := newLexical(t, store.BackendOkapi)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, []string{"5", "9"}, []string{"alpha", "beta"}))
	ids, _, err := l.IndexDocuments(ctx, []string{"gamma"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, ids)

	require.NoError(t, l.Add(ctx, []string{"5"}, []string{"alpha two"}))
	text, _ := l.Text("5")
	assert.Equal(t, "alpha two", text)
	assert.Equal(t, 3, l.Len())

	err = l.Add(ctx, []string{"1"}, nil)
	assert.Error(t, err)
}

func TestNewLexicalIndex_UnknownBackend(t *testing.T) {
	_, err := NewLexicalIndex(LexicalConfig{Backend: "lucene"})
	assert.Error(t, err)
}
