package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

// =============================================================================
// IngestFiles
// =============================================================================

func TestIngestFiles_ChunksEveryFormat(t *testing.T) {
	// Given: text, markdown and html documents plus an unsupported csv
	dir := t.TempDir()
	src := filepath.Join(dir, "docs")
	writeFile(t, filepath.Join(src, "a.txt"), notes[0])
	writeFile(t, filepath.Join(src, "b.md"), "# Budget\n\n"+notes[1])
	writeFile(t, filepath.Join(src, "nested", "c.html"), "<p>"+notes[2]+"</p>")
	csv := filepath.Join(dir, "data.csv")
	writeFile(t, csv, "a,b,c")
	app := newTestApp(t, testOptions(filepath.Join(dir, "home")))

	// When: the directory and the csv are ingested
	res, err := app.Ingest.IngestFiles(context.Background(), []string{src, csv})

	// Then: the three documents are indexed under shared ids
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, []string{"0", "1", "2"}, res.IDs)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, csv, res.Skipped[0].Path)

	assert.Equal(t, 3, app.Lexical.Len())
	assert.ElementsMatch(t, res.IDs, app.Dense.DocIDs())
	text, ok := app.Lexical.Text("2")
	require.True(t, ok)
	assert.NotContains(t, text, "<p>")
}

func TestIngestFiles_HonoursIgnoreFiles(t *testing.T) {
	// Given: a notes tree with ignore files and a hidden directory
	dir := t.TempDir()
	src := filepath.Join(dir, "notes")
	writeFile(t, filepath.Join(src, ".gitignore"), "drafts/\n*.html\n")
	writeFile(t, filepath.Join(src, ".ragignore"), "!keep.html\n")
	writeFile(t, filepath.Join(src, "a.md"), notes[0])
	writeFile(t, filepath.Join(src, "drafts", "b.md"), notes[1])
	writeFile(t, filepath.Join(src, "page.html"), "<p>"+notes[2]+"</p>")
	writeFile(t, filepath.Join(src, "keep.html"), "<p>"+notes[2]+"</p>")
	writeFile(t, filepath.Join(src, ".obsidian", "c.md"), notes[2])
	app := newTestApp(t, testOptions(filepath.Join(dir, "home")))

	// When: the tree is ingested
	res, err := app.Ingest.IngestFiles(context.Background(), []string{src})

	// Then: only the files not excluded are indexed
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	sources := []string{}
	for _, e := range app.Ingest.Entries() {
		sources = append(sources, filepath.Base(e.Source))
	}
	assert.ElementsMatch(t, []string{"a.md", "keep.html"}, sources)
}

func TestIngestFiles_LongDocumentOverlaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long.txt")
	writeFile(t, path, words(1000))
	app := newTestApp(t, testOptions(filepath.Join(dir, "home")))

	res, err := app.Ingest.IngestFiles(context.Background(), []string{path})

	require.NoError(t, err)
	// Windows start at 0, 450 and 900.
	assert.Equal(t, 3, res.Chunks)
	entries := app.Ingest.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{entries[0].Chunk, entries[1].Chunk, entries[2].Chunk})
	assert.Equal(t, path, entries[2].Source)
}

func TestIngestFiles_MissingFile(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	_, err := app.Ingest.IngestFiles(context.Background(), []string{"/does/not/exist.txt"})

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeFileNotFound, ragerrors.GetCode(err))
	assert.Equal(t, 0, app.Lexical.Len())
}

func TestIngestFiles_LogsIngestRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, notes[0])
	app := newTestApp(t, testOptions(filepath.Join(dir, "home")))

	_, err := app.Ingest.IngestFiles(context.Background(), []string{path})
	require.NoError(t, err)

	rec, ok := app.Dashboard.Latest()
	require.True(t, ok)
	assert.Equal(t, telemetry.KindIngest, rec.Kind)
	assert.Equal(t, 1, rec.Fields["chunks"])
	// Ingest has no retrieval mode and stays out of the latency windows.
	assert.Empty(t, app.Dashboard.Modes())
}

func TestIngestTexts_EmptyInput(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	res, err := app.Ingest.IngestTexts(context.Background(), "notes", []string{"   "})

	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	assert.Empty(t, res.IDs)
}

// =============================================================================
// Document management
// =============================================================================

func TestUpdateDocument_ReplacesTextInBothIndexes(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))
	_, err := app.Ingest.IngestTexts(context.Background(), "notes", notes)
	require.NoError(t, err)

	require.NoError(t, app.Ingest.UpdateDocument(context.Background(), "1", "offsite planning retreat agenda"))

	text, _ := app.Lexical.Text("1")
	assert.Equal(t, "offsite planning retreat agenda", text)
	assert.Equal(t, 3, app.Dense.Count())
	list, _, err := app.Lexical.Query(context.Background(), "retreat", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, list.IDs())

	audit := app.Ingest.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, ActionUpdate, audit[0].Action)
	assert.Equal(t, "1", audit[0].DocID)
	assert.Equal(t, "UTC", audit[0].Timestamp.Location().String())
}

func TestDeleteDocument_RemovesFromBothIndexes(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp(t, testOptions(dir))
	_, err := app.Ingest.IngestTexts(context.Background(), "notes", notes)
	require.NoError(t, err)

	require.NoError(t, app.Ingest.DeleteDocument(context.Background(), "0"))

	assert.Equal(t, 2, app.Lexical.Len())
	assert.Equal(t, 2, app.Dense.Count())
	assert.NotContains(t, app.Dense.DocIDs(), "0")

	snap, err := LoadSnapshot(PathsIn(dir).CorpusPath())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "1", snap.Entries[0].ID)
	require.Len(t, snap.Audit, 1)
	assert.Equal(t, ActionDelete, snap.Audit[0].Action)
}

func TestDocumentManagement_UnknownID(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	err := app.Ingest.DeleteDocument(context.Background(), "42")
	assert.Equal(t, ragerrors.ErrCodeDocumentNotFound, ragerrors.GetCode(err))

	err = app.Ingest.UpdateDocument(context.Background(), "42", "x")
	assert.Equal(t, ragerrors.ErrCodeDocumentNotFound, ragerrors.GetCode(err))
	assert.Empty(t, app.Ingest.AuditLog())
}

// =============================================================================
// Health and stats
// =============================================================================

func TestHealth(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	before := app.Ingest.Health(context.Background())
	assert.True(t, before.Dense.Valid)
	assert.False(t, before.Lexical.Ready)

	_, err := app.Ingest.IngestTexts(context.Background(), "notes", notes)
	require.NoError(t, err)

	after := app.Ingest.Health(context.Background())
	assert.True(t, after.Lexical.Ready)
	assert.Equal(t, 3, after.Lexical.Documents)
	assert.Equal(t, 3, after.Dense.Vectors)
	assert.Equal(t, "okapi", after.Lexical.Backend)
}

func TestStats(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))
	_, err := app.Ingest.IngestTexts(context.Background(), "notes", notes)
	require.NoError(t, err)

	st := app.Ingest.Stats()

	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 3, st.Sources)
	assert.Equal(t, 3, st.DenseVectors)
	assert.Equal(t, 3, st.LexicalDocs)
	assert.Positive(t, st.Terms)
	assert.Positive(t, st.AvgChunkLen)
}

// =============================================================================
// Snapshot
// =============================================================================

func TestLoadSnapshot_MissingIsEmpty(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join(t.TempDir(), "corpus.json"))

	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	writeFile(t, path, "{not json")

	_, err := LoadSnapshot(path)

	assert.Equal(t, ragerrors.ErrCodeCorpusCorrupt, ragerrors.GetCode(err))
}

func TestNewApp_CorruptSnapshotFailsStartup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, PathsIn(dir).CorpusPath(), "{not json")

	_, err := NewApp(context.Background(), testOptions(dir))

	assert.Equal(t, ragerrors.ErrCodeCorpusCorrupt, ragerrors.GetCode(err))
}
