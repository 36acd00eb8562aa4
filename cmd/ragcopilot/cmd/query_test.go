package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
)

var notes = []string{
	"The kubernetes deployment was rolled back after the canary failed health checks.",
	"Quarterly budget review moved to Thursday; bring the revised spreadsheet.",
	"Incident INC-4821: login outage caused by an expired TLS certificate on the gateway.",
}

func ingestNotes(t *testing.T, dir string) {
	t.Helper()
	args := []string{"ingest"}
	for _, n := range notes {
		args = append(args, "--text", n)
	}
	mustExecute(t, dir, args...)
}

// =============================================================================
// Ingest
// =============================================================================

func TestIngestCmd_Texts(t *testing.T) {
	// Given: an empty data directory
	dir := t.TempDir()

	// When: ingesting three notes as JSON
	out := mustExecute(t, dir, "ingest", "--json",
		"--text", notes[0], "--text", notes[1], "--text", notes[2])

	// Then: sequential ids are reported
	var res service.IngestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, []string{"0", "1", "2"}, res.IDs)
}

func TestIngestCmd_FilesAndSkips(t *testing.T) {
	dir := t.TempDir()
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "runbook.md"), []byte("# Runbook\n\nRestart the gateway."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "photo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	out := mustExecute(t, dir, "ingest", filepath.Join(docs, "runbook.md"), filepath.Join(docs, "photo.png"))

	assert.Contains(t, out, "Ingested 1 chunk(s) from 1 file(s)")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "photo.png")
}

func TestIngestCmd_RequiresInput(t *testing.T) {
	_, err := execute(t, t.TempDir(), "ingest")

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, ragerrors.GetCode(err))
}

func TestIngestCmd_MissingPath(t *testing.T) {
	_, err := execute(t, t.TempDir(), "ingest", filepath.Join(t.TempDir(), "nope.md"))

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeFileNotFound, ragerrors.GetCode(err))
}

// =============================================================================
// Query
// =============================================================================

func TestQueryCmd_IdentifierFindsIncident(t *testing.T) {
	// Given: a corpus persisted by an earlier run
	dir := t.TempDir()
	ingestNotes(t, dir)

	// When: querying for an incident id in a new run
	out := mustExecute(t, dir, "query", "INC-4821")

	// Then: the incident note ranks first and the summary shows lexical boost
	assert.Contains(t, out, `Results for "INC-4821"`)
	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 1)
	assert.Contains(t, lines[1], " 1. 2 ")
	assert.Contains(t, out, "mode=hybrid")
	assert.Contains(t, out, "w_lexical=1.30")
}

func TestQueryCmd_JSONHonoursOverrides(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)

	out := mustExecute(t, dir, "query", "gateway certificate", "--top-k", "1", "--mode", "lexical", "--json")

	var resp service.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Hits, 1)
	assert.Equal(t, "lexical", resp.Metadata.RetrievalMode)
	assert.Equal(t, 1, resp.Params.TopK)
	assert.NotEmpty(t, resp.SessionID)
}

func TestQueryCmd_SetFlagAppliesToRun(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)

	out := mustExecute(t, dir, "--set", "top_k=2", "query", "health", "--json")

	var resp service.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Params.TopK)
}

func TestQueryCmd_EmptyCorpus(t *testing.T) {
	out := mustExecute(t, t.TempDir(), "query", "anything")

	assert.Contains(t, out, `No results for "anything"`)
}

func TestQueryCmd_InvalidMode(t *testing.T) {
	_, err := execute(t, t.TempDir(), "query", "x", "--mode", "semantic")

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeInvalidMode, ragerrors.GetCode(err))
}

// =============================================================================
// Documents
// =============================================================================

func TestDeleteCmd(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)

	out := mustExecute(t, dir, "delete", "1")
	assert.Contains(t, out, "Deleted 1 (2 chunk(s) remain)")

	_, err := execute(t, dir, "delete", "1")
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDocumentNotFound, ragerrors.GetCode(err))
}

func TestUpdateAndListCmd(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)

	mustExecute(t, dir, "update", "0", "Canary", "passed", "on", "retry")
	out := mustExecute(t, dir, "list", "--json")

	var entries []service.CorpusEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "Canary passed on retry", entries[0].Text)
}

func TestListCmd_Empty(t *testing.T) {
	out := mustExecute(t, t.TempDir(), "list")

	assert.Contains(t, out, "Corpus is empty")
}

func TestStatusCmd(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)

	out := mustExecute(t, dir, "status")

	assert.Contains(t, out, "Index Status")
	assert.Contains(t, out, "dense: 3 vector(s)")
	assert.Contains(t, out, "lexical: 3 document(s)")
	assert.Contains(t, out, "snapshot_size")
	assert.Contains(t, out, dir)
}
