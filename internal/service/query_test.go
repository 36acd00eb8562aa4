package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
	"github.com/JackSmack1971/personal-rag-copilot/internal/tuner"
)

func seededApp(t *testing.T, opts Options) *App {
	t.Helper()
	app := newTestApp(t, opts)
	_, err := app.Ingest.IngestTexts(context.Background(), "notes", notes)
	require.NoError(t, err)
	return app
}

func slowWindow(app *App, mode string) {
	for range 5 {
		app.Dashboard.RecordLatency(mode, 5000)
	}
}

// =============================================================================
// Request validation
// =============================================================================

func TestQuery_RejectsEmptyText(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	_, err := app.Query.Query(context.Background(), QueryRequest{Text: "   "})

	assert.Equal(t, ragerrors.ErrCodeQueryEmpty, ragerrors.GetCode(err))
	assert.Empty(t, app.Dashboard.Modes(), "rejected queries are not timed")
}

func TestQuery_RejectsUnknownMode(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	_, err := app.Query.Query(context.Background(), QueryRequest{Text: "x", Mode: "semantic"})

	assert.Equal(t, ragerrors.ErrCodeInvalidMode, ragerrors.GetCode(err))
}

func TestQuery_RejectsNonPositiveTopK(t *testing.T) {
	app := newTestApp(t, testOptions(t.TempDir()))

	_, err := app.Query.Query(context.Background(), QueryRequest{Text: "x", TopK: config.Ptr(0)})

	assert.Equal(t, ragerrors.ErrCodeInvalidInput, ragerrors.GetCode(err))
}

// =============================================================================
// Parameters and metadata
// =============================================================================

func TestQuery_UsesConfiguredParameters(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.CLI = config.Settings{TopK: config.Ptr(2), RRFK: config.Ptr(30)}
	app := seededApp(t, opts)

	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "login outage", Mode: "dense"})

	require.NoError(t, err)
	assert.Len(t, resp.Hits, 2)
	assert.Equal(t, tuner.Params{TopK: 2, K: 30}, resp.Params)
	assert.Equal(t, "none", resp.Metadata.FusionMethod)
}

func TestQuery_ClampsTopKToPolicyMaximum(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.CLI = config.Settings{
		TopK:              config.Ptr(2),
		PerformancePolicy: &config.PerformancePolicy{MaxTopK: config.Ptr(3)},
	}
	app := seededApp(t, opts)

	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "the", TopK: config.Ptr(10)})

	require.NoError(t, err)
	assert.Equal(t, 3, resp.Params.TopK)
	assert.LessOrEqual(t, len(resp.Hits), 3)
}

func TestQuery_MergesMetricsAndLogsRecord(t *testing.T) {
	app := seededApp(t, testOptions(t.TempDir()))

	resp, err := app.Query.Query(context.Background(), QueryRequest{
		Text:      "INC-4821 login",
		Mode:      "lexical",
		SessionID: "s1",
	})

	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, "2", resp.Hits[0].ID)
	assert.Equal(t, "s1", resp.SessionID)

	m := resp.Metadata.Metrics
	assert.Contains(t, m, "latency_ms")
	assert.Contains(t, m, "p95_ms")
	assert.Contains(t, m, "heap_alloc_mb")
	assert.Equal(t, "lexical", m["mode"])
	assert.Equal(t, 5, m["top_k"])

	assert.Len(t, app.Dashboard.Samples("lexical"), 1)
	rec, ok := app.Dashboard.Latest()
	require.True(t, ok)
	assert.Equal(t, telemetry.KindQuery, rec.Kind)
	assert.Equal(t, "lexical", rec.Mode)
}

func TestQuery_GeneratesSessionIDs(t *testing.T) {
	app := seededApp(t, testOptions(t.TempDir()))

	a, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)
	b, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)

	assert.Len(t, a.SessionID, 36)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestQuery_RerankOverride(t *testing.T) {
	app := seededApp(t, testOptions(t.TempDir()))

	resp, err := app.Query.Query(context.Background(), QueryRequest{
		Text:         "expired certificate",
		EnableRerank: config.Ptr(true),
		SessionID:    "s1",
	})

	require.NoError(t, err)
	assert.True(t, resp.Metadata.Reranked)
	assert.True(t, resp.Params.EnableRerank)
	assert.Equal(t, "2", resp.Hits[0].ID)
}

// =============================================================================
// Auto-tuning
// =============================================================================

func TestQuery_TunerStepPersistsToRuntimeLayer(t *testing.T) {
	// Given: a hybrid window far above the 2000 ms target
	app := seededApp(t, testOptions(t.TempDir()))
	slowWindow(app, "hybrid")

	// When: two queries run
	first, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)
	second, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)

	// Then: top_k drops one step per query and the drop is committed
	assert.Equal(t, 4, first.Params.TopK)
	assert.Equal(t, 3, second.Params.TopK)
	assert.Equal(t, 3, *app.Config.Layer(config.LayerRuntime).TopK)
	assert.Equal(t, 3, *app.Config.Resolved().TopK)
}

func TestQuery_TunerLeavesExplicitOverrideAlone(t *testing.T) {
	// Given: a slow window that would lower top_k
	app := seededApp(t, testOptions(t.TempDir()))
	slowWindow(app, "hybrid")

	// When: the request pins top_k itself
	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget", TopK: config.Ptr(5)})

	// Then: the pinned value is used and nothing is committed
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Params.TopK)
	assert.Nil(t, app.Config.Layer(config.LayerRuntime).TopK)
	assert.Equal(t, 5, *app.Config.Resolved().TopK)
}

func TestQuery_TunerRespectsLocks(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.CLI = config.Settings{TunerLocks: []string{tuner.ParamTopK}}
	app := seededApp(t, opts)
	slowWindow(app, "dense")

	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget", Mode: "dense"})

	require.NoError(t, err)
	assert.Equal(t, 5, resp.Params.TopK)
	assert.Equal(t, 50, resp.Params.K)
	assert.Equal(t, 50, *app.Config.Resolved().RRFK)
}

func TestQuery_TunerOffWhenDisabled(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.CLI = config.Settings{PerformancePolicy: &config.PerformancePolicy{AutoTuneEnabled: config.Ptr(false)}}
	app := seededApp(t, opts)
	slowWindow(app, "hybrid")

	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})

	require.NoError(t, err)
	assert.Equal(t, 5, resp.Params.TopK)
	assert.Equal(t, 1, app.Config.Version())
}

func TestQuery_ResetRestoresTunedValues(t *testing.T) {
	app := seededApp(t, testOptions(t.TempDir()))
	slowWindow(app, "hybrid")
	_, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)
	require.Equal(t, 4, *app.Config.Resolved().TopK)

	require.NoError(t, app.ResetMetrics())
	require.NoError(t, app.ResetRuntime())

	resp, err := app.Query.Query(context.Background(), QueryRequest{Text: "budget"})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Params.TopK)
}
