package cmd

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type metricsJSON struct {
	Modes []struct {
		Mode    string  `json:"mode"`
		Samples int     `json:"samples"`
		P95MS   float64 `json:"p95_ms"`
	} `json:"modes"`
	TargetP95MS     float64 `json:"target_p95_ms"`
	AutoTuneEnabled bool    `json:"auto_tune_enabled"`
}

func TestMetricsCmd_NoSamples(t *testing.T) {
	out := mustExecute(t, t.TempDir(), "metrics")

	assert.Contains(t, out, "No latency samples recorded yet.")
}

func TestMetricsCmd_ReadsPersistedSamples(t *testing.T) {
	// Given: queries run in earlier processes
	dir := t.TempDir()
	ingestNotes(t, dir)
	mustExecute(t, dir, "query", "budget review")
	mustExecute(t, dir, "query", "INC-4821", "--mode", "lexical")

	// When: reading metrics
	out := mustExecute(t, dir, "metrics", "--json")

	// Then: each mode reports its samples; ingest is not a mode
	var m metricsJSON
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Len(t, m.Modes, 2)
	assert.Equal(t, "hybrid", m.Modes[0].Mode)
	assert.Equal(t, 1, m.Modes[0].Samples)
	assert.Equal(t, "lexical", m.Modes[1].Mode)
	assert.Equal(t, float64(2000), m.TargetP95MS)
	assert.True(t, m.AutoTuneEnabled)

	text := mustExecute(t, dir, "metrics")
	assert.Contains(t, text, "Latency (p95)")
	assert.Contains(t, text, "target 2000 ms")
}

func TestMetricsResetCmd(t *testing.T) {
	dir := t.TempDir()
	ingestNotes(t, dir)
	mustExecute(t, dir, "query", "budget review")

	out := mustExecute(t, dir, "metrics", "reset")
	assert.Contains(t, out, "Latency samples cleared")

	var m metricsJSON
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, dir, "metrics", "--json")), &m))
	assert.Empty(t, m.Modes)
}
