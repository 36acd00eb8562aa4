package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00.000Z","level":"INFO","msg":"tool started","tool":"query"}
{"time":"2026-03-01T10:00:00.120Z","level":"DEBUG","msg":"fused","candidates":12}
not json at all
{"time":"2026-03-01T10:00:01.000Z","level":"WARN","msg":"rerank skipped","reason":"timeout","tool":"query"}
{"time":"2026-03-01T10:00:02.000Z","level":"ERROR","msg":"tool failed","tool":"ingest"}
`

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestParseLine(t *testing.T) {
	e := ParseLine(`{"time":"2026-03-01T10:00:00.5Z","level":"INFO","msg":"hello","n":3}`)

	assert.True(t, e.Valid)
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "hello", e.Msg)
	assert.Equal(t, 500*time.Millisecond, time.Duration(e.Time.Nanosecond()))
	assert.Equal(t, map[string]any{"n": float64(3)}, e.Attrs)

	bad := ParseLine("panic: boom")
	assert.False(t, bad.Valid)
	assert.Equal(t, "panic: boom", bad.Raw)
}

func TestViewer_TailLastLines(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})

	entries, err := v.Tail(writeLog(t), 2)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rerank skipped", entries[0].Msg)
	assert.Equal(t, "tool failed", entries[1].Msg)
}

func TestViewer_LevelFilterKeepsUnparsedLines(t *testing.T) {
	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, &bytes.Buffer{})

	entries, err := v.Tail(writeLog(t), 0)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Valid)
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, "ERROR", entries[2].Level)
}

func TestViewer_PatternFilter(t *testing.T) {
	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`"tool":"query"`), NoColor: true}, &bytes.Buffer{})

	entries, err := v.Tail(writeLog(t), 0)

	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestViewer_TailMissingFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	_, err := v.Tail(filepath.Join(t.TempDir(), "nope.log"), 10)

	assert.Error(t, err)
}

func TestViewer_FormatSortsAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	v := NewViewer(ViewerConfig{NoColor: true}, buf)

	v.Print([]Entry{ParseLine(`{"time":"2026-03-01T10:00:01Z","level":"WARN","msg":"rerank skipped","tool":"query","reason":"timeout"}`)})

	assert.Equal(t, "10:00:01.000 WARN  rerank skipped reason=timeout tool=query\n", buf.String())
}

func TestViewer_Follow(t *testing.T) {
	// Given: an existing log being followed
	path := writeLog(t)
	v := NewViewer(ViewerConfig{Level: "info"}, &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(150 * time.Millisecond)

	// When: new records are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Join([]string{
		`{"time":"2026-03-01T10:00:03Z","level":"DEBUG","msg":"hidden"}`,
		`{"time":"2026-03-01T10:00:04Z","level":"INFO","msg":"appended"}`,
	}, "\n") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only new matching records arrive
	select {
	case e := <-entries:
		assert.Equal(t, "appended", e.Msg)
	case <-ctx.Done():
		t.Fatal("no entry received")
	}
	cancel()
	assert.NoError(t, <-done)
}
