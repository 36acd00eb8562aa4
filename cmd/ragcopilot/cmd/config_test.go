package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// ============================================================================
// Config CLI Tests
// ============================================================================

func TestConfigCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	configCmd, _, err := cmd.Find([]string{"config"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range configCmd.Commands() {
		names[sc.Name()] = true
	}
	for _, want := range []string{"show", "get", "set", "rollback", "validate", "backup", "backups", "restore", "reset", "path"} {
		assert.True(t, names[want], "should have %s command", want)
	}
}

func TestConfigShowCmd_Defaults(t *testing.T) {
	out := mustExecute(t, t.TempDir(), "config", "show")

	assert.Contains(t, out, "Resolved settings (version 1)")
	assert.Contains(t, out, "top_k")
	assert.Contains(t, out, "dense_index")
}

func TestConfigShowCmd_LayersJSON(t *testing.T) {
	// Given: a --set override
	dir := t.TempDir()

	// When: showing layers as JSON
	out := mustExecute(t, dir, "--set", "top_k=9", "config", "show", "--layers", "--json")

	// Then: the override sits in the cli layer only
	var layers map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &layers))
	assert.Equal(t, "9", layers["cli"]["top_k"])
	assert.Equal(t, "5", layers["defaults"]["top_k"])
	assert.Empty(t, layers["environment"])
	assert.Equal(t, "cpu", layers["runtime"]["device"])
}

func TestConfigGetCmd(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, "60", strings.TrimSpace(mustExecute(t, dir, "config", "get", "rrf_k")))
	assert.Equal(t, "12", strings.TrimSpace(mustExecute(t, dir, "--set", "rrf_k=12", "config", "get", "rrf_k")))

	_, err := execute(t, dir, "config", "get", "nope")
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeUnknownSetting, ragerrors.GetCode(err))
}

func TestConfigSetCmd_WritesSettingsFile(t *testing.T) {
	// Given: no settings file
	dir := t.TempDir()

	// When: setting top_k
	out := mustExecute(t, dir, "config", "set", "top_k", "8")

	// Then: the file holds only the change and later runs resolve it
	assert.Contains(t, out, "top_k = 8")
	file, err := config.LoadSettingsFile(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"top_k": "8"}, config.Flatten(file))
	assert.Equal(t, "8", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))
}

func TestConfigSetCmd_RejectsOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "config", "set", "rrf_k", "30")

	_, err := execute(t, dir, "config", "set", "rrf_k", "0")

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeConfigValidation, ragerrors.GetCode(err))
	assert.Equal(t, "30", strings.TrimSpace(mustExecute(t, dir, "config", "get", "rrf_k")))
}

func TestConfigSetCmd_RejectsBadValue(t *testing.T) {
	_, err := execute(t, t.TempDir(), "config", "set", "enable_rerank", "maybe")

	assert.Error(t, err)
}

func TestConfigRollbackCmd(t *testing.T) {
	// Given: two changes, the second backing up the first
	dir := t.TempDir()
	mustExecute(t, dir, "config", "set", "top_k", "8")
	mustExecute(t, dir, "config", "set", "top_k", "9")

	// When: rolling back one step
	out := mustExecute(t, dir, "config", "rollback")

	// Then: the earlier value is back
	assert.Contains(t, out, "Restored settings from settings_")
	assert.Equal(t, "8", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))
}

func TestConfigRollbackCmd_NotEnoughHistory(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "config", "set", "top_k", "8")

	_, err := execute(t, dir, "config", "rollback", "2")

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeConfigRollback, ragerrors.GetCode(err))
	assert.Equal(t, "8", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))
}

func TestConfigRollbackCmd_BadSteps(t *testing.T) {
	_, err := execute(t, t.TempDir(), "config", "rollback", "zero")

	assert.Error(t, err)
}

func TestConfigValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(good, []byte("top_k: 7\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("top_k = 5000\n"), 0o644))

	out := mustExecute(t, dir, "config", "validate", good)
	assert.Contains(t, out, "is valid")

	out, err := execute(t, dir, "config", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeConfigValidation, ragerrors.GetCode(err))
	assert.Contains(t, out, "top_k")
}

func TestConfigBackupRestoreCmd(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "config", "backup")
	require.Error(t, err, "nothing to back up yet")

	mustExecute(t, dir, "config", "set", "top_k", "8")
	out := mustExecute(t, dir, "config", "backup")
	assert.Contains(t, out, "Backed up to")

	out = mustExecute(t, dir, "config", "backups")
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Equal(t, "1", fields[0])

	require.NoError(t, config.WriteSettingsFile(filepath.Join(dir, "settings.yaml"), config.Settings{TopK: config.Ptr(3)}))
	mustExecute(t, dir, "config", "restore", fields[1])
	assert.Equal(t, "8", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))
}

func TestConfigRestoreCmd_MissingBackup(t *testing.T) {
	_, err := execute(t, t.TempDir(), "config", "restore", "settings_20200101000000.yaml")

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeBackupNotFound, ragerrors.GetCode(err))
}

func TestConfigResetCmd(t *testing.T) {
	dir := t.TempDir()
	out := mustExecute(t, dir, "config", "reset")
	assert.Contains(t, out, "defaults already apply")

	mustExecute(t, dir, "config", "set", "top_k", "8")
	mustExecute(t, dir, "config", "reset")

	assert.NoFileExists(t, filepath.Join(dir, "settings.yaml"))
	assert.Equal(t, "5", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))

	mustExecute(t, dir, "config", "rollback")
	assert.Equal(t, "8", strings.TrimSpace(mustExecute(t, dir, "config", "get", "top_k")))
}

func TestConfigPathCmd(t *testing.T) {
	dir := t.TempDir()

	out := mustExecute(t, dir, "config", "path")

	assert.Contains(t, out, filepath.Join(dir, "settings.yaml"))
	assert.Contains(t, out, filepath.Join(dir, "backups"))
	assert.Contains(t, out, filepath.Join(dir, "metrics.db"))
}
