package service

import (
	"path/filepath"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
)

const (
	corpusFile  = "corpus.json"
	metricsFile = "metrics.db"
	indexDir    = "indexes"
)

// Paths locates everything the pipeline persists.
type Paths struct {
	DataDir      string
	SettingsPath string
	BackupDir    string
}

// DefaultPaths returns the per-user locations.
func DefaultPaths() Paths {
	return Paths{
		DataDir:      config.GetDataDir(),
		SettingsPath: config.GetSettingsPath(),
		BackupDir:    config.GetBackupDir(),
	}
}

// PathsIn keeps every file under dir. Used by tests and --data-dir.
func PathsIn(dir string) Paths {
	return Paths{
		DataDir:      dir,
		SettingsPath: filepath.Join(dir, "settings.yaml"),
		BackupDir:    filepath.Join(dir, "backups"),
	}
}

// CorpusPath is the JSON corpus snapshot.
func (p Paths) CorpusPath() string { return filepath.Join(p.DataDir, corpusFile) }

// MetricsPath is the SQLite latency sample store.
func (p Paths) MetricsPath() string { return filepath.Join(p.DataDir, metricsFile) }

// IndexDir holds the dense graph and on-disk lexical backends.
func (p Paths) IndexDir() string { return filepath.Join(p.DataDir, indexDir) }

// DensePath is the saved HNSW graph for the named dense index.
func (p Paths) DensePath(name string) string {
	return filepath.Join(p.IndexDir(), name+".hnsw")
}
