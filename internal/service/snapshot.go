package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

const snapshotVersion = 1

// CorpusEntry is one indexed chunk. ID is the lexical id, shared with the
// dense index through doc_id metadata.
type CorpusEntry struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Chunk  int    `json:"chunk"`
	Text   string `json:"text"`
}

// AuditEntry records a document update or delete.
type AuditEntry struct {
	Action    string    `json:"action"`
	DocID     string    `json:"doc_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted corpus. Both indexes are rebuilt from it.
type Snapshot struct {
	Version   int           `json:"version"`
	Model     string        `json:"model"`
	Entries   []CorpusEntry `json:"entries"`
	Audit     []AuditEntry  `json:"audit,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LoadSnapshot reads the snapshot at path. A missing file is an empty corpus.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Snapshot{Version: snapshotVersion}, nil
	}
	if err != nil {
		return nil, ragerrors.IOError(fmt.Sprintf("failed to read corpus snapshot %s", path), err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeCorpusCorrupt,
			fmt.Sprintf("corpus snapshot %s is not valid JSON", path), err).
			WithSuggestion("Restore the file or delete it and re-ingest")
	}
	if snap.Version > snapshotVersion {
		return nil, ragerrors.New(ragerrors.ErrCodeCorpusCorrupt,
			fmt.Sprintf("corpus snapshot version %d is newer than supported %d", snap.Version, snapshotVersion), nil)
	}
	return &snap, nil
}

// SaveSnapshot writes snap to path under the path's file lock, through a
// temp file and rename.
func SaveSnapshot(path string, snap *Snapshot) error {
	snap.Version = snapshotVersion
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode corpus snapshot: %w", err)
	}

	return config.WithLock(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ragerrors.IOError("failed to create data directory", err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return ragerrors.IOError("failed to write corpus snapshot", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return ragerrors.IOError("failed to replace corpus snapshot", err)
		}
		return nil
	})
}
