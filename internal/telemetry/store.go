package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// LatencyStore persists latency samples so a fresh process can rebuild its
// windows. The CLI runs one query per process and relies on this.
type LatencyStore interface {
	// Append records one sample.
	Append(mode string, ms float64, at time.Time) error

	// Recent returns up to limit of the newest samples for mode, oldest first.
	Recent(mode string, limit int) ([]float64, error)

	// Modes lists every mode with at least one sample.
	Modes() ([]string, error)

	// Clear drops all samples.
	Clear() error

	Close() error
}

// SQLiteLatencyStore implements LatencyStore on SQLite.
type SQLiteLatencyStore struct {
	db     *sql.DB
	keep   atomic.Int64
	ownsDB bool
}

var _ LatencyStore = (*SQLiteLatencyStore)(nil)

// OpenSQLiteLatencyStore opens (or creates) a store at path. An empty path
// keeps samples in memory. keep bounds the rows retained per mode.
func OpenSQLiteLatencyStore(path string, keep int) (*SQLiteLatencyStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metrics directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragma: %w", err)
	}
	if err := InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := NewSQLiteLatencyStore(db, keep)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteLatencyStore wraps an existing connection whose schema is
// already initialized. The caller keeps ownership of db.
func NewSQLiteLatencyStore(db *sql.DB, keep int) (*SQLiteLatencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if keep <= 0 {
		keep = DefaultWindowSize
	}
	s := &SQLiteLatencyStore{db: db}
	s.keep.Store(int64(keep))
	return s, nil
}

// SetKeep changes how many rows per mode later appends retain.
func (s *SQLiteLatencyStore) SetKeep(keep int) {
	if keep > 0 {
		s.keep.Store(int64(keep))
	}
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS latency_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		latency_ms REAL NOT NULL,
		recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_latency_samples_mode ON latency_samples(mode, id DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// Append inserts a sample and trims the mode to the newest keep rows.
func (s *SQLiteLatencyStore) Append(mode string, ms float64, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO latency_samples (mode, latency_ms, recorded_at)
		VALUES (?, ?, ?)
	`, mode, ms, at.UTC()); err != nil {
		return fmt.Errorf("insert latency sample: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM latency_samples
		WHERE mode = ? AND id NOT IN (
			SELECT id FROM latency_samples
			WHERE mode = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, mode, mode, s.keep.Load()); err != nil {
		return fmt.Errorf("trim latency samples: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns the newest samples for mode, oldest first.
func (s *SQLiteLatencyStore) Recent(mode string, limit int) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT latency_ms FROM (
			SELECT id, latency_ms FROM latency_samples
			WHERE mode = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("query latency samples: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ms float64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// Modes lists recorded modes in name order.
func (s *SQLiteLatencyStore) Modes() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT mode FROM latency_samples ORDER BY mode`)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer rows.Close()

	var modes []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		modes = append(modes, m)
	}
	return modes, rows.Err()
}

// Clear deletes every sample.
func (s *SQLiteLatencyStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM latency_samples`); err != nil {
		return fmt.Errorf("clear latency samples: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *SQLiteLatencyStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
