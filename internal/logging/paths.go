package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.ragcopilot/logs, or a temp-dir equivalent when
// the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcopilot", "logs")
	}
	return filepath.Join(home, ".ragcopilot", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
