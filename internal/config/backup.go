package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

const (
	// MaxBackups is the number of settings backups kept per file.
	MaxBackups = 5

	backupTimeFormat = "20060102150405"
)

// BackupSettings copies the settings file at path into dir as
// <stem>_<YYYYMMDDHHMMSS><ext> (UTC) and prunes backups beyond MaxBackups.
func BackupSettings(path, dir string) (string, error) {
	if !fileExists(path) {
		return "", ragerrors.New(ragerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("settings file not found: %s", path), nil)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	backupPath := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, time.Now().UTC().Format(backupTimeFormat), ext))

	err := WithLock(path, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		return copyFile(path, backupPath)
	})
	if err != nil {
		return "", err
	}

	// Best effort: the backup itself succeeded.
	_ = pruneBackups(path, dir)
	return backupPath, nil
}

// ListBackups returns backups of the settings file at path, newest first.
func ListBackups(path, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(filepath.Base(path), ext) + "_"
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ext {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		if _, err := time.Parse(backupTimeFormat, stamp); err != nil {
			continue
		}
		backups = append(backups, filepath.Join(dir, name))
	}

	// Timestamps are fixed-width, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path, dir string) error {
	backups, err := ListBackups(path, dir)
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	for _, old := range backups[MaxBackups:] {
		_ = os.Remove(old)
	}
	return nil
}

// RestoreSettings copies backupPath over target. The caller commits the
// restored file through the Store (or lets the FileWatcher pick it up).
func RestoreSettings(backupPath, target string) error {
	if !fileExists(backupPath) {
		return ragerrors.New(ragerrors.ErrCodeBackupNotFound,
			fmt.Sprintf("backup not found: %s", backupPath), nil)
	}
	if _, err := LoadSettingsFile(backupPath); err != nil {
		return fmt.Errorf("refusing to restore unreadable backup: %w", err)
	}

	return WithLock(target, func() error {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
		return copyFile(backupPath, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
