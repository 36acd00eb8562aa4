package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/JackSmack1971/personal-rag-copilot/configs"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// DefaultSettings parses the embedded default_settings.yaml and checks that
// it carries every documented field.
func DefaultSettings() (Settings, error) {
	s, err := decodeYAML([]byte(configs.DefaultSettingsYAML))
	if err != nil {
		return Settings{}, fmt.Errorf("embedded defaults: %w", err)
	}
	if errs := (DefaultValidator{RequireAll: true}).Validate(s); len(errs) > 0 {
		return Settings{}, fmt.Errorf("embedded defaults: %w", ragerrors.ConfigValidationError(errs))
	}
	return s, nil
}

// LoadSettingsFile reads a YAML (.yaml/.yml) or TOML (.toml) settings file.
// Unknown keys are rejected so typos surface instead of silently doing nothing.
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, ragerrors.New(ragerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("settings file not found: %s", path), err)
		}
		return Settings{}, ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("failed to read settings file: %s", path), err)
	}

	var s Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &s)
		if err != nil {
			return Settings{}, ragerrors.ConfigError(fmt.Sprintf("invalid TOML in %s", path), err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Settings{}, ragerrors.ConfigError(
				fmt.Sprintf("unknown setting %q in %s", undecoded[0].String(), path), nil)
		}
	default:
		s, err = decodeYAML(data)
		if err != nil {
			return Settings{}, ragerrors.ConfigError(fmt.Sprintf("invalid YAML in %s", path), err)
		}
	}
	return s, nil
}

func decodeYAML(data []byte) (Settings, error) {
	var s Settings
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// WriteSettingsFile persists s, choosing the format from the extension.
func WriteSettingsFile(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		_ = enc.Close()
	}

	// Write to a sibling temp file first so a watcher never sees half a file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// LoadDefaultsLayer returns the embedded defaults overlaid with the
// settings file at path, when one exists.
func LoadDefaultsLayer(path string) (Settings, error) {
	defaults, err := DefaultSettings()
	if err != nil {
		return Settings{}, err
	}
	if path == "" || !fileExists(path) {
		return defaults, nil
	}
	file, err := LoadSettingsFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Merge(defaults, file), nil
}
