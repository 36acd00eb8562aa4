// Package configs holds configuration files embedded at build time.
//
// default_settings.yaml is the defaults layer of the override chain (see
// internal/config). Every documented setting must appear in it; the loader
// refuses to start otherwise.
package configs

import _ "embed"

// DefaultSettingsYAML is the shipped defaults layer.
//
//go:embed default_settings.yaml
var DefaultSettingsYAML string

// ExampleSettingsYAML is written by 'ragcopilot config init' as a starting
// point for the operator settings file.
//
//go:embed settings.example.yaml
var ExampleSettingsYAML string
