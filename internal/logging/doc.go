// Package logging configures slog for ragcopilot: JSON records to a
// size-rotated file under ~/.ragcopilot/logs, plus an optional styled
// stderr handler for interactive CLI use.
package logging
