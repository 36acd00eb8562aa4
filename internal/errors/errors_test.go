package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RagError
// =============================================================================

func TestNew_DerivesCategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigValidation, CategoryConfig, SeverityError, false},
		{ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{ErrCodeCorpusCorrupt, CategoryIO, SeverityFatal, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeInvalidMode, CategoryValidation, SeverityError, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestRagError_IsMatchesByCodeThroughWrapping(t *testing.T) {
	// Given: a validation error wrapped with fmt.Errorf
	inner := ConfigValidationError(FieldErrors{"top_k": "out_of_bounds:1-1000"})
	wrapped := fmt.Errorf("commit runtime layer: %w", inner)

	// Then: errors.Is matches the sentinel and field errors survive
	assert.True(t, errors.Is(wrapped, ErrConfigValidation))
	assert.False(t, errors.Is(wrapped, ErrConfigRollback))
	assert.Equal(t, "out_of_bounds:1-1000", GetFieldErrors(wrapped)["top_k"])
	assert.Equal(t, ErrCodeConfigValidation, GetCode(wrapped))
}

func TestConfigValidationError_CopiesFields(t *testing.T) {
	fields := FieldErrors{"precision": "invalid_option"}
	err := ConfigValidationError(fields)

	fields["top_k"] = "missing"

	assert.Len(t, err.Fields, 1)
	assert.Contains(t, err.Error(), "precision: invalid_option")
}

func TestRollbackError_CarriesDetails(t *testing.T) {
	err := RollbackError(3, 2)

	assert.True(t, errors.Is(err, ErrConfigRollback))
	assert.Equal(t, "3", err.Details["steps"])
	assert.Equal(t, "2", err.Details["history"])
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NetworkError("ollama down", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("embed: %w", NetworkError("x", nil))))
	assert.False(t, IsRetryable(ValidationError("bad", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

// =============================================================================
// FieldErrors
// =============================================================================

func TestFieldErrors_StringIsSorted(t *testing.T) {
	f := FieldErrors{}
	f.Add("rrf_k", "missing")
	f.Add("precision", "invalid_option")
	f.Merge(FieldErrors{"evaluation_thresholds.precision": "out_of_bounds:0-1"})

	assert.Equal(t, []string{"evaluation_thresholds.precision", "precision", "rrf_k"}, f.Keys())
	assert.Equal(t,
		"evaluation_thresholds.precision: out_of_bounds:0-1, precision: invalid_option, rrf_k: missing",
		f.String())
}

// =============================================================================
// Formatting
// =============================================================================

func TestFormatForCLI_ListsFieldsAndHint(t *testing.T) {
	err := ConfigValidationError(FieldErrors{"top_k": "out_of_bounds:1-1000"})

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: configuration rejected")
	assert.Contains(t, out, "  - top_k: out_of_bounds:1-1000")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, ErrCodeConfigValidation)
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeInternal, decoded["code"])
	assert.Equal(t, "boom", decoded["message"])
}

func TestLogAttrs(t *testing.T) {
	assert.Nil(t, LogAttrs(nil))
	assert.Equal(t, []any{"error", "plain"}, LogAttrs(errors.New("plain")))

	attrs := LogAttrs(New(ErrCodeRerankFailed, "scorer died", errors.New("eof")))
	assert.Contains(t, attrs, ErrCodeRerankFailed)
	assert.Contains(t, attrs, "eof")
}
