package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RagError is the structured error type used across the retrieval pipeline.
// It carries enough context to be logged, shown on the CLI, or returned
// from an MCP tool without losing the original cause.
type RagError struct {
	// Code is the unique error code (e.g., "ERR_103_CONFIG_VALIDATION").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Fields holds per-field validation failures for config commits.
	Fields FieldErrors

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *RagError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Fields.String())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against the sentinel values below.
func (e *RagError) Is(target error) bool {
	if t, ok := target.(*RagError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *RagError) WithSuggestion(suggestion string) *RagError {
	e.Suggestion = suggestion
	return e
}

// Sentinels for errors.Is comparisons; matching is by code.
var (
	ErrConfigValidation = &RagError{Code: ErrCodeConfigValidation}
	ErrConfigRollback   = &RagError{Code: ErrCodeConfigRollback}
	ErrInvalidMode      = &RagError{Code: ErrCodeInvalidMode}
	ErrQueryEmpty       = &RagError{Code: ErrCodeQueryEmpty}
	ErrUnknownSetting   = &RagError{Code: ErrCodeUnknownSetting}
)

// New creates a RagError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagError from an existing error.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RagError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ConfigValidationError reports a rejected config commit.
func ConfigValidationError(fields FieldErrors) *RagError {
	e := New(ErrCodeConfigValidation, "configuration rejected", nil)
	e.Fields = fields.Clone()
	return e.WithSuggestion("run 'ragcopilot config validate' to see every failing field")
}

// RollbackError reports a rollback that would empty the history.
func RollbackError(steps, history int) *RagError {
	return New(ErrCodeConfigRollback,
		fmt.Sprintf("cannot roll back %d step(s) with %d snapshot(s) in history", steps, history), nil).
		WithDetail("steps", fmt.Sprint(steps)).
		WithDetail("history", fmt.Sprint(history))
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *RagError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error. Network errors are retryable.
func NetworkError(message string, cause error) *RagError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RagError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RagError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable RagError.
func IsRetryable(err error) bool {
	var re *RagError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	var re *RagError
	if errors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err is not a RagError.
func GetCode(err error) string {
	var re *RagError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetFieldErrors returns the validation failures carried by err, if any.
func GetFieldErrors(err error) FieldErrors {
	var re *RagError
	if errors.As(err, &re) {
		return re.Fields
	}
	return nil
}

// FieldErrors maps a dotted setting path to a failure reason
// such as "missing" or "out_of_bounds:1-1000".
type FieldErrors map[string]string

// Add records a failure for field.
func (f FieldErrors) Add(field, reason string) {
	f[field] = reason
}

// Merge copies other into f.
func (f FieldErrors) Merge(other FieldErrors) {
	for k, v := range other {
		f[k] = v
	}
}

// Clone returns an independent copy.
func (f FieldErrors) Clone() FieldErrors {
	if f == nil {
		return nil
	}
	out := make(FieldErrors, len(f))
	out.Merge(f)
	return out
}

// Keys returns the failing fields in sorted order.
func (f FieldErrors) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders "field: reason" pairs in sorted order.
func (f FieldErrors) String() string {
	parts := make([]string, 0, len(f))
	for _, k := range f.Keys() {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, ", ")
}
