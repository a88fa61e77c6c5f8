package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of pipeline errors.
type ErrorType string

const (
	// ErrorTypeSyntax is a malformed source file (template, stylesheet, script).
	ErrorTypeSyntax ErrorType = "syntax"
	// ErrorTypeIO is a filesystem failure: missing source tree, unwritable output.
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeTransform is a transform service refusing an asset, e.g. an
	// image it cannot decode.
	ErrorTypeTransform ErrorType = "transform"
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeInternal  ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeTemplateSyntax   = "ERR_TEMPLATE_SYNTAX"
	ErrCodeTemplateExec     = "ERR_TEMPLATE_EXEC"
	ErrCodeStylesheetSyntax = "ERR_STYLESHEET_SYNTAX"
	ErrCodeScriptSyntax     = "ERR_SCRIPT_SYNTAX"
	ErrCodeSassUnavailable  = "ERR_SASS_UNAVAILABLE"
	ErrCodeUnsupportedAsset = "ERR_UNSUPPORTED_ASSET"
	ErrCodeMalformedSVG     = "ERR_MALFORMED_SVG"
	ErrCodeSourceMissing    = "ERR_SOURCE_MISSING"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeOutputCollision  = "ERR_OUTPUT_COLLISION"
	ErrCodeCleanFailed      = "ERR_CLEAN_FAILED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// AssetError is a structured error tied to a task and, usually, a source file.
type AssetError struct {
	Type     ErrorType
	Code     string
	Severity ErrorSeverity
	Message  string
	Cause    error
	Task     string
	File     string
	Line     int
	Column   int
}

// Error implements the error interface.
func (e *AssetError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.File != "" {
		location := e.File
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *AssetError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel-style comparisons work with
// errors.Is.
func (e *AssetError) Is(target error) bool {
	var t *AssetError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *AssetError) WithLocation(file string, line, column int) *AssetError {
	e.File = file
	e.Line = line
	e.Column = column

	return e
}

// WithFile sets the offending source file.
func (e *AssetError) WithFile(file string) *AssetError {
	e.File = file

	return e
}

// WithTask records which task reported the error.
func (e *AssetError) WithTask(task string) *AssetError {
	e.Task = task

	return e
}

// Fails reports whether the error marks its task as failed. Warnings only
// skip the offending asset.
func (e *AssetError) Fails() bool {
	return e.Severity >= ErrorSeverityError
}

// NewSyntaxError creates a per-file syntax error.
func NewSyntaxError(code, message string, cause error) *AssetError {
	return &AssetError{
		Type:     ErrorTypeSyntax,
		Code:     code,
		Severity: ErrorSeverityError,
		Message:  message,
		Cause:    cause,
	}
}

// NewTransformError creates a warning for an asset a transform service
// could not handle.
func NewTransformError(code, message string, cause error) *AssetError {
	return &AssetError{
		Type:     ErrorTypeTransform,
		Code:     code,
		Severity: ErrorSeverityWarning,
		Message:  message,
		Cause:    cause,
	}
}

// NewIOError creates a filesystem error. It is fatal for the task that hit it.
func NewIOError(code, message string, cause error) *AssetError {
	return &AssetError{
		Type:     ErrorTypeIO,
		Code:     code,
		Severity: ErrorSeverityFatal,
		Message:  message,
		Cause:    cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *AssetError {
	return &AssetError{
		Type:     ErrorTypeConfig,
		Code:     code,
		Severity: ErrorSeverityFatal,
		Message:  message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *AssetError {
	return &AssetError{
		Type:     ErrorTypeInternal,
		Code:     code,
		Severity: ErrorSeverityFatal,
		Message:  message,
		Cause:    cause,
	}
}

// IsIOError checks if an error is a filesystem error.
func IsIOError(err error) bool {
	var ae *AssetError
	if errors.As(err, &ae) {
		return ae.Type == ErrorTypeIO
	}

	return false
}

// IsSyntaxError checks if an error is a source syntax error.
func IsSyntaxError(err error) bool {
	var ae *AssetError
	if errors.As(err, &ae) {
		return ae.Type == ErrorTypeSyntax
	}

	return false
}

// ErrSourceMissing creates the error for a task whose source tree is absent.
func ErrSourceMissing(path string, cause error) *AssetError {
	return NewIOError(ErrCodeSourceMissing, "source directory not found", cause).WithFile(path)
}

// ErrWriteFailed creates the error for an output that could not be written.
func ErrWriteFailed(path string, cause error) *AssetError {
	return NewIOError(ErrCodeWriteFailed, "cannot write output", cause).WithFile(path)
}

// ErrOutputCollision creates the error for two tasks writing the same path.
func ErrOutputCollision(path, owner string) *AssetError {
	return &AssetError{
		Type:     ErrorTypeInternal,
		Code:     ErrCodeOutputCollision,
		Severity: ErrorSeverityError,
		Message:  "output already written by task " + owner,
		File:     path,
	}
}
