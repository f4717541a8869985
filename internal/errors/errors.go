// Package errors provides centralized error definitions and error handling utilities
// for streamstop. It defines the failure classes a shutdown run can encounter,
// typed errors that carry the context of the failing resource, and helpers to
// classify errors.
//
// # Error Types
//
// Domain-specific errors represent failures from a specific subsystem:
//   - ToolError: an OS utility (screen, ps, lsof) is missing or failed
//   - ProcessError: a signal could not be delivered to a PID
//   - FileError: a stream directory or file could not be read, renamed or moved
//   - StageError: a shutdown stage finished with a partial failure
//
// Semantic errors represent common conditions:
//   - ValidationError: invalid input or configuration
//
// # Expected failures
//
// Most failures during shutdown are expected and absorbed by the stage that
// hit them: a missing tool, a PID that already exited, a permission refusal,
// a missing directory, a filename without a timestamp. [IsExpected] reports
// whether an error belongs to one of these classes.
//
// # Usage
//
//	err := errors.NewToolError("screen", errors.ErrToolUnavailable)
//	if errors.Is(err, errors.ErrToolUnavailable) { ... }
//
//	var procErr *errors.ProcessError
//	if errors.As(err, &procErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Shutdown failure classes
var (
	// ErrToolUnavailable indicates that a required OS utility is not installed.
	ErrToolUnavailable = New("tool unavailable")
	// ErrToolFailed indicates that an OS utility exited with an unexpected status.
	ErrToolFailed = New("tool failed")
	// ErrNoSuchProcess indicates that a PID vanished before it could be acted on.
	ErrNoSuchProcess = New("no such process")
	// ErrPermissionDenied indicates that a signal was rejected by the kernel.
	ErrPermissionDenied = New("permission denied")
	// ErrPathUnavailable indicates that an expected directory is missing or unwritable.
	ErrPathUnavailable = New("path unavailable")
	// ErrPatternMismatch indicates that a filename does not encode a timestamp.
	ErrPatternMismatch = New("filename does not match pattern")
	// ErrDestinationExists indicates that a rename or move target already exists.
	ErrDestinationExists = New("destination already exists")
)

// General sentinel errors
var (
	// ErrLockHeld indicates that another run holds the run lock.
	ErrLockHeld = New("another shutdown run is in progress")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// StreamstopError is the base interface for all streamstop errors.
type StreamstopError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on a later run.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.message == "" {
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", prefix, e.cause)
		}
		return prefix
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ToolError represents a failure invoking an OS utility.
//
// Example:
//
//	err := errors.NewToolError("screen", errors.ErrToolUnavailable)
//	fmt.Println(err) // "tool error [tool=screen]: tool unavailable"
type ToolError struct {
	baseError
	Tool     string
	ExitCode int
	Stderr   string
}

// NewToolError creates a new ToolError.
func NewToolError(tool string, cause error) *ToolError {
	return &ToolError{
		baseError: baseError{
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Tool:     tool,
		ExitCode: -1,
	}
}

// WithExitCode records the exit status of the tool.
func (e *ToolError) WithExitCode(code int) *ToolError {
	e.ExitCode = code
	return e
}

// WithStderr records the tool's stderr output.
func (e *ToolError) WithStderr(stderr string) *ToolError {
	e.Stderr = strings.TrimSpace(stderr)
	return e
}

// WithMessage adds a context message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *ToolError) Error() string {
	var parts []string
	if e.Tool != "" {
		parts = append(parts, "tool="+e.Tool)
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	msg := e.format("tool error", parts)
	if e.Stderr != "" {
		msg += " (" + e.Stderr + ")"
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ToolError) Is(target error) bool {
	if _, ok := target.(*ToolError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ProcessError represents a failure signalling or probing a process.
//
// Example:
//
//	err := errors.NewProcessError(4242, "SIGTERM", errors.ErrPermissionDenied)
type ProcessError struct {
	baseError
	PID    int
	Signal string
}

// NewProcessError creates a new ProcessError.
func NewProcessError(pid int, signal string, cause error) *ProcessError {
	severity := SeverityError
	if errors.Is(cause, ErrNoSuchProcess) {
		severity = SeverityDebug
	} else if errors.Is(cause, ErrPermissionDenied) {
		severity = SeverityWarning
	}
	return &ProcessError{
		baseError: baseError{
			cause:      cause,
			severity:   severity,
			retryable:  false,
			userFacing: true,
		},
		PID:    pid,
		Signal: signal,
	}
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	parts := []string{fmt.Sprintf("pid=%d", e.PID)}
	if e.Signal != "" {
		parts = append(parts, "signal="+e.Signal)
	}
	return e.format("process error", parts)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// FileError represents a failure on a stream's temp or archive files.
//
// Example:
//
//	err := errors.NewFileError("/data/temp", errors.ErrPathUnavailable).WithStream(3)
type FileError struct {
	baseError
	Path     string
	StreamID int
}

// NewFileError creates a new FileError.
func NewFileError(path string, cause error) *FileError {
	return &FileError{
		baseError: baseError{
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Path: path,
	}
}

// WithStream adds the stream index to the error context.
func (e *FileError) WithStream(id int) *FileError {
	e.StreamID = id
	return e
}

// WithMessage adds a context message.
func (e *FileError) WithMessage(msg string) *FileError {
	e.message = msg
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *FileError) WithRetryable(r bool) *FileError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *FileError) Error() string {
	var parts []string
	if e.StreamID > 0 {
		parts = append(parts, fmt.Sprintf("stream=%d", e.StreamID))
	}
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	return e.format("file error", parts)
}

// Is checks if this error matches the target.
func (e *FileError) Is(target error) bool {
	if _, ok := target.(*FileError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// StageError records that a shutdown stage could not make full progress.
// The state machine still advances; the error ends up in the run summary.
type StageError struct {
	baseError
	Stage string
}

// NewStageError creates a new StageError.
func NewStageError(stage, message string, cause error) *StageError {
	return &StageError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Stage: stage,
	}
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	return e.format("stage error", []string{"stage=" + e.Stage})
}

// Is checks if this error matches the target.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("grace_seconds", -1, "must be non-negative")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Field: field,
		Value: value,
	}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s (got: %v)", e.Field, e.message, e.Value)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return errors.Is(ErrInvalidInput, target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsExpected reports whether err belongs to one of the failure classes a
// stage absorbs and continues past: ToolUnavailable, NoSuchProcess,
// PermissionDenied, PathUnavailable, PatternMismatch.
func IsExpected(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrToolUnavailable) ||
		Is(err, ErrNoSuchProcess) ||
		Is(err, ErrPermissionDenied) ||
		Is(err, ErrPathUnavailable) ||
		Is(err, ErrPatternMismatch)
}

// IsRetryable returns true if the error represents a transient condition
// that may clear on a later run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sErr StreamstopError
	if As(err, &sErr) {
		return sErr.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var sErr StreamstopError
	if As(err, &sErr) {
		return sErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement StreamstopError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var sErr StreamstopError
	if As(err, &sErr) {
		return sErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
