// Package errors defines the structured error type used across panes.
//
// Every fault the pipeline can hit falls into one of a small number of
// categories. Persistence and boundary faults are recovered locally,
// composition faults keep the previous preview on screen, and sandbox faults
// are surfaced in the console rather than returned to the host.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeComposition ErrorType = "composition"
	ErrorTypeSandbox     ErrorType = "sandbox"
	ErrorTypeBoundary    ErrorType = "boundary"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeInternal    ErrorType = "internal"
)

// PanesError is a structured error type with context.
type PanesError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Slot        string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *PanesError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Slot != "" {
		location := "slot:" + e.Slot
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
func (e *PanesError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PanesError) Is(target error) bool {
	var t *PanesError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PanesError) WithContext(key string, value interface{}) *PanesError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds a slot position to the error.
func (e *PanesError) WithLocation(slot string, line, column int) *PanesError {
	e.Slot = slot
	e.Line = line
	e.Column = column

	return e
}

// Error creation functions

// NewPersistenceError creates a key-value store error. Persistence faults never
// stop the editing session, so they are always recoverable.
func NewPersistenceError(code, message string, cause error) *PanesError {
	return &PanesError{
		Type:        ErrorTypePersistence,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewCompositionError creates a document composition error.
func NewCompositionError(code, message string, cause error) *PanesError {
	return &PanesError{
		Type:        ErrorTypeComposition,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewSandboxError creates a sandboxed rendering context error.
func NewSandboxError(code, message string, cause error) *PanesError {
	return &PanesError{
		Type:        ErrorTypeSandbox,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewBoundaryError creates an error for a rejected cross-boundary message.
func NewBoundaryError(code, message string) *PanesError {
	return &PanesError{
		Type:        ErrorTypeBoundary,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PanesError {
	return &PanesError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PanesError {
	return &PanesError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PanesError {
	return &PanesError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PanesError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsType reports whether err is a PanesError of the given type.
func IsType(err error, t ErrorType) bool {
	var pe *PanesError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// Common error codes.
const (
	ErrCodeQuotaExceeded      = "ERR_QUOTA_EXCEEDED"
	ErrCodeStorageUnavailable = "ERR_STORAGE_UNAVAILABLE"
	ErrCodeComposeFailed      = "ERR_COMPOSE_FAILED"
	ErrCodeSandboxSetup       = "ERR_SANDBOX_SETUP"
	ErrCodeSandboxTimeout     = "ERR_SANDBOX_TIMEOUT"
	ErrCodeUntrustedOrigin    = "ERR_UNTRUSTED_ORIGIN"
	ErrCodeStaleGeneration    = "ERR_STALE_GENERATION"
	ErrCodeMalformedMessage   = "ERR_MALFORMED_MESSAGE"
	ErrCodeUnknownSlot        = "ERR_UNKNOWN_SLOT"
	ErrCodeUnknownCommand     = "ERR_UNKNOWN_COMMAND"
	ErrCodeInvalidArgument    = "ERR_INVALID_ARGUMENT"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeSessionClosed      = "ERR_SESSION_CLOSED"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// ErrQuotaExceeded is the sentinel matched by errors.Is for capacity faults
// reported by any key-value store.
var ErrQuotaExceeded = NewPersistenceError(ErrCodeQuotaExceeded, "storage quota exceeded", nil)

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at the level its category calls for.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var pe *PanesError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch pe.Type {
	case ErrorTypeBoundary:
		h.logger.Debug(ctx, "Dropped cross-boundary message",
			"code", pe.Code,
			"reason", pe.Message)
	case ErrorTypePersistence, ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Recoverable error occurred",
			"type", pe.Type,
			"code", pe.Code)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", pe.Type,
			"code", pe.Code)
	}
}
