package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanesErrorMessage(t *testing.T) {
	err := NewSandboxError(ErrCodeSandboxTimeout, "script timed out", fmt.Errorf("interrupted")).
		WithLocation("js", 4, 2)

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_SANDBOX_TIMEOUT]")
	assert.Contains(t, msg, "slot:js:4:2")
	assert.Contains(t, msg, "script timed out")
	assert.Contains(t, msg, ": interrupted")
}

func TestQuotaSentinelMatchesWrapped(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError(ErrCodeQuotaExceeded, "saving js buffer", cause)
	wrapped := fmt.Errorf("save: %w", err)

	assert.True(t, errors.Is(wrapped, ErrQuotaExceeded))
	assert.True(t, errors.Is(wrapped, cause))
	assert.False(t, errors.Is(NewPersistenceError(ErrCodeStorageUnavailable, "gone", nil), ErrQuotaExceeded))
}

func TestRecoverabilityByType(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
		errType     ErrorType
	}{
		{"persistence", NewPersistenceError(ErrCodeQuotaExceeded, "q", nil), true, ErrorTypePersistence},
		{"composition", NewCompositionError(ErrCodeComposeFailed, "c", nil), true, ErrorTypeComposition},
		{"boundary", NewBoundaryError(ErrCodeUntrustedOrigin, "o"), true, ErrorTypeBoundary},
		{"config", NewConfigError(ErrCodeConfigInvalid, "bad"), false, ErrorTypeConfig},
		{"internal", NewInternalError(ErrCodeInternalError, "i", nil), false, ErrorTypeInternal},
		{"plain", errors.New("plain"), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
			if tt.errType != "" {
				assert.True(t, IsType(tt.err, tt.errType))
			}
		})
	}
}

type recordingLogger struct {
	debug, warn, error int
}

func (r *recordingLogger) Debug(context.Context, string, ...interface{})        { r.debug++ }
func (r *recordingLogger) Warn(context.Context, error, string, ...interface{})  { r.warn++ }
func (r *recordingLogger) Error(context.Context, error, string, ...interface{}) { r.error++ }

func TestErrorHandlerRoutesByType(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewBoundaryError(ErrCodeStaleGeneration, "stale"))
	handler.Handle(ctx, NewPersistenceError(ErrCodeQuotaExceeded, "full", nil))
	handler.Handle(ctx, NewInternalError(ErrCodeInternalError, "bug", nil))
	handler.Handle(ctx, errors.New("unknown"))

	assert.Equal(t, 1, logger.debug)
	assert.Equal(t, 1, logger.warn)
	assert.Equal(t, 2, logger.error)
}
