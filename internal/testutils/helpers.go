package testutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/types"
)

// CreateTempProject creates a project directory holding the three source
// files, in slot order.
func CreateTempProject(t *testing.T, markup, style, script string) string {
	t.Helper()
	dir := t.TempDir()

	for i, text := range []string{markup, style, script} {
		WriteSource(t, dir, types.Slots[i], text)
	}
	return dir
}

// WriteSource writes the project file for slot and returns its path.
func WriteSource(t *testing.T, dir string, slot types.Slot, text string) string {
	t.Helper()
	path := filepath.Join(dir, slot.FileName())
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// NopLogger returns a logger that discards everything.
func NopLogger() logging.Logger {
	return logging.NewNopLogger()
}

// Context returns a context cancelled after timeout or when the test ends.
func Context(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls cond until it holds or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, 10*time.Millisecond)
}
