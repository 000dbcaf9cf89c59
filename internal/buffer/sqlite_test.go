package buffer

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteKVGetSet(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "panes.db"), 0)
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "code_js", "one"))
	require.NoError(t, kv.Set(ctx, "code_js", "two"))

	value, ok, err := kv.Get(ctx, "code_js")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", value)
}

func TestSQLiteKVPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "panes.db")

	kv, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	store := NewStore(kv, "", nil)
	require.NoError(t, store.Save(ctx, types.SlotMarkup, "<main>ü</main>"))
	require.NoError(t, store.Save(ctx, types.SlotStyle, "main{}"))
	require.NoError(t, store.Save(ctx, types.SlotScript, "let a = 1;"))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	defer reopened.Close()

	restored := NewStore(reopened, "", nil)
	restored.LoadAll(ctx)
	assert.Equal(t, "<main>ü</main>", restored.Text(types.SlotMarkup))
	assert.Equal(t, "main{}", restored.Text(types.SlotStyle))
	assert.Equal(t, "let a = 1;", restored.Text(types.SlotScript))
}

func TestSQLiteKVPing(t *testing.T) {
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "panes.db"), 0)
	require.NoError(t, err)

	require.NoError(t, kv.Ping(context.Background()))
	require.NoError(t, kv.Close())
	assert.Error(t, kv.Ping(context.Background()))
}

func TestSQLiteKVQuota(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "panes.db"), 64)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(ctx, "a", strings.Repeat("x", 30)))

	err = kv.Set(ctx, "b", strings.Repeat("x", 40))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrQuotaExceeded))

	// Overwriting an existing key only counts the new value.
	require.NoError(t, kv.Set(ctx, "a", strings.Repeat("y", 60)))
}
