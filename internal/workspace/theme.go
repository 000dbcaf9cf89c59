package workspace

import (
	"context"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/logging"
)

// LoadTheme reads the persisted theme. Storage faults are logged and fall
// back to DefaultTheme.
func LoadTheme(ctx context.Context, kv buffer.KV, namespace string, logger logging.Logger) string {
	theme, ok, err := kv.Get(ctx, namespace+ThemeKey)
	if err != nil {
		if logger != nil {
			logger.Warn(ctx, err, "Failed to load theme, using default")
		}
		return DefaultTheme
	}
	if !ok || !themeName.MatchString(theme) {
		return DefaultTheme
	}
	return theme
}

// SaveTheme persists theme.
func SaveTheme(ctx context.Context, kv buffer.KV, namespace, theme string) error {
	return kv.Set(ctx, namespace+ThemeKey, theme)
}
