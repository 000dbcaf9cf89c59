// Package marker highlights the script line a located error points at.
package marker

import (
	"sync"

	"github.com/conneroisu/panes/internal/editor"
)

// Tag is the style tag used for error highlights. Other tags on the widget
// are never touched.
const Tag = "error-line"

// Highlight is the active error range, 0-based. ColEnd is editor.EndOfLine
// when the range runs to the end of the line.
type Highlight struct {
	Line0     int `json:"line"`
	ColStart0 int `json:"from"`
	ColEnd    int `json:"to"`
}

// Marker keeps at most one error highlight on the widget.
type Marker struct {
	mu      sync.Mutex
	widget  editor.Widget
	current *Highlight
}

// New creates a marker driving widget.
func New(widget editor.Widget) *Marker {
	return &Marker{widget: widget}
}

// Highlight replaces any error highlight with the range from colStart to
// colEnd on line. All inputs are
// 1-based; colEnd <= 0 runs to the end of the line. Columns below one clamp
// to the first column. A line below one is ignored.
func (m *Marker) Highlight(line, colStart, colEnd int) {
	if line < 1 {
		return
	}

	h := Highlight{
		Line0:     line - 1,
		ColStart0: max(colStart-1, 0),
		ColEnd:    editor.EndOfLine,
	}
	if colEnd > 0 {
		h.ColEnd = max(colEnd-1, h.ColStart0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.widget.ClearHighlights(Tag)
	m.widget.HighlightRange(h.Line0, h.ColStart0, h.ColEnd, Tag)
	m.current = &h
}

// ClearAll removes every error highlight.
func (m *Marker) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.widget.ClearHighlights(Tag)
	m.current = nil
}

// Current returns the active highlight, if any.
func (m *Marker) Current() (Highlight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Highlight{}, false
	}
	return *m.current, true
}
