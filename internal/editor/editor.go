// Package editor models the text editing widget the playground drives.
//
// The real widget lives in the browser; the session keeps a Memory mirror of
// it so highlight and layout state can be computed and replayed to clients.
package editor

import (
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/panes/internal/types"
)

// EndOfLine as a range end extends the range to the end of the line.
const EndOfLine = -1

// Mark is a tagged character range on one line of the script buffer.
// Line and columns are 0-based; To is exclusive or EndOfLine.
type Mark struct {
	Line int    `json:"line"`
	From int    `json:"from"`
	To   int    `json:"to"`
	Tag  string `json:"tag"`
}

// Widget is the editor surface consumed by the relay and the line marker.
type Widget interface {
	Text(slot types.Slot) string
	SetText(slot types.Slot, text string)
	OnChange(slot types.Slot, fn func(text string))
	HighlightRange(line0, colStart, colEnd int, tag string)
	ClearHighlights(tag string)
	RefreshLayout()
}

// Memory is an in-memory Widget.
type Memory struct {
	mu       sync.Mutex
	texts    map[types.Slot]string
	marks    []Mark
	handlers map[types.Slot][]func(string)
	layouts  int
}

// NewMemory creates an empty widget.
func NewMemory() *Memory {
	return &Memory{
		texts:    make(map[types.Slot]string),
		handlers: make(map[types.Slot][]func(string)),
	}
}

// Text returns the text of slot.
func (m *Memory) Text(slot types.Slot) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[slot]
}

// SetText replaces the text of slot and runs its change handlers when the
// text differs.
func (m *Memory) SetText(slot types.Slot, text string) {
	m.mu.Lock()
	if m.texts[slot] == text {
		m.mu.Unlock()
		return
	}
	m.texts[slot] = text
	handlers := append([]func(string){}, m.handlers[slot]...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(text)
	}
}

// OnChange registers fn to run after every change of slot.
func (m *Memory) OnChange(slot types.Slot, fn func(text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[slot] = append(m.handlers[slot], fn)
}

// HighlightRange tags a range of the script buffer.
func (m *Memory) HighlightRange(line0, colStart, colEnd int, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line0 = max(line0, 0)
	colStart = max(colStart, 0)
	if colEnd != EndOfLine && colEnd < colStart {
		colEnd = colStart
	}
	m.marks = append(m.marks, Mark{Line: line0, From: colStart, To: colEnd, Tag: tag})
}

// ClearHighlights removes every mark with the given tag.
func (m *Memory) ClearHighlights(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.marks[:0]
	for _, mark := range m.marks {
		if mark.Tag != tag {
			kept = append(kept, mark)
		}
	}
	m.marks = kept
}

// RefreshLayout records a layout refresh.
func (m *Memory) RefreshLayout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts++
}

// Marks returns the current marks, optionally filtered by tag. An empty tag
// returns all of them.
func (m *Memory) Marks(tag string) []Mark {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Mark
	for _, mark := range m.marks {
		if tag == "" || mark.Tag == tag {
			out = append(out, mark)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// Layouts returns how many times the layout was refreshed.
func (m *Memory) Layouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layouts
}

// LineText returns line0 of the script buffer, or "" past the end.
func (m *Memory) LineText(line0 int) string {
	lines := strings.Split(m.Text(types.SlotScript), "\n")
	if line0 < 0 || line0 >= len(lines) {
		return ""
	}
	return strings.TrimSuffix(lines[line0], "\r")
}
