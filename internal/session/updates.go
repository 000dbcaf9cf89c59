package session

import (
	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/marker"
	"github.com/conneroisu/panes/internal/workspace"
)

// UpdateType names what an Update carries.
type UpdateType string

const (
	UpdateRender         UpdateType = "render"
	UpdateConsole        UpdateType = "console"
	UpdateHighlight      UpdateType = "highlight"
	UpdateClearHighlight UpdateType = "clear-highlight"
	UpdateLayout         UpdateType = "layout"
	UpdateNotice         UpdateType = "notice"
)

// Update is a change observers mirror to their view.
type Update struct {
	Type UpdateType

	// UpdateRender
	Generation uint64
	Document   string

	// UpdateConsole: the full console after the change.
	Entries []console.Entry

	// UpdateHighlight
	Highlight *marker.Highlight

	// UpdateLayout
	State *workspace.State

	// UpdateNotice
	Message string
}

// Listener receives updates on the session goroutine and must not block.
type Listener func(Update)

// Subscribe registers l and returns a function that removes it.
func (s *Session) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) publish(u Update) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(u)
	}
}
