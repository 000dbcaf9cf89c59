// Package workspace holds the playground's UI state: the editor theme and
// the size of each panel.
//
// State changes only through Dispatch, which looks the command up in a fixed
// table and reports the side effects the caller must carry out.
package workspace

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Panel identifies a resizable region of the page.
type Panel string

const (
	PanelMarkup  Panel = "markup"
	PanelStyle   Panel = "style"
	PanelScript  Panel = "script"
	PanelPreview Panel = "preview"
	PanelConsole Panel = "console"
)

// Panels lists every panel in page order.
var Panels = []Panel{PanelMarkup, PanelStyle, PanelScript, PanelPreview, PanelConsole}

// exclusive panels are the ones among which at most one may be maximized.
var exclusive = []Panel{PanelMarkup, PanelStyle, PanelScript, PanelPreview}

var titler = cases.Title(language.English)

// Label is the heading shown for the panel.
func (p Panel) Label() string {
	return titler.String(string(p))
}

// ParsePanel accepts a panel name. Slot short names are accepted for the
// editor panels.
func ParsePanel(name string) (Panel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "markup", "html":
		return PanelMarkup, nil
	case "style", "css":
		return PanelStyle, nil
	case "script", "js":
		return PanelScript, nil
	case "preview":
		return PanelPreview, nil
	case "console":
		return PanelConsole, nil
	default:
		return "", fmt.Errorf("unknown panel %q", name)
	}
}

// PanelState is the size of a panel.
type PanelState string

const (
	StateNormal    PanelState = "normal"
	StateMinimized PanelState = "minimized"
	StateMaximized PanelState = "maximized"
)

// DefaultTheme is used until a theme has been chosen.
const DefaultTheme = "default"

// ThemeKey is the key the chosen theme is persisted under.
const ThemeKey = "editorTheme"

// State is the UI state of one session.
type State struct {
	Theme  string               `json:"theme" yaml:"theme"`
	Panels map[Panel]PanelState `json:"panels" yaml:"panels"`
}

// NewState returns the initial state: every panel normal except the
// console, which starts minimized.
func NewState(theme string) State {
	if theme == "" {
		theme = DefaultTheme
	}
	s := State{Theme: theme, Panels: make(map[Panel]PanelState, len(Panels))}
	for _, p := range Panels {
		s.Panels[p] = StateNormal
	}
	s.Panels[PanelConsole] = StateMinimized
	return s
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Theme: s.Theme, Panels: make(map[Panel]PanelState, len(s.Panels))}
	for p, st := range s.Panels {
		out.Panels[p] = st
	}
	return out
}

// Maximized returns the maximized exclusive panel, if any.
func (s State) Maximized() (Panel, bool) {
	for _, p := range exclusive {
		if s.Panels[p] == StateMaximized {
			return p, true
		}
	}
	return "", false
}
