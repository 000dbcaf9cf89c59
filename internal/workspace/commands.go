package workspace

import (
	"regexp"
	"sort"

	"github.com/conneroisu/panes/internal/errors"
)

// Effect is a side effect the caller performs after a command.
type Effect string

const (
	EffectApplyTheme    Effect = "apply-theme"
	EffectRefreshLayout Effect = "refresh-layout"
	EffectPersistTheme  Effect = "persist-theme"
)

// Command names.
const (
	CmdThemeSet      = "theme.set"
	CmdPanelMaximize = "panel.maximize"
	CmdPanelRestore  = "panel.restore"
	CmdConsoleToggle = "console.toggle"
	CmdConsoleExpand = "console.expand"
)

type handler func(s *State, arg string) ([]Effect, error)

var commands = map[string]handler{
	CmdThemeSet:      setTheme,
	CmdPanelMaximize: maximizePanel,
	CmdPanelRestore:  restorePanel,
	CmdConsoleToggle: toggleConsole,
	CmdConsoleExpand: expandConsole,
}

// Commands returns the known command names, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch applies the named command to s and returns its side effects.
// s is left untouched when an error is returned.
func Dispatch(s *State, name, arg string) ([]Effect, error) {
	h, ok := commands[name]
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeUnknownCommand, "unknown command "+name).
			WithContext("command", name)
	}

	next := s.Clone()
	effects, err := h(&next, arg)
	if err != nil {
		return nil, err
	}
	*s = next
	return effects, nil
}

var themeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,63}$`)

func setTheme(s *State, arg string) ([]Effect, error) {
	if !themeName.MatchString(arg) {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidArgument, "invalid theme name").
			WithContext("theme", arg)
	}
	if s.Theme == arg {
		return nil, nil
	}
	s.Theme = arg
	return []Effect{EffectApplyTheme, EffectPersistTheme}, nil
}

func parseExclusive(arg string) (Panel, error) {
	p, err := ParsePanel(arg)
	if err != nil {
		return "", errors.NewValidationError(errors.ErrCodeInvalidArgument, err.Error())
	}
	return p, nil
}

// maximizePanel toggles p between normal and maximized. Maximizing an
// editor or preview panel restores any other maximized one.
func maximizePanel(s *State, arg string) ([]Effect, error) {
	p, err := parseExclusive(arg)
	if err != nil {
		return nil, err
	}
	if p == PanelConsole {
		return expandConsole(s, "")
	}

	if s.Panels[p] == StateMaximized {
		s.Panels[p] = StateNormal
		return []Effect{EffectRefreshLayout}, nil
	}

	for _, other := range exclusive {
		if s.Panels[other] == StateMaximized {
			s.Panels[other] = StateNormal
		}
	}
	s.Panels[p] = StateMaximized
	return []Effect{EffectRefreshLayout}, nil
}

func restorePanel(s *State, arg string) ([]Effect, error) {
	p, err := parseExclusive(arg)
	if err != nil {
		return nil, err
	}
	if p == PanelConsole {
		if s.Panels[p] == StateMinimized {
			return nil, nil
		}
		s.Panels[p] = StateMinimized
		return []Effect{EffectRefreshLayout}, nil
	}
	if s.Panels[p] == StateNormal {
		return nil, nil
	}
	s.Panels[p] = StateNormal
	return []Effect{EffectRefreshLayout}, nil
}

func toggleConsole(s *State, _ string) ([]Effect, error) {
	if s.Panels[PanelConsole] == StateMaximized {
		s.Panels[PanelConsole] = StateMinimized
	} else {
		s.Panels[PanelConsole] = StateMaximized
	}
	return []Effect{EffectRefreshLayout}, nil
}

func expandConsole(s *State, _ string) ([]Effect, error) {
	if s.Panels[PanelConsole] == StateMaximized {
		return nil, nil
	}
	s.Panels[PanelConsole] = StateMaximized
	return []Effect{EffectRefreshLayout}, nil
}
