// Package types provides common type definitions used throughout panes.
// This package contains shared types to avoid circular dependencies between packages.
package types

import (
	"fmt"
	"strings"
)

// Slot identifies one of the three source buffers. There is exactly one
// buffer per slot for the lifetime of a session.
type Slot int

const (
	// SlotMarkup holds the body markup
	SlotMarkup Slot = iota
	// SlotStyle holds the stylesheet text
	SlotStyle
	// SlotScript holds the user script
	SlotScript
)

// Slots lists every slot in display order.
var Slots = [...]Slot{SlotMarkup, SlotStyle, SlotScript}

// String returns the short language name used in keys, URLs and wire messages.
func (s Slot) String() string {
	switch s {
	case SlotMarkup:
		return "html"
	case SlotStyle:
		return "css"
	case SlotScript:
		return "js"
	default:
		return "unknown"
	}
}

// Title returns the human readable slot name shown in the UI.
func (s Slot) Title() string {
	switch s {
	case SlotMarkup:
		return "markup"
	case SlotStyle:
		return "style"
	case SlotScript:
		return "script"
	default:
		return "unknown"
	}
}

// FileName is the file a project directory keeps the slot's source in.
func (s Slot) FileName() string {
	switch s {
	case SlotMarkup:
		return "index.html"
	case SlotStyle:
		return "style.css"
	case SlotScript:
		return "script.js"
	default:
		return ""
	}
}

// SlotForFile maps a project file name back to its slot.
func SlotForFile(name string) (Slot, bool) {
	for _, slot := range Slots {
		if slot.FileName() == name {
			return slot, true
		}
	}
	return 0, false
}

// Valid reports whether s is one of the three known slots.
func (s Slot) Valid() bool {
	return s >= SlotMarkup && s <= SlotScript
}

// ParseSlot accepts either the short name ("js") or the title ("script").
func ParseSlot(name string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "html", "markup":
		return SlotMarkup, nil
	case "css", "style":
		return SlotStyle, nil
	case "js", "script", "javascript":
		return SlotScript, nil
	default:
		return 0, fmt.Errorf("unknown slot %q", name)
	}
}

// MarshalText encodes the slot as its short name.
func (s Slot) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid slot %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a short name or title.
func (s *Slot) UnmarshalText(text []byte) error {
	parsed, err := ParseSlot(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
