package server

import (
	"encoding/json"

	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/session"
	"github.com/conneroisu/panes/internal/workspace"
)

// Client to server message types.
const (
	msgEdit       = "edit"
	msgDiagnostic = "diagnostic"
	msgCommand    = "command"
)

// inbound is a message from the browser host page.
type inbound struct {
	Type string `json:"type"`

	// edit
	Slot string `json:"slot,omitempty"`
	Text string `json:"text,omitempty"`

	// diagnostic: the generation the host page stamped on the iframe
	// message and the origin the browser reported for it.
	Generation uint64          `json:"generation,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	// command
	Name string `json:"name,omitempty"`
	Arg  string `json:"arg,omitempty"`
}

// outbound is a message to the browser host page.
type outbound struct {
	Type       string           `json:"type"`
	Generation uint64           `json:"generation,omitempty"`
	Document   string           `json:"document,omitempty"`
	Entries    []consoleLine    `json:"entries,omitempty"`
	Line       *int             `json:"line,omitempty"`
	From       *int             `json:"from,omitempty"`
	To         *int             `json:"to,omitempty"`
	State      *workspace.State `json:"state,omitempty"`
	Message    string           `json:"message,omitempty"`
}

type consoleLine struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func consoleLines(entries []console.Entry) []consoleLine {
	lines := make([]consoleLine, len(entries))
	for i, e := range entries {
		lines[i] = consoleLine{Kind: string(e.Kind), Text: e.Display()}
	}
	return lines
}

// fromUpdate converts a session update to its wire form.
func fromUpdate(u session.Update) outbound {
	msg := outbound{Type: string(u.Type)}
	switch u.Type {
	case session.UpdateRender:
		msg.Generation = u.Generation
		msg.Document = u.Document
	case session.UpdateConsole:
		msg.Entries = consoleLines(u.Entries)
	case session.UpdateHighlight:
		if u.Highlight != nil {
			line, from, to := u.Highlight.Line0, u.Highlight.ColStart0, u.Highlight.ColEnd
			msg.Line, msg.From, msg.To = &line, &from, &to
		}
	case session.UpdateLayout:
		msg.State = u.State
	case session.UpdateNotice:
		msg.Message = u.Message
	}
	return msg
}

// snapshotMessages replays a snapshot's layout, console and highlight. The
// document itself arrives with the render a new connection triggers.
func snapshotMessages(snap session.Snapshot) []outbound {
	state := snap.State
	msgs := []outbound{{Type: string(session.UpdateLayout), State: &state}}
	msgs = append(msgs, outbound{Type: string(session.UpdateConsole), Entries: consoleLines(snap.Console)})

	if snap.Highlight != nil {
		msgs = append(msgs, fromUpdate(session.Update{Type: session.UpdateHighlight, Highlight: snap.Highlight}))
	}
	return msgs
}
