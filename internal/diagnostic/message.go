// Package diagnostic defines the message protocol between a sandboxed
// document and its host.
//
// Messages are validated at the boundary into the Message tagged union before
// anything else looks at them; malformed input is rejected with a boundary
// error rather than partially processed.
package diagnostic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/shim"
)

// Kind is the diagnostic category.
type Kind string

const (
	KindLog   Kind = "log"
	KindWarn  Kind = "warn"
	KindError Kind = "error"
	KindInfo  Kind = "info"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLog, KindWarn, KindError, KindInfo:
		return true
	default:
		return false
	}
}

// Label is the upper-case prefix shown in the console.
func (k Kind) Label() string {
	return strings.ToUpper(string(k))
}

// Location is a 1-based position in the script buffer.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Message is one diagnostic produced inside the sandbox.
type Message struct {
	Kind     Kind              `json:"kind"`
	Payload  []json.RawMessage `json:"payload"`
	Location *Location         `json:"location,omitempty"`
}

// SandboxOrigin is the origin reported for messages from a sandboxed
// document that was not granted its own origin.
const SandboxOrigin = "null"

// Envelope is a message as received from the host surface, before
// validation. Origin is the sender's origin as reported by the host and
// Generation the sandbox instance that produced it.
type Envelope struct {
	Origin     string          `json:"origin"`
	Generation uint64          `json:"generation"`
	Data       json.RawMessage `json:"data"`
}

// maxPayloadValues bounds how many values a single message may carry.
const maxPayloadValues = 256

// wire is the shape the shim posts.
type wire struct {
	Source   string            `json:"source"`
	Kind     Kind              `json:"kind"`
	Payload  []json.RawMessage `json:"payload"`
	Location *wireLocation     `json:"location"`
}

type wireLocation struct {
	Line   *int `json:"line"`
	Column *int `json:"column"`
	// browsers report colno / lineno in some relays
	Lineno *int `json:"lineno"`
	Colno  *int `json:"colno"`
}

// Decode validates raw message data into a Message.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Message{}, errors.NewBoundaryError(errors.ErrCodeMalformedMessage, "message is not an object")
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, errors.NewBoundaryError(errors.ErrCodeMalformedMessage, "message is not valid JSON: "+err.Error())
	}

	if w.Source != shim.MessageSource {
		return Message{}, errors.NewBoundaryError(errors.ErrCodeMalformedMessage,
			fmt.Sprintf("unexpected message source %q", w.Source))
	}
	if !w.Kind.Valid() {
		return Message{}, errors.NewBoundaryError(errors.ErrCodeMalformedMessage,
			fmt.Sprintf("unknown message kind %q", w.Kind))
	}
	if len(w.Payload) > maxPayloadValues {
		return Message{}, errors.NewBoundaryError(errors.ErrCodeMalformedMessage, "payload too large")
	}

	msg := Message{Kind: w.Kind, Payload: w.Payload}
	if msg.Payload == nil {
		msg.Payload = []json.RawMessage{}
	}

	// Locations are only meaningful on errors; anything else is ignored.
	if w.Kind == KindError && w.Location != nil {
		line := firstInt(w.Location.Line, w.Location.Lineno)
		column := firstInt(w.Location.Column, w.Location.Colno)
		if line > 0 {
			if column < 1 {
				column = 1
			}
			msg.Location = &Location{Line: line, Column: column}
		}
	}

	return msg, nil
}

func firstInt(values ...*int) int {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Encode produces the wire form of m, as the shim would post it.
func Encode(m Message) ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = []json.RawMessage{}
	}
	out := struct {
		Source   string            `json:"source"`
		Kind     Kind              `json:"kind"`
		Payload  []json.RawMessage `json:"payload"`
		Location *Location         `json:"location,omitempty"`
	}{shim.MessageSource, m.Kind, payload, m.Location}
	return json.Marshal(out)
}

// New builds a message from Go values, mainly for tests and host-side
// notices.
func New(kind Kind, location *Location, values ...interface{}) Message {
	payload := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			raw = json.RawMessage(`"[Unserializable]"`)
		}
		payload = append(payload, raw)
	}
	return Message{Kind: kind, Payload: payload, Location: location}
}
