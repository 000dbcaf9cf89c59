package diagnostic

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Unserializable is shown for payload values the host cannot decode.
const Unserializable = "[Unserializable]"

// Format joins payload values into the single display string shown in the
// console. Strings are shown verbatim; every other value is rendered as
// compact JSON.
func Format(payload []json.RawMessage) string {
	parts := make([]string, 0, len(payload))
	for _, raw := range payload {
		parts = append(parts, formatValue(raw))
	}
	return strings.Join(parts, " ")
}

func formatValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Unserializable
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Unserializable
		}
		return s
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Unserializable
	}
	return buf.String()
}

// Display renders a message the way the console shows it: "[KIND] text".
func Display(m Message) string {
	return "[" + m.Kind.Label() + "] " + Format(m.Payload)
}
