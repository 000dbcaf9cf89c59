package sandbox

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/conneroisu/panes/internal/compose"
	"golang.org/x/net/html"
)

// script is one classic script element of a document, with the position its
// text starts at.
type script struct {
	Text   string
	Line   int // 1-based
	Column int // 0-based
}

// padded returns the script text preceded by enough blank lines and spaces
// that positions reported by the runtime are document positions.
func (s script) padded() string {
	var b strings.Builder
	b.Grow(s.Line - 1 + s.Column + len(s.Text))
	b.WriteString(strings.Repeat("\n", s.Line-1))
	b.WriteString(strings.Repeat(" ", s.Column))
	b.WriteString(s.Text)
	return b.String()
}

// extractScripts lists the inline classic scripts of doc in document order.
// External and non-JavaScript scripts are skipped.
func extractScripts(doc string) ([]script, error) {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		scripts []script
		current *script
		offset  int
	)
	for {
		tt := z.Next()
		raw := z.Raw()
		offset += len(raw)

		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				if current != nil {
					scripts = append(scripts, *current)
				}
				return scripts, nil
			}
			return scripts, z.Err()

		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" {
				continue
			}
			runnable := true
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "src":
					runnable = false
				case "type":
					runnable = isJavaScriptType(string(val))
				}
			}
			if !runnable {
				continue
			}
			line, column := position(doc, offset)
			current = &script{Line: line, Column: column}

		case html.TextToken:
			if current != nil {
				current.Text += string(raw)
			}

		case html.EndTagToken:
			if current == nil {
				continue
			}
			if name, _ := z.TagName(); string(name) == "script" {
				scripts = append(scripts, *current)
				current = nil
			}
		}
	}
}

func isJavaScriptType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	default:
		return false
	}
}

// position converts a byte offset into a 1-based line and 0-based column.
func position(doc string, offset int) (int, int) {
	prefix := doc[:offset]
	line := compose.LineBreaks(prefix) + 1
	lineStart := strings.LastIndexAny(prefix, "\r\n") + 1
	return line, utf8.RuneCountInString(prefix[lineStart:])
}
