// Package compose merges the markup, style and script buffers plus the
// diagnostic shim into a single self-contained document.
//
// Compose is a pure function of its three inputs. User markup and style are
// embedded verbatim apart from the sequences that would terminate their
// enclosing raw-text element early; user script is additionally wrapped in a
// fault boundary that reports a thrown error through the shim instead of
// aborting the page.
package compose

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/conneroisu/panes/internal/shim"
)

// Composition is the result of one compose call.
type Composition struct {
	// Document is the complete renderable document.
	Document string
	// ScriptLine is the 1-based document line on which user script begins.
	ScriptLine int
}

var (
	scriptCloser  = regexp.MustCompile(`(?i)</(script)`)
	styleCloser   = regexp.MustCompile(`(?i)</(style)`)
	commentOpener = regexp.MustCompile(`<!--`)
)

// EscapeScript neutralises sequences that would end the embedded script
// region early. "</script" becomes "<\/script" and "<!--" becomes "<\!--";
// both escapes are no-ops inside JavaScript string and regexp literals.
func EscapeScript(script string) string {
	script = scriptCloser.ReplaceAllString(script, `<\/$1`)
	return commentOpener.ReplaceAllString(script, `<\!--`)
}

// EscapeStyle neutralises "</style" inside style text. CSS treats "\/" as
// an escaped solidus.
func EscapeStyle(style string) string {
	return styleCloser.ReplaceAllString(style, `<\/$1`)
}

const (
	head = "<!DOCTYPE html>\n" +
		"<html>\n" +
		"<head>\n" +
		"<meta charset=\"utf-8\">\n" +
		"<style>\n"
	afterStyle  = "\n</style>\n<script>\n"
	afterShim   = "</script>\n</head>\n<body>\n"
	afterMarkup = "\n<script>"
	// Opening of the fault boundary; the user script starts on the next line.
	boundaryOpen  = "try{\n"
	boundaryClose = "\n}catch(e){window." + shim.Global + "?window." + shim.Global + ".caught(e):void 0}</script>\n" +
		"</body>\n" +
		"</html>\n"
)

// Compose builds the preview document for the given buffers.
//
// Layout: style in the head, then the shim, so overrides are installed before
// any user code; markup at the top of the body; user script last so DOM
// queries see the rendered markup.
//
// The shim element ends by registering the script line offset. It runs
// before, and separately from, the user script element, so positions are
// translated even when the user script fails to parse.
func Compose(markup, style, script string) Composition {
	style = EscapeStyle(style)
	script = EscapeScript(script)

	before := head + style + afterStyle + shim.Source()
	after := afterShim + markup + afterMarkup + boundaryOpen
	// Neither piece's line count depends on the other: the registration call
	// between them contains no line terminators.
	offset := LineBreaks(before) + LineBreaks(after)

	var b strings.Builder
	b.Grow(len(before) + len(after) + len(script) + len(boundaryClose) + 64)
	b.WriteString(before)
	b.WriteString("window." + shim.Global + "&&window." + shim.Global + ".base(" + strconv.Itoa(offset) + ")")
	b.WriteString(after)
	b.WriteString(script)
	b.WriteString(boundaryClose)

	return Composition{
		Document:   b.String(),
		ScriptLine: offset + 1,
	}
}

// LineBreaks counts line terminators the way an HTML parser normalises them:
// CRLF and a lone CR each count once.
func LineBreaks(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			n++
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			n++
		}
	}
	return n
}

// Bundle builds the exported single-file project: markup followed by the
// style and script regions, without the shim or fault boundary.
func Bundle(markup, style, script string) string {
	var b strings.Builder
	b.WriteString(markup)
	b.WriteString("<style>")
	b.WriteString(EscapeStyle(style))
	b.WriteString("</style>")
	b.WriteString("<script>")
	b.WriteString(EscapeScript(script))
	b.WriteString("</script>")
	return b.String()
}
