package compose

import (
	"fmt"
	"strings"
	"testing"

	"github.com/conneroisu/panes/internal/shim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parsed collects the raw-text elements of a composed document.
type parsed struct {
	styles  []string
	scripts []string
	body    *html.Node
}

func parse(t *testing.T, doc string) parsed {
	t.Helper()
	root, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	var p parsed
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Style:
				p.styles = append(p.styles, textOf(n))
			case atom.Script:
				p.scripts = append(p.scripts, textOf(n))
			case atom.Body:
				p.body = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return p
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func TestComposeEmbedsBuffersVerbatim(t *testing.T) {
	markup := `<h1 id="title">Hello &amp; welcome</h1>`
	style := "h1 { color: rebeccapurple; }\n.a > .b { margin: 0 }"
	script := `document.getElementById("title").textContent = "hi";`

	c := Compose(markup, style, script)

	assert.True(t, strings.HasPrefix(c.Document, "<!DOCTYPE html>\n"))
	assert.Contains(t, c.Document, "<style>\n"+style+"\n</style>")
	assert.Contains(t, c.Document, "<body>\n"+markup+"\n<script>")
	assert.Contains(t, c.Document, "\n"+script+"\n}catch(e)")

	p := parse(t, c.Document)
	require.Len(t, p.styles, 1)
	assert.Equal(t, "\n"+style+"\n", p.styles[0])
	require.Len(t, p.scripts, 2)
	assert.True(t, strings.HasPrefix(p.scripts[0], "\n"+shim.Source()))
	assert.True(t, strings.HasSuffix(p.scripts[0], fmt.Sprintf(".base(%d)", c.ScriptLine-1)))
	assert.True(t, strings.HasPrefix(p.scripts[1], "try{\n"+script))
}

func TestComposeEmptyBuffersIsComplete(t *testing.T) {
	c := Compose("", "", "")
	p := parse(t, c.Document)

	require.NotNil(t, p.body)
	assert.Len(t, p.styles, 1)
	assert.Len(t, p.scripts, 2)
	assert.True(t, strings.HasSuffix(c.Document, "</body>\n</html>\n"))
}

func TestComposeShimPrecedesUserScript(t *testing.T) {
	c := Compose("<p>x</p>", "", "console.log(1)")

	shimAt := strings.Index(c.Document, shim.Source())
	markupAt := strings.Index(c.Document, "<p>x</p>")
	userAt := strings.Index(c.Document, "console.log(1)")

	assert.Less(t, shimAt, markupAt)
	assert.Less(t, markupAt, userAt)
}

func TestComposeEscapesClosingScriptTag(t *testing.T) {
	script := "var s = '</script><script>alert(1)</script>';\nvar u = '</SCRIPT >';"
	c := Compose("<div></div>", "", script)

	userRegion := c.Document[strings.Index(c.Document, "try{"):]
	assert.NotContains(t, strings.ToLower(userRegion[:len(userRegion)-len("</script>\n</body>\n</html>\n")]), "</script")
	assert.Contains(t, c.Document, `<\/script><script>alert(1)<\/script>`)
	assert.Contains(t, c.Document, `<\/SCRIPT >`)

	p := parse(t, c.Document)
	require.Len(t, p.scripts, 2, "user script must stay inside one script element")
	assert.Contains(t, p.scripts[1], `var u = '<\/SCRIPT >';`)
}

func TestComposeEscapesCommentOpener(t *testing.T) {
	script := "var s = '<!--<script>';\nconsole.log(s);"
	c := Compose("", "", script)

	p := parse(t, c.Document)
	require.Len(t, p.scripts, 2)
	assert.Contains(t, p.scripts[1], `'<\!--<script>'`)
	assert.True(t, strings.HasSuffix(c.Document, "</body>\n</html>\n"))
}

func TestComposeEscapesClosingStyleTag(t *testing.T) {
	style := "a::after { content: '</style><script>x()</script>'; }"
	c := Compose("", style, "")

	p := parse(t, c.Document)
	require.Len(t, p.styles, 1)
	assert.Contains(t, p.styles[0], `<\/style>`)
	assert.Len(t, p.scripts, 2)
}

func TestComposeScriptLine(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		style  string
	}{
		{"empty", "", ""},
		{"multiline markup", "<ul>\n<li>a</li>\n<li>b</li>\n</ul>", "body{}\n\n"},
		{"crlf markup", "<p>\r\n</p>\r<br>", "a{}\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compose(tt.markup, tt.style, "first();\nsecond();")

			normalised := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(c.Document)
			lines := strings.Split(normalised, "\n")
			require.Greater(t, len(lines), c.ScriptLine)
			assert.Equal(t, "first();", lines[c.ScriptLine-1])
			assert.Equal(t, "second();", lines[c.ScriptLine])
		})
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	a := Compose("<b>1</b>", "b{}", "x()")
	b := Compose("<b>1</b>", "b{}", "x()")
	assert.Equal(t, a, b)
}

func TestBundle(t *testing.T) {
	out := Bundle("<p>hi</p>", "p{}", "console.log('</script>')")
	assert.Equal(t, `<p>hi</p><style>p{}</style><script>console.log('<\/script>')</script>`, out)
}

func TestEscapeScriptLeavesOrdinaryTextAlone(t *testing.T) {
	src := "if (a < b && c > d) { return '<div>'; }"
	assert.Equal(t, src, EscapeScript(src))
}
