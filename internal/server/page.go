package server

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/panes/internal/export"
	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/workspace"
)

type pageData struct {
	Sources export.Sources
	State   workspace.State
	Version string
}

var themes = []string{workspace.DefaultTheme, "dark", "solarized"}

// page renders the host page: three editors, the preview iframe and the
// console. Everything dynamic arrives over the websocket.
func page(d pageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		e := templ.EscapeString[string]

		b.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>panes</title>
<style>` + pageStyle + `</style>
</head>
<body data-theme="` + e(d.State.Theme) + `">
<header class="toolbar">
<strong>panes</strong>
<label>Theme <select data-command="theme.set">`)
		for _, t := range themeOptions(d.State.Theme) {
			selected := ""
			if t == d.State.Theme {
				selected = " selected"
			}
			b.WriteString(`<option value="` + e(t) + `"` + selected + `>` + e(t) + `</option>`)
		}
		b.WriteString(`</select></label>
<nav class="exports">`)
		for _, f := range export.Files {
			b.WriteString(`<a href="/api/export/` + e(f.Name) + `" download>` + e(f.Name) + `</a>`)
		}
		b.WriteString(`</nav>
<span class="version">` + e(d.Version) + `</span>
</header>
<div id="notice" class="notice" hidden></div>
<main class="panes">
`)
		for _, slot := range types.Slots {
			panel := workspace.Panel(slot.Title())
			b.WriteString(`<section class="panel" data-panel="` + e(string(panel)) + `" data-state="` + e(string(d.State.Panels[panel])) + `">
<h2>` + e(panel.Label()) + panelButtons(panel) + `</h2>
<textarea data-slot="` + e(slot.String()) + `" spellcheck="false">` + e(slotText(d.Sources, slot)) + `</textarea>
<div class="error-line" data-marker="` + e(slot.String()) + `" hidden></div>
</section>
`)
		}
		b.WriteString(`<section class="panel" data-panel="preview" data-state="` + e(string(d.State.Panels[workspace.PanelPreview])) + `">
<h2>Preview` + panelButtons(workspace.PanelPreview) + `</h2>
<iframe id="preview" title="preview" sandbox="allow-scripts allow-modals"></iframe>
</section>
<section class="panel" data-panel="console" data-state="` + e(string(d.State.Panels[workspace.PanelConsole])) + `">
<h2>Console <button type="button" data-command="console.toggle">toggle</button></h2>
<ol id="console"></ol>
</section>
</main>
<script>` + pageHelpers + hostScript + `</script>
</body>
</html>
`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func panelButtons(p workspace.Panel) string {
	name := templ.EscapeString(string(p))
	return ` <button type="button" data-command="panel.maximize" data-arg="` + name + `">max</button>` +
		`<button type="button" data-command="panel.restore" data-arg="` + name + `">restore</button>`
}

func themeOptions(current string) []string {
	for _, t := range themes {
		if t == current {
			return themes
		}
	}
	return append([]string{current}, themes...)
}

func slotText(src export.Sources, slot types.Slot) string {
	switch slot {
	case types.SlotMarkup:
		return src.Markup
	case types.SlotStyle:
		return src.Style
	default:
		return src.Script
	}
}

const pageStyle = `
body { margin: 0; font-family: system-ui, sans-serif; background: #fafafa; color: #1e293b; }
body[data-theme="dark"] { background: #0f172a; color: #f1f5f9; }
body[data-theme="solarized"] { background: #fdf6e3; color: #586e75; }
.toolbar { display: flex; gap: 1rem; align-items: center; padding: .5rem 1rem; border-bottom: 1px solid #cbd5e1; }
.exports a { margin-right: .5rem; }
.version { margin-left: auto; opacity: .6; }
.notice { padding: .5rem 1rem; background: #fef3c7; color: #92400e; }
.panes { display: grid; grid-template-columns: repeat(3, 1fr); grid-auto-rows: minmax(12rem, auto); gap: 4px; padding: 4px; }
.panel { position: relative; display: flex; flex-direction: column; border: 1px solid #cbd5e1; min-height: 0; }
.panel h2 { font-size: .8rem; margin: 0; padding: .25rem .5rem; text-transform: uppercase; }
.panel textarea { flex: 1; font: 13px/18px monospace; border: 0; resize: none; padding: 4px; background: transparent; color: inherit; }
.panel[data-panel="preview"], .panel[data-panel="console"] { grid-column: span 3; }
.panel[data-state="minimized"] > :not(h2) { display: none; }
.panel[data-state="maximized"] { position: fixed; inset: 3rem 4px 4px 4px; z-index: 10; background: inherit; }
body[data-theme="dark"] .panel[data-state="maximized"] { background: #0f172a; }
iframe { flex: 1; border: 0; background: #fff; }
.error-line { position: absolute; left: 0; right: 0; height: 18px; font: 13px/18px monospace; background: rgba(220, 38, 38, .2); pointer-events: none; }
#console { margin: 0; padding: .25rem .5rem; font: 12px/16px monospace; overflow: auto; max-height: 16rem; list-style: none; }
#console .error { color: #dc2626; }
#console .warn { color: #d97706; }
#console .info { color: #2563eb; }
`

// pageHelpers are the host page functions that do not touch the DOM.
//
// frameTracker remembers which window the current preview document runs in
// and the generation it was rendered under. stamp returns 0 for any other
// source, including the window of a replaced iframe.
//
// markerBox places the error marker from column from (0-based) to column to,
// or to the end of the line when to is negative. Columns are in ch units of
// the editor's monospace font, after the textarea's 4px padding.
const pageHelpers = `function frameTracker() {
  var current = null, generation = 0;
  return {
    attach: function (win, gen) { current = win; generation = gen; },
    stamp: function (source) { return current !== null && source === current ? generation : 0; }
  };
}
function markerBox(from, to) {
  from = from > 0 ? from : 0;
  var box = {left: 'calc(4px + ' + from + 'ch)', width: '', right: '0'};
  if (typeof to === 'number' && to >= 0) {
    box.width = Math.max(to - from, 1) + 'ch';
    box.right = 'auto';
  }
  return box;
}
`

// hostScript connects the page to the session. Edits and iframe diagnostics
// go up the websocket; renders, console entries, highlights and layout come
// back down. Messages are queued while the socket reconnects.
const hostScript = `(function () {
  var frame = document.getElementById('preview');
  var list = document.getElementById('console');
  var notice = document.getElementById('notice');
  var frames = frameTracker();
  var socket = null, queue = [], retry = 500;

  function send(msg) {
    var text;
    try { text = JSON.stringify(msg); } catch (e) { return; }
    if (socket && socket.readyState === 1) { socket.send(text); } else { queue.push(text); }
  }

  function connect() {
    var proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
    socket = new WebSocket(proto + '//' + location.host + '/ws');
    socket.onopen = function () {
      retry = 500;
      while (queue.length) { socket.send(queue.shift()); }
    };
    socket.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      (handlers[msg.type] || function () {})(msg);
    };
    socket.onclose = function () {
      setTimeout(connect, retry);
      retry = Math.min(retry * 2, 10000);
    };
  }

  function clearMarkers() {
    document.querySelectorAll('[data-marker]').forEach(function (el) { el.hidden = true; });
  }

  var handlers = {
    render: function (msg) {
      // A fresh iframe per render: messages still queued by the previous
      // document come from a window that no longer stamps a generation.
      var next = frame.cloneNode(false);
      next.removeAttribute('srcdoc');
      frame.parentNode.replaceChild(next, frame);
      frame = next;
      frames.attach(frame.contentWindow, msg.generation);
      frame.srcdoc = msg.document || '';
    },
    console: function (msg) {
      list.textContent = '';
      (msg.entries || []).forEach(function (entry) {
        var li = document.createElement('li');
        li.className = entry.kind;
        li.textContent = entry.text;
        list.appendChild(li);
      });
      list.scrollTop = list.scrollHeight;
    },
    highlight: function (msg) {
      clearMarkers();
      var area = document.querySelector('textarea[data-slot="js"]');
      var marker = document.querySelector('[data-marker="js"]');
      if (!area || !marker) { return; }
      var box = markerBox(msg.from, msg.to);
      marker.style.top = (area.offsetTop + 4 + msg.line * 18 - area.scrollTop) + 'px';
      marker.style.left = box.left;
      marker.style.width = box.width;
      marker.style.right = box.right;
      marker.hidden = false;
    },
    'clear-highlight': clearMarkers,
    layout: function (msg) {
      var state = msg.state || {};
      document.body.dataset.theme = state.theme || 'default';
      Object.keys(state.panels || {}).forEach(function (name) {
        var el = document.querySelector('[data-panel="' + name + '"]');
        if (el) { el.dataset.state = state.panels[name]; }
      });
      var select = document.querySelector('select[data-command="theme.set"]');
      if (select && state.theme) { select.value = state.theme; }
    },
    notice: function (msg) {
      notice.textContent = msg.message;
      notice.hidden = false;
    }
  };

  document.querySelectorAll('textarea[data-slot]').forEach(function (area) {
    area.addEventListener('input', function () {
      send({type: 'edit', slot: area.dataset.slot, text: area.value});
    });
  });

  document.addEventListener('click', function (ev) {
    var el = ev.target.closest('button[data-command]');
    if (el) { send({type: 'command', name: el.dataset.command, arg: el.dataset.arg || ''}); }
  });
  document.addEventListener('change', function (ev) {
    var el = ev.target;
    if (el.matches('select[data-command]')) { send({type: 'command', name: el.dataset.command, arg: el.value}); }
  });

  window.addEventListener('message', function (ev) {
    var generation = frames.stamp(ev.source);
    if (!generation) { return; }
    send({type: 'diagnostic', generation: generation, origin: ev.origin, data: ev.data});
  });

  connect();
})();`
