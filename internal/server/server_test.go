package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/config"
	"github.com/conneroisu/panes/internal/monitoring"
	"github.com/conneroisu/panes/internal/session"
	"github.com/conneroisu/panes/internal/testutils"
	"github.com/conneroisu/panes/internal/types"
)

type testServer struct {
	server  *Server
	session *session.Session
	clock   *testutils.ManualClock
	metrics *monitoring.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	kv := buffer.NewMemoryKV(0)
	clock := testutils.NewManualClock()
	metrics := monitoring.NewMetrics()

	sess := session.New(session.Config{
		ID:      "test",
		Store:   buffer.NewStore(kv, "", nil),
		KV:      kv,
		Frame:   NewFrame(),
		Delay:   cfg.Render.Debounce,
		Clock:   clock,
		Metrics: metrics,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-sess.Done()
	})

	srv := New(Options{
		Config:  cfg,
		Session: sess,
		Metrics: metrics,
		Health:  monitoring.NewHealthMonitor(testutils.NopLogger(), "test"),
		Version: "v0.0.0-test",
	})
	return &testServer{server: srv, session: sess, clock: clock, metrics: metrics}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.session.Sync(ctx))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestIndexEscapesBuffers(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.session.Edit(types.SlotMarkup, `</textarea><script>alert(1)</script>`))

	rec := ts.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, `data-slot="html"`)
	assert.Contains(t, body, `&lt;/textarea&gt;&lt;script&gt;alert(1)&lt;/script&gt;`)
	assert.Contains(t, body, `sandbox="allow-scripts allow-modals"`)
	assert.Contains(t, body, `href="/api/export/proiect.html"`)
	assert.NotContains(t, body, `</textarea><script>alert(1)`)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/nope", "").Code)
}

func TestPutBuffer(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/buffers/js", "console.log(1)")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/buffers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Buffers []buffer.SourceBuffer `json:"buffers"`
	}
	decode(t, rec, &got)
	require.Len(t, got.Buffers, 3)
	assert.Equal(t, types.SlotScript, got.Buffers[2].Slot)
	assert.Equal(t, "console.log(1)", got.Buffers[2].Text)
}

func TestPutBufferRejectsUnknownSlot(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/buffers/python", "print(1)")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got map[string]string
	decode(t, rec, &got)
	assert.Equal(t, "ERR_UNKNOWN_SLOT", got["code"])
}

func TestPutBufferTooLarge(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPut, "/api/buffers/css", strings.Repeat("a", maxBufferBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPreviewServesComposedDocument(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPut, "/api/buffers/html", "<h1>Hi</h1>")
	ts.sync(t)
	require.True(t, ts.session.Flush())

	rec := ts.do(t, http.MethodGet, "/api/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox allow-scripts allow-modals", rec.Header().Get("Content-Security-Policy"))
	assert.Contains(t, rec.Body.String(), "<h1>Hi</h1>")
	assert.Contains(t, rec.Body.String(), "window.__panes__")
}

func TestExport(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPut, "/api/buffers/css", "h1 { color: red }")

	rec := ts.do(t, http.MethodGet, "/api/export/stil.css", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=stil.css", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "h1 { color: red }", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/export/passwd", "").Code)
}

func TestCommands(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/commands", `{"name":"theme.set","arg":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		Theme  string            `json:"theme"`
		Panels map[string]string `json:"panels"`
	}
	decode(t, rec, &state)
	assert.Equal(t, "dark", state.Theme)
	assert.Equal(t, "minimized", state.Panels["console"])

	rec = ts.do(t, http.MethodPost, "/api/commands", `{"name":"rm -rf"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got map[string]string
	decode(t, rec, &got)
	assert.Equal(t, "ERR_UNKNOWN_COMMAND", got["code"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/commands", `{`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/commands", "").Code)
}

func TestConsoleStartsEmpty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/console", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Entries []consoleLine `json:"entries"`
	}
	decode(t, rec, &got)
	assert.Empty(t, got.Entries)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/buffers", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "panes_")
}

func TestCheckOrigin(t *testing.T) {
	ts := newTestServer(t)
	ts.server.cfg.Server.AllowedOrigins = []string{"https://play.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost:8080", true},
		{"http://127.0.0.1:8080", true},
		{"https://play.example.com", true},
		{"http://localhost:9999", false},
		{"https://evil.example.com", false},
		{"file://localhost:8080", false},
		{"null", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, ts.server.checkOrigin(req))
		})
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func serve(t *testing.T, ts *testServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://" + addr}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// await reads messages until one of type kind arrives.
func await(t *testing.T, conn *websocket.Conn, kind string) outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		var msg outbound
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == kind {
			return msg
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t)
	addr := serve(t, ts)
	conn := dial(t, addr)

	layout := await(t, conn, "layout")
	require.NotNil(t, layout.State)
	assert.Equal(t, "default", layout.State.Theme)

	render := await(t, conn, "render")
	require.NotZero(t, render.Generation)
	assert.Contains(t, render.Document, "window.__panes__")

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"type":       "diagnostic",
		"generation": render.Generation,
		"origin":     "null",
		"data":       map[string]interface{}{"source": "panes", "kind": "log", "payload": []string{"hi"}},
	}))
	msg := await(t, conn, "console")
	require.Len(t, msg.Entries, 1)
	assert.Equal(t, "[LOG] hi", msg.Entries[0].Text)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "edit", "slot": "html", "text": "<p>x</p>"}))
	// The write returns before the read pump has posted the edit.
	waitForMarkup(t, ts, "<p>x</p>")
	ts.clock.Advance(500 * time.Millisecond)
	next := await(t, conn, "render")
	assert.Greater(t, next.Generation, render.Generation)
	assert.Contains(t, next.Document, "<p>x</p>")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "command", "name": "nope"}))
	notice := await(t, conn, "notice")
	assert.Contains(t, notice.Message, "unknown command")
}

func TestOnlyPrimaryClientDiagnosticsAreAccepted(t *testing.T) {
	ts := newTestServer(t)
	addr := serve(t, ts)

	first := dial(t, addr)
	await(t, first, "render")
	second := dial(t, addr)
	render := await(t, second, "render")

	diag := map[string]interface{}{
		"type":       "diagnostic",
		"generation": render.Generation,
		"origin":     "null",
		"data":       map[string]interface{}{"source": "panes", "kind": "warn", "payload": []string{"dup"}},
	}
	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, first, diag))
	require.NoError(t, wsjson.Write(ctx, second, diag))

	msg := await(t, second, "console")
	require.Len(t, msg.Entries, 1)
	assert.Equal(t, "[WARN] dup", msg.Entries[0].Text)

	// Both messages have been handled once the console entry is visible
	// and the read loops are serialized on the session.
	ts.sync(t)
	snap, err := ts.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Console, 1)
}

// waitForMarkup blocks until the session holds text in the markup buffer,
// so the debounce timer is armed before the clock moves.
func waitForMarkup(t *testing.T, ts *testServer, text string) {
	t.Helper()
	testutils.WaitFor(t, 5*time.Second, func() bool {
		snap, err := ts.session.Snapshot(context.Background())
		return err == nil && len(snap.Buffers) > 0 && snap.Buffers[0].Text == text
	})
}

func TestBurstsOfDiagnosticsAndEditsAreNotLimited(t *testing.T) {
	ts := newTestServer(t)
	addr := serve(t, ts)
	conn := dial(t, addr)
	render := await(t, conn, "render")
	// Every console update carries the whole console; keep reading so the
	// connection never backs up while the bursts are handled.
	renders := drain(conn)

	ctx := context.Background()
	diag := func(kind, payload string, location map[string]int) map[string]interface{} {
		data := map[string]interface{}{"source": "panes", "kind": kind, "payload": []string{payload}}
		if location != nil {
			data["location"] = location
		}
		return map[string]interface{}{
			"type":       "diagnostic",
			"generation": render.Generation,
			"origin":     "null",
			"data":       data,
		}
	}

	// Well past the per-connection burst.
	const logs = 150
	for i := 0; i < logs; i++ {
		require.NoError(t, wsjson.Write(ctx, conn, diag("log", fmt.Sprintf("log %d", i), nil)))
	}
	require.NoError(t, wsjson.Write(ctx, conn, diag("error", "boom", map[string]int{"line": 5, "column": 3})))

	testutils.WaitFor(t, 5*time.Second, func() bool {
		snap, err := ts.session.Snapshot(ctx)
		return err == nil && len(snap.Console) == logs+1 && snap.Highlight != nil
	})
	snap, err := ts.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Highlight.Line0)
	assert.Equal(t, 2, snap.Highlight.ColStart0)

	const edits = 200
	last := ""
	for i := 0; i < edits; i++ {
		last = fmt.Sprintf("<p>%d</p>", i)
		require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "edit", "slot": "html", "text": last}))
	}
	waitForMarkup(t, ts, last)
	ts.clock.Advance(500 * time.Millisecond)

	select {
	case next := <-renders:
		assert.Greater(t, next.Generation, render.Generation)
		assert.Contains(t, next.Document, last)
	case <-time.After(5 * time.Second):
		t.Fatal("no render after the edit burst")
	}
	assert.Zero(t, testutil.ToFloat64(ts.metrics.WSRateLimited))
}

// drain reads conn until it closes and forwards the render messages.
func drain(conn *websocket.Conn) <-chan outbound {
	renders := make(chan outbound, 16)
	go func() {
		for {
			var msg outbound
			if err := wsjson.Read(context.Background(), conn, &msg); err != nil {
				return
			}
			if msg.Type == "render" {
				select {
				case renders <- msg:
				default:
				}
			}
		}
	}()
	return renders
}
