package session

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/editor"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/marker"
	"github.com/conneroisu/panes/internal/monitoring"
	"github.com/conneroisu/panes/internal/testutils"
	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/workspace"
)

type fakeFrame struct {
	mu   sync.Mutex
	docs []string
	gen  uint64
	err  error
}

func (f *fakeFrame) Load(_ context.Context, document string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.gen++
	f.docs = append(f.docs, document)
	return f.gen, nil
}

func (f *fakeFrame) loaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.docs...)
}

func (f *fakeFrame) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type harness struct {
	session *Session
	kv      *buffer.MemoryKV
	frame   *fakeFrame
	clock   *testutils.ManualClock
	widget  *editor.Memory
	metrics *monitoring.Metrics
	cancel  context.CancelFunc

	mu      sync.Mutex
	updates []Update
}

func start(t *testing.T, kv *buffer.MemoryKV) *harness {
	t.Helper()
	h := &harness{
		kv:      kv,
		frame:   &fakeFrame{},
		clock:   testutils.NewManualClock(),
		widget:  editor.NewMemory(),
		metrics: monitoring.NewMetrics(),
	}
	h.session = New(Config{
		ID:      "test",
		Store:   buffer.NewStore(kv, "", nil),
		KV:      kv,
		Frame:   h.frame,
		Widget:  h.widget,
		Delay:   500 * time.Millisecond,
		Clock:   h.clock,
		Metrics: h.metrics,
	})
	h.session.Subscribe(func(u Update) {
		h.mu.Lock()
		h.updates = append(h.updates, u)
		h.mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.session.Done()
	})

	h.sync(t)
	return h
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.session.Sync(ctx))
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.session.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func (h *harness) ofType(kind UpdateType) []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Update
	for _, u := range h.updates {
		if u.Type == kind {
			out = append(out, u)
		}
	}
	return out
}

// edit applies an edit and renders it without waiting for the quiet period.
func (h *harness) edit(t *testing.T, slot types.Slot, text string) {
	t.Helper()
	require.NoError(t, h.session.Edit(slot, text))
	h.sync(t)
	h.session.Flush()
	h.sync(t)
}

func (h *harness) diagnose(t *testing.T, generation uint64, msg diagnostic.Message) {
	t.Helper()
	data, err := diagnostic.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, h.session.Diagnose(diagnostic.Envelope{
		Origin:     diagnostic.SandboxOrigin,
		Generation: generation,
		Data:       data,
	}))
	h.sync(t)
}

func seeded(t *testing.T, values map[string]string) *buffer.MemoryKV {
	t.Helper()
	kv := buffer.NewMemoryKV(0)
	for k, v := range values {
		require.NoError(t, kv.Set(context.Background(), k, v))
	}
	return kv
}

func TestRunRestoresAndRenders(t *testing.T) {
	kv := seeded(t, map[string]string{
		"code_html":   "<p>hi</p>",
		"code_js":     "console.log(1)",
		"editorTheme": "dracula",
	})
	h := start(t, kv)

	snap := h.snapshot(t)
	assert.Equal(t, "test", snap.ID)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Contains(t, snap.Document, "<p>hi</p>")
	assert.Contains(t, snap.Document, "console.log(1)")
	assert.Equal(t, "dracula", snap.State.Theme)
	assert.Equal(t, workspace.StateMinimized, snap.State.Panels[workspace.PanelConsole])

	assert.Equal(t, "<p>hi</p>", h.widget.Text(types.SlotMarkup))
	assert.Equal(t, "console.log(1)", h.widget.Text(types.SlotScript))
	assert.Len(t, h.frame.loaded(), 1)

	renders := h.ofType(UpdateRender)
	require.Len(t, renders, 1)
	assert.Equal(t, uint64(1), renders[0].Generation)
	assert.Equal(t, snap.Document, renders[0].Document)
	assert.NotEmpty(t, h.ofType(UpdateLayout))
}

func TestEditsAreDebounced(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))

	for _, text := range []string{"a", "ab", "abc"} {
		require.NoError(t, h.session.Edit(types.SlotScript, text))
	}
	h.sync(t)
	assert.Len(t, h.frame.loaded(), 1)

	h.clock.Advance(499 * time.Millisecond)
	h.sync(t)
	assert.Len(t, h.frame.loaded(), 1)

	h.clock.Advance(time.Millisecond)
	h.sync(t)
	docs := h.frame.loaded()
	require.Len(t, docs, 2)
	assert.Contains(t, docs[1], "\nabc\n")

	stored, ok, err := h.kv.Get(context.Background(), "code_js")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", stored)
	assert.Equal(t, "abc", h.widget.Text(types.SlotScript))
}

func TestEditRejectsUnknownSlot(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))

	err := h.session.Edit(types.Slot(9), "x")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestLocatedErrorReachesEditorAndLayout(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	gen := h.snapshot(t).Generation

	h.diagnose(t, gen, diagnostic.New(diagnostic.KindLog, nil, "ready", 1))
	h.diagnose(t, gen, diagnostic.New(diagnostic.KindError, &diagnostic.Location{Line: 5, Column: 3}, "x is not defined"))

	snap := h.snapshot(t)
	require.Len(t, snap.Console, 2)
	assert.Equal(t, "[LOG] ready 1", snap.Console[0].Display())
	assert.Equal(t, "[ERROR] x is not defined", snap.Console[1].Display())
	require.NotNil(t, snap.Highlight)
	assert.Equal(t, marker.Highlight{Line0: 4, ColStart0: 2, ColEnd: editor.EndOfLine}, *snap.Highlight)
	assert.Equal(t, workspace.StateMaximized, snap.State.Panels[workspace.PanelConsole])

	assert.Equal(t, []editor.Mark{{Line: 4, From: 2, To: editor.EndOfLine, Tag: marker.Tag}}, h.widget.Marks(marker.Tag))
	assert.Equal(t, 1, h.widget.Layouts())

	highlights := h.ofType(UpdateHighlight)
	require.Len(t, highlights, 1)
	assert.Equal(t, 4, highlights[0].Highlight.Line0)

	layouts := h.ofType(UpdateLayout)
	require.NotEmpty(t, layouts)
	last := layouts[len(layouts)-1]
	assert.Equal(t, workspace.StateMaximized, last.State.Panels[workspace.PanelConsole])

	consoles := h.ofType(UpdateConsole)
	require.NotEmpty(t, consoles)
	assert.Len(t, consoles[len(consoles)-1].Entries, 2)
}

func TestStaleDiagnosticIsDropped(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	h.edit(t, types.SlotScript, "later()")
	require.Equal(t, uint64(2), h.snapshot(t).Generation)

	h.diagnose(t, 1, diagnostic.New(diagnostic.KindError, &diagnostic.Location{Line: 1, Column: 1}, "old"))

	snap := h.snapshot(t)
	assert.Empty(t, snap.Console)
	assert.Nil(t, snap.Highlight)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DroppedMessages.WithLabelValues("stale_generation")))
}

func TestRenderClearsConsoleAndHighlight(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	h.diagnose(t, 1, diagnostic.New(diagnostic.KindError, &diagnostic.Location{Line: 2, Column: 1}, "boom"))
	require.NotNil(t, h.snapshot(t).Highlight)

	h.edit(t, types.SlotScript, "fixed()")

	snap := h.snapshot(t)
	assert.Empty(t, snap.Console)
	assert.Nil(t, snap.Highlight)
	assert.Empty(t, h.widget.Marks(marker.Tag))
	assert.Len(t, h.ofType(UpdateClearHighlight), 2)
}

func TestQuotaExceededNoticeIsShownOnce(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(64))

	h.edit(t, types.SlotMarkup, strings.Repeat("x", 100))
	h.edit(t, types.SlotMarkup, strings.Repeat("y", 100))

	notices := h.ofType(UpdateNotice)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Message, "quota")

	snap := h.snapshot(t)
	assert.True(t, snap.MemoryOnly)
	assert.Equal(t, strings.Repeat("y", 100), snap.Buffers[types.SlotMarkup].Text)
	assert.Contains(t, snap.Document, strings.Repeat("y", 100))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.PersistenceFailures.WithLabelValues(errors.ErrCodeQuotaExceeded)))

	// A clean save re-arms the notice.
	h.edit(t, types.SlotMarkup, "")
	assert.False(t, h.snapshot(t).MemoryOnly)
	h.edit(t, types.SlotMarkup, strings.Repeat("z", 100))
	assert.Len(t, h.ofType(UpdateNotice), 2)
}

func TestThemeCommandPersists(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))

	state, err := h.session.Command(context.Background(), workspace.CmdThemeSet, "dracula")
	require.NoError(t, err)
	assert.Equal(t, "dracula", state.Theme)

	stored, ok, err := h.kv.Get(context.Background(), workspace.ThemeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dracula", stored)

	layouts := h.ofType(UpdateLayout)
	assert.Equal(t, "dracula", layouts[len(layouts)-1].State.Theme)
}

func TestPanelCommandsRefreshLayout(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))

	state, err := h.session.Command(context.Background(), workspace.CmdPanelMaximize, "preview")
	require.NoError(t, err)
	assert.Equal(t, workspace.StateMaximized, state.Panels[workspace.PanelPreview])
	assert.Equal(t, 1, h.widget.Layouts())
}

func TestUnknownCommandLeavesStateAlone(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	before := h.snapshot(t).State

	state, err := h.session.Command(context.Background(), "panel.explode", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, before, state)
}

func TestFrameLoadFailureKeepsPreviousDocument(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	before := h.snapshot(t)

	h.frame.fail(errors.NewSandboxError(errors.ErrCodeSandboxSetup, "no runtime", nil))
	h.edit(t, types.SlotScript, "next()")

	snap := h.snapshot(t)
	assert.Equal(t, before.Generation, snap.Generation)
	assert.Equal(t, before.Document, snap.Document)
	require.Len(t, snap.Console, 1)
	assert.Equal(t, diagnostic.KindError, snap.Console[0].Kind)
	assert.Contains(t, snap.Console[0].Text, "Preview failed to load")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RenderFailures.WithLabelValues("frame")))
}

func TestWidgetEditsFeedTheSession(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))

	h.widget.SetText(types.SlotStyle, "p { color: red }")
	h.sync(t)
	h.session.Flush()
	h.sync(t)

	docs := h.frame.loaded()
	require.Len(t, docs, 2)
	assert.Contains(t, docs[1], "p { color: red }")
}

func TestClosedSessionRejectsEvents(t *testing.T) {
	h := start(t, buffer.NewMemoryKV(0))
	h.cancel()
	<-h.session.Done()

	err := h.session.Edit(types.SlotScript, "x")
	assert.True(t, stderrors.Is(err, ErrClosed))

	_, err = h.session.Snapshot(context.Background())
	assert.True(t, stderrors.Is(err, ErrClosed))

	assert.Error(t, h.session.Run(context.Background()))
}
