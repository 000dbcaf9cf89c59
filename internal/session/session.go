// Package session coordinates one playground session.
//
// A Session owns the buffers, the render scheduler, the relay with its
// console and line marker, and the workspace UI state. Every input (edits,
// scheduler expiry, diagnostics and commands) is turned into an event and
// handled on the goroutine running Run, so none of that state is touched
// concurrently. Observers receive Updates describing what changed.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/compose"
	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/editor"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/marker"
	"github.com/conneroisu/panes/internal/monitoring"
	"github.com/conneroisu/panes/internal/relay"
	"github.com/conneroisu/panes/internal/scheduler"
	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/workspace"
)

// Frame is the sandboxed rendering context. Load replaces the running
// document and returns the generation its diagnostics will carry.
type Frame interface {
	Load(ctx context.Context, document string) (uint64, error)
}

// eventQueueSize bounds the number of events waiting for the loop.
const eventQueueSize = 256

// ErrClosed is returned once the session loop has stopped.
var ErrClosed = errors.NewInternalError(errors.ErrCodeSessionClosed, "session closed", nil)

// Config holds a session's collaborators. Store and Frame are required.
type Config struct {
	ID             string
	Store          *buffer.Store
	KV             buffer.KV // theme persistence, optional
	Namespace      string
	Frame          Frame
	Widget         editor.Widget
	Console        *console.Console
	Delay          time.Duration
	Clock          scheduler.Clock
	TrustedOrigins []string
	Logger         logging.Logger
	Metrics        *monitoring.Metrics
}

// Session is a single editing session.
type Session struct {
	id        string
	store     *buffer.Store
	kv        buffer.KV
	namespace string
	frame     Frame
	widget    editor.Widget
	console   *console.Console
	marker    *marker.Marker
	relay     *relay.Relay
	scheduler *scheduler.Scheduler
	logger    logging.Logger
	handler   *errors.ErrorHandler
	metrics   *monitoring.Metrics

	events chan func(context.Context)
	done   chan struct{}
	once   sync.Once

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	// Owned by the loop.
	state      workspace.State
	document   string
	scriptLine int
	generation uint64
	noticed    bool
}

// New creates a session. It does nothing until Run is called.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	id := cfg.ID
	if id == "" {
		id = ulid.Make().String()
	}
	logger = logger.WithComponent("session").With("session", id)

	widget := cfg.Widget
	if widget == nil {
		widget = editor.NewMemory()
	}
	cons := cfg.Console
	if cons == nil {
		cons = console.New()
	}

	s := &Session{
		id:        id,
		store:     cfg.Store,
		kv:        cfg.KV,
		namespace: cfg.Namespace,
		frame:     cfg.Frame,
		widget:    widget,
		console:   cons,
		marker:    marker.New(widget),
		logger:    logger,
		handler:   errors.NewErrorHandler(logger),
		metrics:   cfg.Metrics,
		events:    make(chan func(context.Context), eventQueueSize),
		done:      make(chan struct{}),
		listeners: make(map[int]Listener),
		state:     workspace.NewState(workspace.DefaultTheme),
	}

	s.relay = relay.New(relay.Config{
		Console:        s.console,
		Marker:         s.marker,
		Widget:         widget,
		Layout:         relay.LayoutFunc(s.expandConsole),
		TrustedOrigins: cfg.TrustedOrigins,
		Logger:         logger,
		Metrics:        cfg.Metrics,
	})

	var opts []scheduler.Option
	if cfg.Clock != nil {
		opts = append(opts, scheduler.WithClock(cfg.Clock))
	}
	s.scheduler = scheduler.New(cfg.Delay, func() { s.post(s.render) }, opts...)

	s.console.Subscribe(func(entries []console.Entry) {
		s.publish(Update{Type: UpdateConsole, Entries: entries})
	})

	for _, slot := range types.Slots {
		slot := slot
		widget.OnChange(slot, func(text string) {
			// Mirrored edits already match the store.
			if text == s.store.Text(slot) {
				return
			}
			_ = s.Edit(slot, text)
		})
	}

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Widget returns the editor the session drives.
func (s *Session) Widget() editor.Widget {
	return s.widget
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run restores the persisted buffers and theme, renders once, then handles
// events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return errors.NewInternalError(errors.ErrCodeInternalError, "session already running", nil)
	}

	s.metrics.SessionStarted()
	defer s.metrics.SessionEnded()
	defer close(s.done)
	defer s.scheduler.Stop()

	s.logger.Info(ctx, "Session started")
	s.handle(ctx, s.restore)
	s.handle(ctx, s.render)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Session stopped")
			return nil
		case fn := <-s.events:
			s.handle(ctx, fn)
		}
	}
}

// handle runs one event, recovering from panics so a single bad event
// cannot end the session.
func (s *Session) handle(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.handler.Handle(ctx, errors.NewInternalError(errors.ErrCodeInternalError,
				fmt.Sprintf("session event panicked: %v", r), nil))
		}
	}()
	fn(ctx)
}

// post queues fn for the loop. It reports false once the session is closed.
func (s *Session) post(fn func(context.Context)) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	if !s.post(func(ctx context.Context) {
		defer close(finished)
		fn(ctx)
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Sync waits until every event queued before the call has been handled.
func (s *Session) Sync(ctx context.Context) error {
	return s.do(ctx, func(context.Context) {})
}

// Edit replaces the text of slot and schedules a render.
func (s *Session) Edit(slot types.Slot, text string) error {
	if !slot.Valid() {
		return errors.NewValidationError(errors.ErrCodeUnknownSlot, "unknown slot").
			WithContext("slot", int(slot))
	}
	if !s.post(func(context.Context) { s.applyEdit(slot, text) }) {
		return ErrClosed
	}
	return nil
}

func (s *Session) applyEdit(slot types.Slot, text string) {
	if s.store.Text(slot) == text {
		return
	}
	s.store.Set(slot, text)
	s.widget.SetText(slot, text)
	s.scheduler.Changed()
}

// Render queues a render of the current buffers.
func (s *Session) Render() error {
	if !s.post(s.render) {
		return ErrClosed
	}
	return nil
}

// Flush renders now if edits are waiting for the quiescence interval.
func (s *Session) Flush() bool {
	return s.scheduler.Flush()
}

// Diagnose queues a diagnostic envelope from the sandboxed document.
func (s *Session) Diagnose(env diagnostic.Envelope) error {
	if !s.post(func(ctx context.Context) { s.diagnose(ctx, env) }) {
		return ErrClosed
	}
	return nil
}

func (s *Session) diagnose(ctx context.Context, env diagnostic.Envelope) {
	res, err := s.relay.OnMessage(ctx, env)
	if err != nil || !res.Highlighted {
		return
	}
	if h, ok := s.marker.Current(); ok {
		s.publish(Update{Type: UpdateHighlight, Highlight: &h})
	}
}

// Command dispatches a workspace command and returns the resulting state.
func (s *Session) Command(ctx context.Context, name, arg string) (workspace.State, error) {
	var (
		state workspace.State
		err   error
	)
	if doErr := s.do(ctx, func(ctx context.Context) {
		state, err = s.command(ctx, name, arg)
	}); doErr != nil {
		return workspace.State{}, doErr
	}
	return state, err
}

func (s *Session) command(ctx context.Context, name, arg string) (workspace.State, error) {
	effects, err := workspace.Dispatch(&s.state, name, arg)
	if err != nil {
		s.handler.Handle(ctx, err)
		return s.state.Clone(), err
	}
	s.apply(ctx, effects)
	return s.state.Clone(), nil
}

// apply performs a command's side effects.
func (s *Session) apply(ctx context.Context, effects []workspace.Effect) {
	if len(effects) == 0 {
		return
	}
	for _, effect := range effects {
		switch effect {
		case workspace.EffectRefreshLayout:
			s.widget.RefreshLayout()
		case workspace.EffectPersistTheme:
			s.persistTheme(ctx)
		case workspace.EffectApplyTheme:
			// Carried by the layout update below.
		}
	}
	s.publishLayout()
}

func (s *Session) persistTheme(ctx context.Context) {
	if s.kv == nil {
		return
	}
	if err := workspace.SaveTheme(ctx, s.kv, s.namespace, s.state.Theme); err != nil {
		s.logger.Warn(ctx, err, "Failed to persist theme", "theme", s.state.Theme)
		s.metrics.PersistenceFailed(errorCode(err))
	}
}

// expandConsole is the relay's layout hook. The relay refreshes the editor
// layout itself, so only the state change is published.
func (s *Session) expandConsole() {
	effects, err := workspace.Dispatch(&s.state, workspace.CmdConsoleExpand, "")
	if err != nil || len(effects) == 0 {
		return
	}
	s.publishLayout()
}

func (s *Session) publishLayout() {
	state := s.state.Clone()
	s.publish(Update{Type: UpdateLayout, State: &state})
}

// restore loads the persisted buffers and theme and mirrors them into the
// widget.
func (s *Session) restore(ctx context.Context) {
	s.store.LoadAll(ctx)
	for _, slot := range types.Slots {
		s.widget.SetText(slot, s.store.Text(slot))
	}
	if s.kv != nil {
		s.state = workspace.NewState(workspace.LoadTheme(ctx, s.kv, s.namespace, s.logger))
	}
	s.publishLayout()
}

// render composes the buffers, persists them, resets the console and the
// error highlight, and hands the document to the frame under a new
// generation.
func (s *Session) render(ctx context.Context) {
	start := time.Now()

	comp, err := s.compose()
	if err != nil {
		s.handler.Handle(ctx, err)
		s.metrics.RenderFailed("compose")
		return
	}

	s.persist(ctx)
	s.console.Clear()
	s.marker.ClearAll()
	s.publish(Update{Type: UpdateClearHighlight})

	generation, err := s.frame.Load(ctx, comp.Document)
	if err != nil {
		s.handler.Handle(ctx, err)
		s.metrics.RenderFailed("frame")
		s.console.Append(diagnostic.KindError, "Preview failed to load: "+err.Error(), s.generation)
		return
	}

	s.generation = generation
	s.document = comp.Document
	s.scriptLine = comp.ScriptLine
	s.relay.SetGeneration(generation)
	s.metrics.ObserveRender(time.Since(start))
	s.logger.Debug(ctx, "Rendered document", "generation", generation, "bytes", len(comp.Document))

	s.publish(Update{Type: UpdateRender, Generation: generation, Document: comp.Document})
}

func (s *Session) compose() (comp compose.Composition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewCompositionError(errors.ErrCodeComposeFailed,
				fmt.Sprintf("compose panicked: %v", r), nil)
		}
	}()
	return compose.Compose(
		s.store.Text(types.SlotMarkup),
		s.store.Text(types.SlotStyle),
		s.store.Text(types.SlotScript),
	), nil
}

// persist saves every buffer. The first failure after a clean save raises a
// notice; later failures only count.
func (s *Session) persist(ctx context.Context) {
	err := s.store.SaveAll(ctx)
	if err == nil {
		s.noticed = false
		return
	}

	s.metrics.PersistenceFailed(errorCode(err))
	if s.noticed {
		return
	}
	s.noticed = true

	message := "Changes could not be saved and are kept in memory only."
	if stderrors.Is(err, errors.ErrQuotaExceeded) {
		message = "Storage quota exceeded. Changes are kept in memory only."
	}
	s.publish(Update{Type: UpdateNotice, Message: message})
}

func errorCode(err error) string {
	var pe *errors.PanesError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return errors.ErrCodeStorageUnavailable
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	ID         string                `json:"id"`
	Buffers    []buffer.SourceBuffer `json:"buffers"`
	Document   string                `json:"-"`
	ScriptLine int                   `json:"scriptLine"`
	Generation uint64                `json:"generation"`
	Console    []console.Entry       `json:"console"`
	Highlight  *marker.Highlight     `json:"highlight,omitempty"`
	State      workspace.State       `json:"state"`
	MemoryOnly bool                  `json:"memoryOnly"`
}

// Snapshot returns the session state as seen by the loop.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(context.Context) {
		snap = Snapshot{
			ID:         s.id,
			Buffers:    s.store.Snapshot(),
			Document:   s.document,
			ScriptLine: s.scriptLine,
			Generation: s.generation,
			Console:    s.console.Entries(),
			State:      s.state.Clone(),
			MemoryOnly: s.store.MemoryOnly(),
		}
		if h, ok := s.marker.Current(); ok {
			snap.Highlight = &h
		}
	})
	return snap, err
}
