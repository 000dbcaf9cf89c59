// Package relay accepts diagnostic messages from the sandboxed document and
// applies them to the console and the script editor.
//
// Messages arrive asynchronously and may outlive the document that produced
// them, so every envelope is checked against the sandbox origin and the
// current generation before it is decoded.
package relay

import (
	"context"
	"sync"

	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/editor"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/marker"
	"github.com/conneroisu/panes/internal/monitoring"
)

// Layout is the part of the page layout the relay drives.
type Layout interface {
	// ExpandConsole maximizes the console panel.
	ExpandConsole()
}

// LayoutFunc adapts a function to Layout.
type LayoutFunc func()

// ExpandConsole calls f.
func (f LayoutFunc) ExpandConsole() { f() }

// Result describes what an accepted message changed.
type Result struct {
	Message     diagnostic.Message
	Appended    bool
	Highlighted bool
}

// Config holds the relay's collaborators.
type Config struct {
	Console        *console.Console
	Marker         *marker.Marker
	Widget         editor.Widget
	Layout         Layout
	TrustedOrigins []string
	Logger         logging.Logger
	Metrics        *monitoring.Metrics
}

// Relay validates and applies diagnostic messages.
type Relay struct {
	console *console.Console
	marker  *marker.Marker
	widget  editor.Widget
	layout  Layout
	trusted map[string]bool
	logger  logging.Logger
	handler *errors.ErrorHandler
	metrics *monitoring.Metrics

	mu         sync.RWMutex
	generation uint64
}

// New creates a relay.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("relay")

	trusted := map[string]bool{diagnostic.SandboxOrigin: true}
	for _, origin := range cfg.TrustedOrigins {
		trusted[origin] = true
	}

	return &Relay{
		console: cfg.Console,
		marker:  cfg.Marker,
		widget:  cfg.Widget,
		layout:  cfg.Layout,
		trusted: trusted,
		logger:  logger,
		handler: errors.NewErrorHandler(logger),
		metrics: cfg.Metrics,
	}
}

// SetGeneration makes g the only generation whose messages are accepted.
func (r *Relay) SetGeneration(g uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation = g
}

// Generation returns the current generation.
func (r *Relay) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// OnMessage applies one envelope. Dropped envelopes return a boundary error
// and change nothing.
func (r *Relay) OnMessage(ctx context.Context, env diagnostic.Envelope) (Result, error) {
	if !r.trusted[env.Origin] {
		return Result{}, r.drop(ctx, "untrusted_origin",
			errors.NewBoundaryError(errors.ErrCodeUntrustedOrigin, "message from untrusted origin").
				WithContext("origin", env.Origin))
	}

	current := r.Generation()
	if env.Generation != current {
		return Result{}, r.drop(ctx, "stale_generation",
			errors.NewBoundaryError(errors.ErrCodeStaleGeneration, "message from a replaced document").
				WithContext("generation", env.Generation).
				WithContext("current", current))
	}

	msg, err := diagnostic.Decode(env.Data)
	if err != nil {
		return Result{}, r.drop(ctx, "malformed", err)
	}

	return r.apply(msg, env.Generation), nil
}

func (r *Relay) apply(msg diagnostic.Message, generation uint64) Result {
	r.metrics.Diagnostic(string(msg.Kind))

	res := Result{Message: msg}
	res.Appended = r.console.Append(msg.Kind, diagnostic.Format(msg.Payload), generation)

	if msg.Kind != diagnostic.KindError || msg.Location == nil {
		return res
	}

	r.marker.ClearAll()
	r.marker.Highlight(msg.Location.Line, msg.Location.Column, 0)
	res.Highlighted = true
	r.metrics.Highlighted()

	if r.layout != nil {
		r.layout.ExpandConsole()
	}
	if r.widget != nil {
		r.widget.RefreshLayout()
	}
	return res
}

func (r *Relay) drop(ctx context.Context, reason string, err error) error {
	r.metrics.Dropped(reason)
	r.handler.Handle(ctx, err)
	return err
}
