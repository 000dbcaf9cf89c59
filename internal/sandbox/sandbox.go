// Package sandbox runs composed documents headlessly.
//
// Each Load starts a fresh goja runtime with a goquery-backed DOM, runs the
// document's scripts, its load events and its timers, and relays everything
// the document posts to its parent as diagnostic envelopes. The runtime has
// no host capabilities beyond the console, timers, the DOM and postMessage.
package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
)

// Sink receives every envelope a loaded document posts. It is called from
// the document's goroutine and must not block for long.
type Sink func(diagnostic.Envelope)

// Config bounds what a document may do.
type Config struct {
	// Timeout bounds one document's total execution time.
	Timeout time.Duration
	// MaxTimers bounds the number of timer callbacks run per document.
	MaxTimers int
	// MaxCallStack bounds the runtime call stack depth.
	MaxCallStack int
	Logger       logging.Logger
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Timeout:      2 * time.Second,
		MaxTimers:    1000,
		MaxCallStack: 1024,
	}
}

// Sandbox is the headless rendering context. Only the most recently loaded
// document runs; loading another interrupts it.
type Sandbox struct {
	cfg    Config
	sink   Sink
	logger logging.Logger

	mu         sync.Mutex
	generation uint64
	current    *frame
	html       string
	closed     bool
	wg         sync.WaitGroup
}

// New creates a sandbox delivering envelopes to sink.
func New(cfg Config, sink Sink) *Sandbox {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxTimers <= 0 {
		cfg.MaxTimers = defaults.MaxTimers
	}
	if cfg.MaxCallStack <= 0 {
		cfg.MaxCallStack = defaults.MaxCallStack
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Sandbox{
		cfg:    cfg,
		sink:   sink,
		logger: logger.WithComponent("sandbox"),
	}
}

// Load replaces the running document with document and returns its
// generation. The document runs asynchronously; Wait blocks until it is done.
// If the document cannot be set up the previous one keeps running.
func (s *Sandbox) Load(ctx context.Context, document string) (uint64, error) {
	f, err := newFrame(document, s.cfg, s.sink, s.logger)
	if err != nil {
		return 0, errors.NewSandboxError(errors.ErrCodeSandboxSetup, "failed to set up document", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.NewSandboxError(errors.ErrCodeSandboxSetup, "sandbox is closed", nil)
	}
	s.generation++
	f.generation = s.generation
	if s.current != nil {
		s.current.vm.Interrupt(reasonReplaced)
	}
	s.current = f
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, f)
	return f.generation, nil
}

func (s *Sandbox) run(ctx context.Context, f *frame) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, nil, "Sandbox document panicked",
				"generation", f.generation,
				"panic", r)
		}
	}()

	deadline := time.AfterFunc(s.cfg.Timeout, func() { f.vm.Interrupt(reasonTimeout) })
	defer deadline.Stop()
	stop := context.AfterFunc(ctx, func() { f.vm.Interrupt(reasonCancelled) })
	defer stop()

	start := time.Now()
	f.run()

	s.logger.Debug(ctx, "Document finished",
		"generation", f.generation,
		"scripts", len(f.scripts),
		"interrupted", f.interrupted,
		"duration", time.Since(start))

	s.mu.Lock()
	if s.current == f {
		s.html = f.dom.html()
	}
	s.mu.Unlock()
}

// Generation returns the generation of the most recent Load.
func (s *Sandbox) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Wait blocks until every loaded document has finished.
func (s *Sandbox) Wait() {
	s.wg.Wait()
}

// HTML returns the DOM of the current document as it was when the document
// finished running.
func (s *Sandbox) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// Close interrupts the current document and waits for it to stop.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.current != nil {
		s.current.vm.Interrupt(reasonCancelled)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
