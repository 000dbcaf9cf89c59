package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/config"
	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/editor"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/sandbox"
	"github.com/conneroisu/panes/internal/session"
	"github.com/conneroisu/panes/internal/types"
)

// headless is a session rendering into the goja sandbox instead of a
// browser frame.
type headless struct {
	session *session.Session
	sandbox *sandbox.Sandbox
	widget  *editor.Memory

	cancel context.CancelFunc
	errCh  chan error
}

// startHeadless seeds an in-memory store with sources and starts a session
// on it. The first render is queued immediately.
func startHeadless(ctx context.Context, cfg *config.Config, sources map[types.Slot]string, logger logging.Logger) (*headless, error) {
	kv := buffer.NewMemoryKV(0)
	store := buffer.NewStore(kv, "", logger)
	for slot, text := range sources {
		if err := kv.Set(ctx, store.Key(slot), text); err != nil {
			return nil, err
		}
	}

	h := &headless{
		widget: editor.NewMemory(),
		errCh:  make(chan error, 1),
	}
	h.sandbox = sandbox.New(sandbox.Config{
		Timeout:      cfg.Render.Timeout,
		MaxTimers:    cfg.Render.MaxTimers,
		MaxCallStack: cfg.Render.MaxCallStack,
		Logger:       logger,
	}, func(env diagnostic.Envelope) {
		_ = h.session.Diagnose(env)
	})
	h.session = session.New(session.Config{
		Store:   store,
		Frame:   h.sandbox,
		Widget:  h.widget,
		Console: console.New(console.WithMaxEntries(cfg.Console.MaxEntries)),
		Delay:   cfg.Render.Debounce,
		Logger:  logger,
	})

	ctx, h.cancel = context.WithCancel(ctx)
	go func() {
		h.errCh <- h.session.Run(ctx)
	}()
	return h, nil
}

// settle waits for the queued render, the document it loaded and every
// diagnostic that document posted.
func (h *headless) settle(ctx context.Context) error {
	if err := h.session.Sync(ctx); err != nil {
		return err
	}
	h.sandbox.Wait()
	return h.session.Sync(ctx)
}

// edit applies sources and renders them without waiting for quiescence.
func (h *headless) edit(ctx context.Context, sources map[types.Slot]string) error {
	for _, slot := range types.Slots {
		if err := h.session.Edit(slot, sources[slot]); err != nil {
			return err
		}
	}
	if err := h.session.Sync(ctx); err != nil {
		return err
	}
	h.session.Flush()
	return h.settle(ctx)
}

func (h *headless) close() error {
	h.cancel()
	err := <-h.errCh
	if cerr := h.sandbox.Close(); err == nil {
		err = cerr
	}
	return err
}

// report prints the console and the highlighted script line to w and
// returns the number of error entries.
func (h *headless) report(ctx context.Context, w io.Writer) (int, error) {
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	errorCount := 0
	for _, entry := range snap.Console {
		if entry.Kind == diagnostic.KindError {
			errorCount++
		}
		kindColor(entry.Kind).Fprintln(w, entry.Display())
	}
	if len(snap.Console) == 0 {
		color.New(color.Faint).Fprintln(w, "(console is empty)")
	}

	if hl := snap.Highlight; hl != nil {
		line := h.widget.LineText(hl.Line0)
		fmt.Fprintf(w, "\n%s:%d\n", types.SlotScript.FileName(), hl.Line0+1)
		color.New(color.FgRed).Fprintf(w, "  %s\n", strings.TrimRight(line, "\r"))
	}
	return errorCount, nil
}

func kindColor(kind diagnostic.Kind) *color.Color {
	switch kind {
	case diagnostic.KindError:
		return color.New(color.FgRed, color.Bold)
	case diagnostic.KindWarn:
		return color.New(color.FgYellow)
	case diagnostic.KindInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}
