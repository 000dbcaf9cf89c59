package sandbox

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// SourceName is the script URL reported in stack traces and error events,
// matching what a browser reports for an iframe srcdoc document.
const SourceName = "about:srcdoc"

// Interrupt reasons.
const (
	reasonTimeout   = "timeout"
	reasonReplaced  = "replaced"
	reasonCancelled = "cancelled"
)

const queueMicrotask = `Object.defineProperty(this, 'queueMicrotask', {
  value: function (fn) {
    if (typeof fn !== 'function') { throw new TypeError('queueMicrotask: argument is not a function'); }
    Promise.resolve().then(function () { fn(); });
  },
  writable: true, configurable: true, enumerable: false
});`

// frame is one loaded document: a fresh runtime, its DOM and its timers.
// Everything except interrupt runs on the frame's own goroutine.
type frame struct {
	vm         *goja.Runtime
	generation uint64
	sink       Sink
	logger     logging.Logger
	cfg        Config

	scripts []script
	dom     *dom
	window  *eventTarget
	global  *goja.Object

	timers     map[int64]*timer
	timerSeq   int64
	now        int64
	rejections []*goja.Promise

	interrupted string
}

func newFrame(document string, cfg Config, sink Sink, logger logging.Logger) (*frame, error) {
	scripts, err := extractScripts(document)
	if err != nil {
		return nil, fmt.Errorf("tokenize document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(cfg.MaxCallStack)

	f := &frame{
		vm:      vm,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
		scripts: scripts,
		dom:     newDOM(vm, doc),
		window:  newEventTarget(vm),
		global:  vm.GlobalObject(),
		timers:  make(map[int64]*timer),
	}
	if err := f.setupGlobals(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *frame) setupGlobals() error {
	vm := f.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	globals := map[string]interface{}{
		"window":        f.global,
		"self":          f.global,
		"console":       f.console(),
		"parent":        f.parent(),
		"document":      f.dom.document(),
		"setTimeout":    f.setTimer(false),
		"setInterval":   f.setTimer(true),
		"clearTimeout":  f.clearTimer,
		"clearInterval": f.clearTimer,
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	f.window.install(f.global)
	if _, err := vm.RunScript("queueMicrotask", queueMicrotask); err != nil {
		return err
	}

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			f.rejections = append(f.rejections, p)
		case goja.PromiseRejectionHandle:
			for i, r := range f.rejections {
				if r == p {
					f.rejections = append(f.rejections[:i], f.rejections[i+1:]...)
					break
				}
			}
		}
	})
	return nil
}

// console is the runtime's native console. The injected shim wraps it.
func (f *frame) console() *goja.Object {
	obj := f.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			f.logger.Debug(context.Background(), "Sandbox console",
				"level", level,
				"generation", f.generation,
				"message", logging.Truncate(strings.Join(parts, " "), 512))
			return goja.Undefined()
		})
	}
	return obj
}

// parent is the host side of the frame boundary.
func (f *frame) parent() *goja.Object {
	obj := f.vm.NewObject()
	_ = obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		data, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(f.vm.NewTypeError("DataCloneError: " + err.Error()))
		}
		f.post(data)
		return goja.Undefined()
	})
	return obj
}

func (f *frame) post(data []byte) {
	if f.sink == nil {
		return
	}
	f.sink(diagnostic.Envelope{
		Origin:     diagnostic.SandboxOrigin,
		Generation: f.generation,
		Data:       data,
	})
}

// notice posts a host-generated error for this generation.
func (f *frame) notice(text string) {
	data, err := diagnostic.Encode(diagnostic.New(diagnostic.KindError, nil, text))
	if err != nil {
		return
	}
	f.post(data)
}

// run executes the document: every script in order, the load events, then
// timers until none are left or the limit is reached.
func (f *frame) run() {
	for _, s := range f.scripts {
		if !f.runScript(s) {
			return
		}
	}

	documentValue := f.global.Get("document")
	if doc, ok := documentValue.(*goja.Object); ok {
		event, _ := f.dom.events.newEvent("DOMContentLoaded", nil)
		f.dom.events.dispatch(doc, "DOMContentLoaded", event, f.report)
	}
	if f.stopped() {
		return
	}
	load, _ := f.window.newEvent("load", nil)
	f.window.dispatch(f.global, "load", load, f.report)
	f.flushRejections()
	if f.stopped() {
		return
	}

	f.drainTimers()
}

func (f *frame) stopped() bool {
	return f.interrupted != ""
}

// runScript compiles and runs one script element. It returns false once the
// frame has been interrupted.
func (f *frame) runScript(s script) bool {
	ast, err := parser.ParseFile(nil, SourceName, s.padded(), 0)
	if err != nil {
		var list parser.ErrorList
		if stderrors.As(err, &list) && len(list) > 0 {
			f.fireError("SyntaxError: "+list[0].Message, list[0].Position.Line, list[0].Position.Column, goja.Null())
		} else {
			f.fireError("SyntaxError: "+err.Error(), 0, 0, goja.Null())
		}
		return !f.stopped()
	}

	program, err := goja.CompileAST(ast, false)
	if err != nil {
		var syntax *goja.CompilerSyntaxError
		if stderrors.As(err, &syntax) && syntax.File != nil {
			pos := syntax.File.Position(syntax.Offset)
			f.fireError("SyntaxError: "+syntax.Message, pos.Line, pos.Column, goja.Null())
		} else {
			f.fireError(err.Error(), 0, 0, goja.Null())
		}
		return !f.stopped()
	}

	if _, err := f.vm.RunProgram(program); err != nil && !f.report(err) {
		return false
	}
	f.flushRejections()
	return !f.stopped()
}

// report handles an error that escaped a task. It returns false when the
// frame must stop.
func (f *frame) report(err error) bool {
	var interrupted *goja.InterruptedError
	if stderrors.As(err, &interrupted) {
		reason, _ := interrupted.Value().(string)
		if reason == "" {
			reason = reasonCancelled
		}
		f.interrupted = reason
		if reason == reasonTimeout {
			f.notice(fmt.Sprintf("Script execution stopped: exceeded %s", f.cfg.Timeout))
		}
		return false
	}

	var ex *goja.Exception
	if stderrors.As(err, &ex) {
		line, column := 0, 0
		for _, sf := range ex.Stack() {
			if sf.SrcName() != SourceName {
				continue
			}
			pos := sf.Position()
			if pos.Line > 0 {
				line, column = pos.Line, pos.Column
				break
			}
		}
		value := ex.Value()
		if value == nil {
			value = goja.Undefined()
		}
		message := "Uncaught " + value.String()
		f.fireError(message, line, column, value)
		return !f.stopped()
	}

	f.fireError(err.Error(), 0, 0, goja.Null())
	return !f.stopped()
}

// fireError delivers an uncaught error to window.onerror and any "error"
// listeners.
func (f *frame) fireError(message string, line, column int, value goja.Value) {
	handled := false
	if onerror, ok := goja.AssertFunction(f.global.Get("onerror")); ok {
		result, err := onerror(f.global,
			f.vm.ToValue(message), f.vm.ToValue(SourceName),
			f.vm.ToValue(line), f.vm.ToValue(column), value)
		if err != nil {
			f.handlerFailed(err)
		} else if result != nil && result.ToBoolean() {
			handled = true
		}
	}

	if f.window.has("error") && !f.stopped() {
		event, prevented := f.window.newEvent("error", map[string]interface{}{
			"message":  message,
			"filename": SourceName,
			"lineno":   line,
			"colno":    column,
			"error":    value,
		})
		f.window.dispatch(f.global, "error", event, func(err error) bool {
			f.handlerFailed(err)
			return !f.stopped()
		})
		handled = handled || *prevented
	}

	if !handled {
		f.logger.Debug(context.Background(), "Uncaught error in sandbox",
			"generation", f.generation,
			"message", logging.Truncate(message, 512),
			"line", line,
			"column", column)
	}
}

// handlerFailed records an error thrown by an error handler itself. Only
// interruption matters; anything else is dropped as a browser would.
func (f *frame) handlerFailed(err error) {
	var interrupted *goja.InterruptedError
	if stderrors.As(err, &interrupted) {
		f.report(err)
		return
	}
	f.logger.Debug(context.Background(), "Error handler threw", "error", err.Error())
}

// flushRejections dispatches unhandledrejection for promises rejected during
// the last task that still have no handler.
func (f *frame) flushRejections() {
	pending := f.rejections
	f.rejections = nil

	for _, p := range pending {
		if f.stopped() {
			return
		}
		if p.State() != goja.PromiseStateRejected {
			continue
		}

		event, prevented := f.window.newEvent("unhandledrejection", map[string]interface{}{
			"reason": p.Result(),
		})
		if handler, ok := goja.AssertFunction(f.global.Get("onunhandledrejection")); ok {
			if _, err := handler(f.global, event); err != nil {
				f.handlerFailed(err)
			}
		}
		f.window.dispatch(f.global, "unhandledrejection", event, func(err error) bool {
			return f.report(err)
		})

		if !*prevented {
			f.logger.Debug(context.Background(), "Unhandled promise rejection",
				"generation", f.generation,
				"reason", logging.Truncate(p.Result().String(), 512))
		}
	}
}
