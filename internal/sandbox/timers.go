package sandbox

import (
	"context"

	"github.com/dop251/goja"
)

// minInterval keeps zero-delay intervals advancing the virtual clock.
const minInterval = 1

// timer is a pending setTimeout or setInterval callback. Time is virtual:
// due is in milliseconds since the frame loaded and the clock jumps straight
// to the next due timer, so delays cost nothing in wall time.
type timer struct {
	id       int64
	due      int64
	seq      int64
	interval int64
	fn       goja.Callable
	args     []goja.Value
}

func (f *frame) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// string callbacks would need eval
			return f.vm.ToValue(0)
		}

		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		f.timerSeq++
		t := &timer{
			id:   f.timerSeq,
			due:  f.now + delay,
			seq:  f.timerSeq,
			fn:   fn,
			args: args,
		}
		if repeat {
			t.interval = max(delay, minInterval)
		}
		f.timers[t.id] = t
		return f.vm.ToValue(t.id)
	}
}

func (f *frame) clearTimer(call goja.FunctionCall) goja.Value {
	delete(f.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

// next returns the timer that fires first, ordered by due time and then by
// creation.
func (f *frame) next() *timer {
	var first *timer
	for _, t := range f.timers {
		if first == nil || t.due < first.due || (t.due == first.due && t.seq < first.seq) {
			first = t
		}
	}
	return first
}

// drainTimers runs timers in order until none remain, the frame stops, or
// MaxTimers callbacks have run.
func (f *frame) drainTimers() {
	for fired := 0; len(f.timers) > 0; fired++ {
		if fired >= f.cfg.MaxTimers {
			f.logger.Debug(context.Background(), "Timer limit reached",
				"generation", f.generation,
				"pending", len(f.timers),
				"limit", f.cfg.MaxTimers)
			return
		}

		t := f.next()
		f.now = t.due
		if t.interval > 0 {
			f.timerSeq++
			t.seq = f.timerSeq
			t.due += t.interval
		} else {
			delete(f.timers, t.id)
		}

		if _, err := t.fn(goja.Undefined(), t.args...); err != nil && !f.report(err) {
			return
		}
		f.flushRejections()
		if f.stopped() {
			return
		}
	}
}
