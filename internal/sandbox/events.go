package sandbox

import (
	"github.com/dop251/goja"
)

// eventTarget implements addEventListener and removeEventListener for one
// object. Dispatch is driven from Go.
type eventTarget struct {
	vm        *goja.Runtime
	listeners map[string][]listener
}

type listener struct {
	value goja.Value
	fn    goja.Callable
}

func newEventTarget(vm *goja.Runtime) *eventTarget {
	return &eventTarget{vm: vm, listeners: make(map[string][]listener)}
}

func (t *eventTarget) install(obj *goja.Object) {
	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		kind := call.Argument(0).String()
		for _, l := range t.listeners[kind] {
			if l.value.SameAs(call.Argument(1)) {
				return goja.Undefined()
			}
		}
		t.listeners[kind] = append(t.listeners[kind], listener{value: call.Argument(1), fn: fn})
		return goja.Undefined()
	})
	_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		kept := t.listeners[kind][:0]
		for _, l := range t.listeners[kind] {
			if !l.value.SameAs(call.Argument(1)) {
				kept = append(kept, l)
			}
		}
		t.listeners[kind] = kept
		return goja.Undefined()
	})
}

// has reports whether any listener is registered for kind.
func (t *eventTarget) has(kind string) bool {
	return len(t.listeners[kind]) > 0
}

// newEvent creates an event object. defaultPrevented is tracked through the
// returned pointer.
func (t *eventTarget) newEvent(kind string, fields map[string]interface{}) (*goja.Object, *bool) {
	prevented := new(bool)
	event := t.vm.NewObject()
	_ = event.Set("type", kind)
	for k, v := range fields {
		_ = event.Set(k, v)
	}
	_ = event.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		*prevented = true
		_ = event.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	_ = event.Set("defaultPrevented", false)
	return event, prevented
}

// dispatch calls every listener for kind with this bound to target. A
// listener error is passed to fail; dispatch stops when fail returns false.
func (t *eventTarget) dispatch(target goja.Value, kind string, event goja.Value, fail func(error) bool) {
	// listeners added during dispatch run on the next dispatch
	current := append([]listener(nil), t.listeners[kind]...)
	for _, l := range current {
		if _, err := l.fn(target, event); err != nil && !fail(err) {
			return
		}
	}
}
