package shim

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	vm        *goja.Runtime
	messages  []map[string]interface{}
	targets   []string
	listeners map[string]goja.Callable
	native    []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{vm: goja.New(), listeners: make(map[string]goja.Callable)}

	global := h.vm.GlobalObject()
	require.NoError(t, global.Set("window", global))

	parent := h.vm.NewObject()
	require.NoError(t, parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		msg, _ := call.Argument(0).Export().(map[string]interface{})
		h.messages = append(h.messages, msg)
		h.targets = append(h.targets, call.Argument(1).String())
		return goja.Undefined()
	}))
	require.NoError(t, global.Set("parent", parent))

	console := h.vm.NewObject()
	require.NoError(t, console.Set("log", func(call goja.FunctionCall) goja.Value {
		h.native = append(h.native, call.Argument(0).String())
		return goja.Undefined()
	}))
	require.NoError(t, global.Set("console", console))

	require.NoError(t, global.Set("addEventListener", func(name string, fn goja.Value) {
		if callable, ok := goja.AssertFunction(fn); ok {
			h.listeners[name] = callable
		}
	}))

	_, err := h.vm.RunScript("shim.js", Source())
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, src string) goja.Value {
	t.Helper()
	v, err := h.vm.RunString(src)
	require.NoError(t, err)
	return v
}

func TestSourceIsDeterministic(t *testing.T) {
	assert.Equal(t, Source(), Source())
	_, err := goja.Compile("shim.js", Source(), false)
	require.NoError(t, err)
}

func TestConsoleForwardingKeepsOriginalBehaviour(t *testing.T) {
	h := newHarness(t)
	h.run(t, `console.log("hello", 42, true, null)`)

	require.Len(t, h.messages, 1)
	msg := h.messages[0]
	assert.Equal(t, MessageSource, msg["source"])
	assert.Equal(t, "log", msg["kind"])
	assert.Equal(t, []interface{}{"hello", int64(42), true, nil}, msg["payload"])
	assert.NotContains(t, msg, "location")
	assert.Equal(t, "*", h.targets[0])
	assert.Equal(t, []string{"hello"}, h.native)
}

func TestAllLevelsForwarded(t *testing.T) {
	h := newHarness(t)
	h.run(t, `console.warn("w"); console.error("e"); console.info("i");`)

	require.Len(t, h.messages, 3)
	assert.Equal(t, "warn", h.messages[0]["kind"])
	assert.Equal(t, "error", h.messages[1]["kind"])
	assert.Equal(t, "info", h.messages[2]["kind"])
}

func TestUnclonableValuesDegradeToPlaceholders(t *testing.T) {
	h := newHarness(t)
	h.run(t, `
		var o = {name: "loop"};
		o.self = o;
		console.log(function greet() {}, Symbol("tag"), undefined, o, [1, [2]], new TypeError("bad"), NaN);
	`)

	require.Len(t, h.messages, 1)
	payload := h.messages[0]["payload"].([]interface{})
	require.Len(t, payload, 7)
	assert.Equal(t, "[Function greet]", payload[0])
	assert.Equal(t, "Symbol(tag)", payload[1])
	assert.Equal(t, "undefined", payload[2])
	assert.Equal(t, map[string]interface{}{"name": "loop", "self": "[Circular]"}, payload[3])
	assert.Equal(t, []interface{}{int64(1), []interface{}{int64(2)}}, payload[4])
	assert.Equal(t, "TypeError: bad", payload[5])
	assert.Equal(t, "NaN", payload[6])
}

func TestOnErrorSuppressesDefaultAndTranslatesLines(t *testing.T) {
	h := newHarness(t)
	h.run(t, `window.__panes__.base(10)`)

	handled := h.run(t, `window.onerror("Uncaught ReferenceError: x is not defined", "about:srcdoc", 15, 3)`)
	assert.True(t, handled.ToBoolean())

	require.Len(t, h.messages, 1)
	msg := h.messages[0]
	assert.Equal(t, "error", msg["kind"])
	assert.Equal(t, []interface{}{"Uncaught ReferenceError: x is not defined"}, msg["payload"])
	assert.Equal(t, map[string]interface{}{"line": int64(5), "column": int64(3)}, msg["location"])
}

func TestOnErrorOutsideUserScriptHasNoLocation(t *testing.T) {
	h := newHarness(t)
	h.run(t, `window.__panes__.base(10)`)
	h.run(t, `window.onerror("boom", "about:srcdoc", 4, 1)`)

	require.Len(t, h.messages, 1)
	assert.NotContains(t, h.messages[0], "location")
}

func TestCaughtUsesStackPosition(t *testing.T) {
	h := newHarness(t)
	h.run(t, `window.__panes__.base(1)`)
	_, err := h.vm.RunScript("doc.html", "\n\n\ntry { missing(); } catch (e) { window.__panes__.caught(e); }")
	require.NoError(t, err)

	require.Len(t, h.messages, 1)
	msg := h.messages[0]
	assert.Equal(t, []interface{}{"ReferenceError: missing is not defined"}, msg["payload"])
	loc, ok := msg["location"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(3), loc["line"])
}

func TestUnhandledRejectionListener(t *testing.T) {
	h := newHarness(t)
	listener, ok := h.listeners["unhandledrejection"]
	require.True(t, ok)

	prevented := false
	event := h.vm.NewObject()
	require.NoError(t, event.Set("reason", h.vm.NewGoError(assert.AnError)))
	require.NoError(t, event.Set("preventDefault", func() { prevented = true }))

	_, err := listener(goja.Undefined(), event)
	require.NoError(t, err)

	require.Len(t, h.messages, 1)
	assert.Equal(t, "error", h.messages[0]["kind"])
	assert.NotContains(t, h.messages[0], "location")
	assert.True(t, prevented)
}

func TestGlobalIsNotEnumerableOrWritable(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.run(t, `Object.keys(window).indexOf("__panes__") >= 0`).ToBoolean())
	h.run(t, `window.__panes__ = null`)
	assert.False(t, h.run(t, `window.__panes__ === null`).ToBoolean())
}

func TestShadowingParentAfterInstallStillForwards(t *testing.T) {
	h := newHarness(t)
	h.run(t, `var parent = null; console.log("still here")`)
	require.Len(t, h.messages, 1)
}
