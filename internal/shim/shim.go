// Package shim generates the diagnostic-capture script injected ahead of user
// code in every composed document.
//
// The script wraps console.log/warn/error/info, installs window.onerror and an
// unhandledrejection listener, and forwards each event to the parent context
// as a tagged message:
//
//	{source: "panes", kind: "log"|"warn"|"error"|"info", payload: [...], location?: {line, column}}
//
// Everything the shim needs (parent.postMessage, the original console methods,
// Array helpers) is captured while it installs, so user code that later
// shadows or reassigns those globals cannot break forwarding. Its only global
// is the frozen, non-enumerable window.__panes__ object used by the
// compositor's fault boundary.
package shim

// Global is the name of the object the shim exposes on window.
const Global = "__panes__"

// MessageSource tags every message the shim posts so the relay can tell it
// apart from unrelated postMessage traffic.
const MessageSource = "panes"

// Source returns the shim script. The text is constant.
func Source() string {
	return source
}

// Runtime errors are reported through onerror, which returns true so the
// browser does not surface the same error a second time.
const source = `(function (w) {
  if (!w || w.__panes__) { return; }
  var host = w.parent || w;
  var send = host && typeof host.postMessage === 'function'
    ? Function.prototype.bind.call(host.postMessage, host)
    : null;
  var slice = Function.prototype.call.bind(Array.prototype.slice);
  var isArray = Array.isArray;
  var keys = Object.keys;
  var con = w.console || (w.console = {});
  var offset = 0;
  var positionPattern = /:(\d+):(\d+)(?:\(\d+\))?\)?\s*$/;

  function describe(value) {
    if (value && typeof value === 'object' && typeof value.message === 'string') {
      return (value.name || 'Error') + ': ' + value.message;
    }
    try { return String(value); } catch (e) { return '[Unserializable]'; }
  }

  function serialize(value, seen, depth) {
    var t = typeof value;
    if (value === null || t === 'string' || t === 'boolean') { return value; }
    if (t === 'number') { return isFinite(value) ? value : String(value); }
    if (t === 'undefined') { return 'undefined'; }
    if (t === 'function') { return '[Function' + (value.name ? ' ' + value.name : '') + ']'; }
    if (t === 'symbol') { return describe(value); }
    if (t === 'bigint') { return String(value) + 'n'; }
    if (value instanceof Error) { return describe(value); }
    for (var s = 0; s < seen.length; s++) {
      if (seen[s] === value) { return '[Circular]'; }
    }
    if (depth > 8) { return '[Object]'; }
    if (typeof value.nodeName === 'string' && value.nodeType) {
      return '<' + value.nodeName.toLowerCase() + '>';
    }
    seen.push(value);
    var out;
    try {
      if (isArray(value)) {
        out = [];
        for (var i = 0; i < value.length; i++) { out.push(serialize(value[i], seen, depth + 1)); }
      } else {
        out = {};
        var names = keys(value);
        for (var k = 0; k < names.length; k++) {
          out[names[k]] = serialize(value[names[k]], seen, depth + 1);
        }
      }
    } catch (e) {
      out = '[Unserializable]';
    }
    seen.pop();
    return out;
  }

  function locate(line, column) {
    line = Number(line);
    column = Number(column);
    if (!line || line - offset < 1) { return null; }
    return { line: line - offset, column: column > 0 ? column : 1 };
  }

  function locateStack(err) {
    var stack = err && typeof err.stack === 'string' ? err.stack.split('\n') : [];
    for (var i = 0; i < stack.length; i++) {
      var m = positionPattern.exec(stack[i]);
      if (m) { return locate(m[1], m[2]); }
    }
    return null;
  }

  function forward(kind, args, location) {
    if (!send) { return; }
    var payload = [];
    for (var i = 0; i < args.length; i++) { payload.push(serialize(args[i], [], 0)); }
    var message = { source: 'panes', kind: kind, payload: payload };
    if (location) { message.location = location; }
    try { send(message, '*'); } catch (e) { /* host gone */ }
  }

  var levels = ['log', 'warn', 'error', 'info'];
  for (var l = 0; l < levels.length; l++) {
    (function (level) {
      var original = con[level];
      con[level] = function () {
        var args = slice(arguments);
        forward(level, args, null);
        if (typeof original === 'function') {
          try { original.apply(con, args); } catch (e) { /* ignore */ }
        }
      };
    })(levels[l]);
  }

  w.onerror = function (message, source, line, column, error) {
    forward('error', [error ? describe(error) : String(message)], locate(line, column));
    return true;
  };

  if (typeof w.addEventListener === 'function') {
    w.addEventListener('unhandledrejection', function (event) {
      var reason = event ? event.reason : undefined;
      forward('error', ['Unhandled promise rejection: ' + describe(reason)], null);
      if (event && typeof event.preventDefault === 'function') { event.preventDefault(); }
    });
  }

  var api = {
    base: function (lines) { offset = Number(lines) || 0; },
    caught: function (err) { forward('error', [describe(err)], locateStack(err)); }
  };
  if (Object.freeze) { Object.freeze(api); }
  Object.defineProperty(w, '__panes__', { value: api, enumerable: false, writable: false, configurable: false });
})(typeof window !== 'undefined' ? window : this);
`
