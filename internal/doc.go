// Package internal contains the core implementation packages for panes.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - types: the three buffer slots (markup, style, script)
//   - buffer: the buffer of record and its key-value persistence (memory, SQLite)
//   - shim: the diagnostic script injected ahead of user code
//   - compose: assembles the preview document and the exported bundle
//   - scheduler: debounces edits into renders
//   - diagnostic: the message protocol between document and host
//   - relay, console, marker: validate diagnostics, list them, mark the failing line
//   - editor, workspace: the editor widget contract and the panel/theme state
//   - sandbox: runs composed documents headlessly in goja
//   - session: the event loop tying the above together
//   - export: delivers the buffers as files
//   - server: HTTP routes, the host page and the websocket hub
//   - watcher: project directory watching with debouncing
//   - config, logging, errors, monitoring, version: ambient concerns
//
// # Inter-Package Communication
//
// A session owns every piece of per-editor state and mutates it only from
// its own goroutine:
//
//   - Edits reach the session from the server, the watcher or the editor widget
//   - The scheduler posts a render once edits go quiet
//   - The frame (browser iframe or sandbox) reports diagnostics back under the
//     generation it was loaded with; stale generations are dropped by the relay
//   - Subscribers such as the websocket hub receive session updates
//
// For detailed documentation, see the individual package documentation.
package internal
