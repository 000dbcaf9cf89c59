// Package console holds the diagnostic console shown beside the preview.
package console

import (
	"sync"
	"time"

	"github.com/conneroisu/panes/internal/diagnostic"
)

// DefaultMaxEntries bounds the console when no limit is configured.
const DefaultMaxEntries = 1000

// Entry is one line in the console.
type Entry struct {
	Kind       diagnostic.Kind `json:"kind"`
	Text       string          `json:"text"`
	Generation uint64          `json:"generation"`
	Time       time.Time       `json:"time"`
}

// Display is the text shown for the entry, e.g. "[ERROR] x is not defined".
func (e Entry) Display() string {
	return "[" + e.Kind.Label() + "] " + e.Text
}

// Listener is notified after every change with a copy of the entries.
type Listener func(entries []Entry)

// Console is an append-only list of entries, cleared on every render. The
// oldest entries are dropped once the limit is reached.
type Console struct {
	mu        sync.RWMutex
	entries   []Entry
	max       int
	listeners []Listener
	now       func() time.Time
}

// Option configures a Console.
type Option func(*Console)

// WithMaxEntries sets the entry limit. Values below one select the default.
func WithMaxEntries(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithNow sets the time source used to stamp entries.
func WithNow(now func() time.Time) Option {
	return func(c *Console) {
		c.now = now
	}
}

// New creates an empty console.
func New(opts ...Option) *Console {
	c := &Console{
		max: DefaultMaxEntries,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds an entry unless its display text is identical to the most
// recent entry. It reports whether the entry was added.
func (c *Console) Append(kind diagnostic.Kind, text string, generation uint64) bool {
	c.mu.Lock()
	entry := Entry{Kind: kind, Text: text, Generation: generation, Time: c.now()}
	if n := len(c.entries); n > 0 && c.entries[n-1].Display() == entry.Display() {
		c.mu.Unlock()
		return false
	}

	c.entries = append(c.entries, entry)
	if over := len(c.entries) - c.max; over > 0 {
		c.entries = append(c.entries[:0:0], c.entries[over:]...)
	}
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// Clear removes every entry.
func (c *Console) Clear() {
	c.mu.Lock()
	c.entries = nil
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	notify(listeners, snapshot)
}

// Entries returns a copy of the current entries, oldest first.
func (c *Console) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lines returns the display text of every entry.
func (c *Console) Lines() []string {
	entries := c.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Display()
	}
	return lines
}

// Len returns the number of entries.
func (c *Console) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ScrollTop is the index of the newest entry, where the view should be
// scrolled to. It is -1 when the console is empty.
func (c *Console) ScrollTop() int {
	return c.Len() - 1
}

// Subscribe registers a listener.
func (c *Console) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Console) snapshotLocked() ([]Entry, []Listener) {
	if len(c.listeners) == 0 {
		return nil, nil
	}
	snapshot := make([]Entry, len(c.entries))
	copy(snapshot, c.entries)
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	return snapshot, listeners
}

func notify(listeners []Listener, entries []Entry) {
	for _, l := range listeners {
		l(entries)
	}
}
