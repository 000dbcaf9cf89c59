// Package watcher reports changes to the source files of a project
// directory, debounced and mapped to their slots.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/scheduler"
	"github.com/conneroisu/panes/internal/types"
)

// FileWatcher watches one project directory.
type FileWatcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	Slot    types.Slot
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles file change events
type ChangeHandler func(events []ChangeEvent) error

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(fw *FileWatcher) {
		fw.logger = logger.WithComponent("watcher")
	}
}

// WithClock replaces the clock the debouncer waits on.
func WithClock(clock scheduler.Clock) Option {
	return func(fw *FileWatcher) {
		fw.debouncer.clock = clock
	}
}

// NewFileWatcher creates a watcher for the project directory dir. Only the
// slot source files are reported unless other filters are added.
func NewFileWatcher(dir string, debounceDelay time.Duration, opts ...Option) (*FileWatcher, error) {
	cleanDir, err := validateDir(dir)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		dir:       cleanDir,
		watcher:   watcher,
		debouncer: newDebouncer(debounceDelay, scheduler.RealClock{}),
		filters:   []FileFilter{SourceFilter},
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(fw)
	}

	return fw, nil
}

// validateDir cleans dir and checks that it is a directory.
func validateDir(dir string) (string, error) {
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return "", fmt.Errorf("invalid project directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return absDir, nil
}

// Dir returns the watched directory.
func (fw *FileWatcher) Dir() string {
	return fw.dir
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Start watches the directory until ctx is done. The directory rather
// than each file is watched, so editors that save by renaming are seen.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.watcher.Add(fw.dir); err != nil {
		return fmt.Errorf("watch %s: %w", fw.dir, err)
	}

	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	fw.debouncer.stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	slot, _ := types.SlotForFile(filepath.Base(event.Name))
	changeEvent := ChangeEvent{
		Type: eventType(event.Op),
		Path: event.Name,
		Slot: slot,
	}
	if info, err := os.Stat(event.Name); err == nil {
		changeEvent.ModTime = info.ModTime()
		changeEvent.Size = info.Size()
	}

	fw.debouncer.add(changeEvent)
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					// Log error but continue processing
					fw.logger.Warn(ctx, err, "File watcher handler error", "events", len(events))
				}
			}
		}
	}
}

// Debouncer groups rapid file changes together. A batch holds the last
// event per path, ordered by path.
type Debouncer struct {
	delay   time.Duration
	clock   scheduler.Clock
	output  chan []ChangeEvent
	timer   scheduler.Timer
	pending map[string]ChangeEvent
	mutex   sync.Mutex
}

func newDebouncer(delay time.Duration, clock scheduler.Clock) *Debouncer {
	return &Debouncer{
		delay:   delay,
		clock:   clock,
		output:  make(chan []ChangeEvent, 10),
		pending: make(map[string]ChangeEvent),
	}
}

func (d *Debouncer) add(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending[event.Path] = event

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
	default:
		// Channel full, skip
	}

	d.pending = make(map[string]ChangeEvent)
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// SourceFilter accepts the project's slot source files.
func SourceFilter(path string) bool {
	_, ok := types.SlotForFile(filepath.Base(path))
	return ok
}

// NoHiddenFilter rejects dot files such as editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// ReadSources reads every slot's file from dir. A missing file reads as
// an empty buffer.
func ReadSources(dir string) (map[types.Slot]string, error) {
	sources := make(map[types.Slot]string, len(types.Slots))
	for _, slot := range types.Slots {
		data, err := os.ReadFile(filepath.Join(dir, slot.FileName()))
		switch {
		case err == nil:
			sources[slot] = string(data)
		case os.IsNotExist(err):
			sources[slot] = ""
		default:
			return nil, fmt.Errorf("read %s: %w", slot.FileName(), err)
		}
	}
	return sources, nil
}
