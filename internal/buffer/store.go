// Package buffer holds the three source buffers of a session and persists
// them to a key-value store.
//
// The in-memory copy is the buffer of record for the current render cycle.
// Persistence is best-effort: a failing store degrades the session to
// memory-only for that cycle instead of interrupting editing.
package buffer

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/types"
)

// SourceBuffer is a snapshot of one slot's buffer.
type SourceBuffer struct {
	Slot         types.Slot `json:"slot"`
	Text         string     `json:"text"`
	PersistedKey string     `json:"key"`
}

// Store owns the buffer of record for each slot.
type Store struct {
	kv        KV
	namespace string
	logger    logging.Logger

	mu         sync.RWMutex
	texts      [len(types.Slots)]string
	memoryOnly bool
}

// NewStore creates a store persisting through kv. Keys are prefixed with
// namespace; the empty namespace yields the keys code_html, code_css and
// code_js.
func NewStore(kv KV, namespace string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		kv:        kv,
		namespace: namespace,
		logger:    logger.WithComponent("buffer"),
	}
}

// Key returns the persisted key for slot.
func (s *Store) Key(slot types.Slot) string {
	return s.namespace + "code_" + slot.String()
}

// Load reads slot from the persistence layer and makes it the buffer of
// record. It never fails: a fault is logged and the empty default returned.
func (s *Store) Load(ctx context.Context, slot types.Slot) string {
	text := ""
	if s.kv != nil {
		value, ok, err := s.kv.Get(ctx, s.Key(slot))
		switch {
		case err != nil:
			s.logger.Warn(ctx, err, "Failed to load buffer, using default", "slot", slot.String())
		case ok:
			text = value
		}
	}

	s.mu.Lock()
	s.texts[slot] = text
	s.mu.Unlock()

	return text
}

// LoadAll loads every slot.
func (s *Store) LoadAll(ctx context.Context) {
	for _, slot := range types.Slots {
		s.Load(ctx, slot)
	}
}

// Text returns the current buffer of record for slot.
func (s *Store) Text(slot types.Slot) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.texts[slot]
}

// Set replaces the in-memory text for slot without persisting.
func (s *Store) Set(slot types.Slot, text string) {
	s.mu.Lock()
	s.texts[slot] = text
	s.mu.Unlock()
}

// Save updates the buffer of record and persists it. A quota failure is
// returned so the caller can surface a notice; the in-memory text is kept
// either way and the store reports MemoryOnly until the next clean save.
func (s *Store) Save(ctx context.Context, slot types.Slot, text string) error {
	s.Set(slot, text)

	if s.kv == nil {
		return nil
	}

	if err := s.kv.Set(ctx, s.Key(slot), text); err != nil {
		s.mu.Lock()
		s.memoryOnly = true
		s.mu.Unlock()

		if stderrors.Is(err, errors.ErrQuotaExceeded) {
			s.logger.Warn(ctx, err, "Storage quota exceeded, keeping buffer in memory", "slot", slot.String())
			return err
		}
		s.logger.Warn(ctx, err, "Failed to persist buffer, keeping it in memory", "slot", slot.String())
		return errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to persist buffer", err).
			WithLocation(slot.String(), 0, 0)
	}

	return nil
}

// SaveAll persists every slot's current text. It keeps going after a failure
// and returns the joined errors.
func (s *Store) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	s.memoryOnly = false
	s.mu.Unlock()

	var errs []error
	for _, slot := range types.Slots {
		if err := s.Save(ctx, slot, s.Text(slot)); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// MemoryOnly reports whether the last save cycle failed to persist.
func (s *Store) MemoryOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memoryOnly
}

// Snapshot returns every buffer in slot order.
func (s *Store) Snapshot() []SourceBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffers := make([]SourceBuffer, 0, len(types.Slots))
	for _, slot := range types.Slots {
		buffers = append(buffers, SourceBuffer{
			Slot:         slot,
			Text:         s.texts[slot],
			PersistedKey: s.Key(slot),
		})
	}
	return buffers
}
