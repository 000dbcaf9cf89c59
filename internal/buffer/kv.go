package buffer

import (
	"context"
	"sync"

	"github.com/conneroisu/panes/internal/errors"
)

// KV is the key-value persistence layer the store writes through to.
// Set must return an error matching errors.ErrQuotaExceeded when the write
// would exceed the store's capacity.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryKV is an in-process KV with an optional byte capacity. It mirrors
// the behaviour of a browser's local storage closely enough to exercise the
// quota path in tests and in memory-only sessions.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string]string
	capacity int
}

// NewMemoryKV creates a MemoryKV. A capacity of zero means unbounded.
func NewMemoryKV(capacity int) *MemoryKV {
	return &MemoryKV{
		data:     make(map[string]string),
		capacity: capacity,
	}
}

// Get returns the stored value for key.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

// Set stores value under key, rejecting writes that would exceed capacity.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 {
		used := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used > m.capacity {
			return errors.NewPersistenceError(errors.ErrCodeQuotaExceeded, "memory store capacity exceeded", nil).
				WithContext("key", key).
				WithContext("capacity", m.capacity)
		}
	}

	m.data[key] = value
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
