// Package mock activates and deactivates mock plugins across every
// registered service in response to a toggle event, and persists the
// toggle state.
package mock

import (
	"context"
	"sync"
)

// StateStore persists the mock mode flag.
type StateStore interface {
	// Load returns the persisted flag. A store that has never been written
	// returns false.
	Load(ctx context.Context) (bool, error)
	// Save persists the flag.
	Save(ctx context.Context, enabled bool) error
	// Close releases store resources.
	Close() error
}

// Watcher is implemented by stores shared between processes.
type Watcher interface {
	// Subscribe starts listening for changes made by other writers. Every
	// change published after Subscribe returns is delivered by the result.
	Subscribe(ctx context.Context) (Changes, error)
}

// Changes delivers flag changes made by other writers.
type Changes interface {
	// Run calls fn for every change until ctx is done or Close is called.
	Run(ctx context.Context, fn func(enabled bool)) error
	Close() error
}

// MemoryStore keeps the flag in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewMemoryStore creates a store with the given initial flag.
func NewMemoryStore(enabled bool) *MemoryStore {
	return &MemoryStore{enabled: enabled}
}

// Load implements StateStore.
func (m *MemoryStore) Load(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled, nil
}

// Save implements StateStore.
func (m *MemoryStore) Save(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	return nil
}

// Close implements StateStore.
func (m *MemoryStore) Close() error {
	return nil
}
