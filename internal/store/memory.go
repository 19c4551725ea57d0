package store

import (
	"context"
	"slices"
	"sync"
)

type memoryWatcher struct {
	id    uint64
	owner *MemoryStore
	key   string
	fn    func(string)
}

type memoryBacking struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers []memoryWatcher
	nextID   uint64
}

// MemoryStore keeps values in process memory. Handles created with Handle
// share the same data, which lets tests model several clients (browser tabs,
// CLI invocations) looking at one store.
type MemoryStore struct {
	b *memoryBacking
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{b: &memoryBacking{data: make(map[string][]byte)}}
}

// Handle returns another handle onto the same data. Writes through one
// handle are reported to watchers registered on the others.
func (m *MemoryStore) Handle() *MemoryStore {
	return &MemoryStore{b: m.b}
}

// Get returns the stored value or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()

	v, ok := m.b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.b.mu.Lock()
	m.b.data[key] = slices.Clone(value)
	m.b.mu.Unlock()

	m.notify(key)
	return nil
}

// Remove deletes key.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.b.mu.Lock()
	_, existed := m.b.data[key]
	delete(m.b.data, key)
	m.b.mu.Unlock()

	if existed {
		m.notify(key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()
	return len(m.b.data)
}

// OnExternalChange implements Watcher.
func (m *MemoryStore) OnExternalChange(key string, fn func(string)) func() {
	m.b.mu.Lock()
	m.b.nextID++
	id := m.b.nextID
	m.b.watchers = append(m.b.watchers, memoryWatcher{id: id, owner: m, key: key, fn: fn})
	m.b.mu.Unlock()

	return func() {
		m.b.mu.Lock()
		defer m.b.mu.Unlock()
		m.b.watchers = slices.DeleteFunc(m.b.watchers, func(w memoryWatcher) bool { return w.id == id })
	}
}

func (m *MemoryStore) notify(key string) {
	m.b.mu.RLock()
	var fns []func(string)
	for _, w := range m.b.watchers {
		if w.key == key && w.owner != m {
			fns = append(fns, w.fn)
		}
	}
	m.b.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
