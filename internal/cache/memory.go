package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is the default in-process store. A single mutex guards
// the map and the FIFO insertion queue; at the default bound of 500
// entries contention is negligible.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string // insertion order, oldest first
	maxEntries int
	onEvict    func()
}

// NewMemoryBackend creates a bounded in-memory store. onEvict fires
// once per entry removed to make room (not for expiry).
func NewMemoryBackend(maxEntries int, onEvict func()) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &MemoryBackend{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		onEvict:    onEvict,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry.Hits++
	// Copy so callers cannot mutate the stored entry.
	cp := *entry
	return &cp, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.Key]; !exists {
		// Evict oldest insertions first once the bound is reached.
		for len(m.entries) >= m.maxEntries && len(m.order) > 0 {
			oldest := m.order[0]
			m.order = m.order[1:]
			if _, ok := m.entries[oldest]; ok {
				delete(m.entries, oldest)
				if m.onEvict != nil {
					m.onEvict()
				}
			}
		}
		m.order = append(m.order, entry.Key)
	}

	cp := *entry
	m.entries[entry.Key] = &cp
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *MemoryBackend) DeleteByProvider(_ context.Context, provider string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := provider + ":"
	var removed int
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			m.deleteLocked(key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	m.order = nil
	return nil
}

func (m *MemoryBackend) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryBackend) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for key, entry := range m.entries {
		if entry.Expired(now) {
			m.deleteLocked(key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) deleteLocked(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
