package store

import (
	"context"
	"sync"
	"time"
)

// MemoryTier is a volatile tier with no expiry of its own.
type MemoryTier struct {
	name  string
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryTier(name string) *MemoryTier {
	if name == "" {
		name = "memory"
	}
	return &MemoryTier{name: name, items: make(map[string]string)}
}

func (m *MemoryTier) Name() string { return m.name }

func (m *MemoryTier) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[name]
	return value, ok, nil
}

// Set ignores ttl; volatile values live as long as the tier.
func (m *MemoryTier) Set(_ context.Context, name, value string, _ time.Duration) error {
	m.mu.Lock()
	m.items[name] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.items, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
