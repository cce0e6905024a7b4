package kvcache

import (
	"strings"
	"sync"
)

// Memory is an in-memory Cache with a byte budget. A budget of 0 means
// unlimited.
type Memory struct {
	mu      sync.RWMutex
	budget  int64
	size    int64
	entries map[string][]byte
}

// NewMemory creates an in-memory cache with the given byte budget.
func NewMemory(budget int64) *Memory {
	return &Memory{
		budget:  budget,
		entries: make(map[string][]byte),
	}
}

// Get returns the stored value, if any.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Put stores value under key, enforcing the byte budget.
func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.size - int64(len(m.entries[key])) + int64(len(value))
	if m.budget > 0 && next > m.budget {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = stored
	m.size = next
	return nil
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[key]; ok {
		m.size -= int64(len(v))
		delete(m.entries, key)
	}
}

// Keys returns all stored keys with the given prefix.
func (m *Memory) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Size returns the current total stored bytes.
func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
