package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is a map-backed [Store]. It stands in for browser-style local
// storage: single process, optional byte quota.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
	used  int
}

// NewMemoryStore creates a MemoryStore. quota limits the total number of key
// and value bytes held; zero means unlimited.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]string),
		quota: quota,
	}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores val under key. It returns [ErrQuotaExceeded] when the write
// would push the store past its quota.
func (m *MemoryStore) Set(_ context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(key) + len(val)
	if old, ok := m.data[key]; ok {
		used -= len(key) + len(old)
	}
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}
	m.data[key] = val
	m.used = used
	return nil
}

// Delete removes keys.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if old, ok := m.data[k]; ok {
			m.used -= len(k) + len(old)
			delete(m.data, k)
		}
	}
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}
