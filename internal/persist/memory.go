package persist

import (
	"context"
	"sync"
)

type memoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a KV that lives only as long as the process.
func NewMemory() KV {
	return &memoryKV{values: make(map[string]string)}
}

func (m *memoryKV) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *memoryKV) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryKV) Close() error { return nil }
