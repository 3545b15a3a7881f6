package storage

import "sync"

// MemoryBackend keeps values for the lifetime of the process.
// It is the default session-scoped backend.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

// Get implements Backend.Get.
func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrStorageNotFound
	}
	return v, nil
}

// Set implements Backend.Set.
func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete implements Backend.Delete.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Name implements Backend.Name.
func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
