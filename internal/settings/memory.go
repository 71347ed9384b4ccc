package settings

import "sync"

// MemoryBackend 是仅存在于内存中的持久化副本，用于测试与 -check-config 试运行。
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]Settings
}

// NewMemoryBackend 创建空的内存副本。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]Settings)}
}

// Load 实现 Durable。
func (m *MemoryBackend) Load(site string) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.values[site]
	return s.Clone(), ok, nil
}

// Save 实现 Durable。
func (m *MemoryBackend) Save(site string, s Settings) error {
	m.mu.Lock()
	m.values[site] = s.Clone()
	m.mu.Unlock()
	return nil
}
