package secrets

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps secrets in process memory. It is meant for local
// development and tests; nothing survives a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(_ context.Context, path string) (map[string]any, error) {
	m.mu.RLock()
	raw, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Write stores an encoded copy so callers cannot mutate stored state.
func (m *MemoryBackend) Write(_ context.Context, path string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[path] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.data, path)
	m.mu.Unlock()
	return nil
}
