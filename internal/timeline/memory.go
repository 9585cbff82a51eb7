package timeline

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps scenes in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	scenes []Scene
}

// NewMemoryStore returns a store holding a copy of scenes.
func NewMemoryStore(scenes []Scene) *MemoryStore {
	return &MemoryStore{scenes: append([]Scene(nil), scenes...)}
}

func (m *MemoryStore) Scenes(ctx context.Context) ([]Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Scene(nil), m.scenes...), nil
}

func (m *MemoryStore) UpdateSceneDuration(ctx context.Context, index int, duration float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.scenes) {
		return fmt.Errorf("scene %d: %w", index, ErrNotFound)
	}
	m.scenes[index].Duration = duration
	return nil
}

// SetScenes replaces the whole scene list.
func (m *MemoryStore) SetScenes(scenes []Scene) {
	m.mu.Lock()
	m.scenes = append([]Scene(nil), scenes...)
	m.mu.Unlock()
}
