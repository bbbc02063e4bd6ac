package catalog

import (
	"context"
	"sync"
)

type key struct{ dir, name string }

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]Entry
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[key]Entry)}
}

func (m *Memory) Get(ctx context.Context, dir, name string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key{dir, name}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key{entry.Dir, entry.Name}] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Move(ctx context.Context, dir, name, newDir, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key{dir, name}]
	if !ok {
		return nil
	}
	delete(m.entries, key{dir, name})
	e.Dir, e.Name = newDir, newName
	m.entries[key{newDir, newName}] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key{dir, name})
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
