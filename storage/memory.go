package storage

import (
	"context"
	"sync"

	"todos/domain"
)

// Memory is a process-local collection with the same semantics as the table
// collection. It backs STORAGE_MODE=memory and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]domain.Todo
}

// NewMemory creates an empty collection.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]domain.Todo)}
}

// Opener returns an Opener that always yields m.
func (m *Memory) Opener() Opener {
	return func(context.Context) (Collection, error) { return m, nil }
}

func (m *Memory) Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if err := validateID("create", id); err != nil {
		return domain.DocumentResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.DocumentResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[id]; exists {
		return domain.DocumentResult{}, domain.Conflict("create", id, nil)
	}
	todo.ID = id
	m.docs[id] = todo
	return domain.DocumentResult{DocumentID: id}, nil
}

func (m *Memory) Find(ctx context.Context, q Query) (FindResult, error) {
	if err := ctx.Err(); err != nil {
		return FindResult{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := FindResult{Data: make(map[string]domain.Todo, len(m.docs))}
	for id, t := range m.docs {
		if q.Match(t) {
			res.Data[id] = t
		}
	}
	return res, nil
}

func (m *Memory) Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if err := validateID("update", id); err != nil {
		return domain.DocumentResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.DocumentResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[id]
	if !ok {
		return domain.DocumentResult{}, domain.NotFound("update", id, nil)
	}
	m.docs[id] = merge(existing, todo)
	return domain.DocumentResult{DocumentID: id}, nil
}

func (m *Memory) Delete(ctx context.Context, id string) (domain.DocumentResult, error) {
	if err := validateID("delete", id); err != nil {
		return domain.DocumentResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.DocumentResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return domain.DocumentResult{}, domain.NotFound("delete", id, nil)
	}
	delete(m.docs, id)
	return domain.DocumentResult{DocumentID: id, Deleted: true}, nil
}
