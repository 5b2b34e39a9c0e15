package policy

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory rule store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[Priority]Rule
	seeded bool
}

// NewMemoryStore creates a new in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[Priority]Rule),
	}
}

func (m *MemoryStore) List(_ context.Context) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Priority < result[j].Priority
	})
	return result, nil
}

func (m *MemoryStore) Save(_ context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Priority] = r.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, p Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[p]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, p)
	return nil
}

func (m *MemoryStore) Seeded(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seeded, nil
}

func (m *MemoryStore) MarkSeeded(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
