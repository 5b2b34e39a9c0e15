package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Entry)}
}

func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	e.Discrepancies = append(e.Discrepancies[:0:0], entry.Discrepancies...)
	s.entries = append(s.entries, &e)
	s.byID[e.ID] = &e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListByTransaction(ctx context.Context, transactionID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Entry
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if s.entries[i].TransactionID == transactionID {
			cp := *s.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]*Entry, error) {
	s.mu.RLock()
	all := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if q.includes(e) {
			cp := *e
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

var _ Store = (*MemoryStore)(nil)
