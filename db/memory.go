package db

import (
	"context"
	"sync"

	"github.com/dot-do/gateway/query"
)

// MemoryStore is the in-process DatabaseBinding and HistoryProvider. It
// backs the "memory" driver and most tests. Documents are isolated through
// JSON round trips so callers can never mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]map[string]map[string]any
	history map[string][]map[string]any
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    map[string]map[string]map[string]any{},
		history: map[string][]map[string]any{},
	}
}

func scopeKey(tenant, model string) string {
	return tenant + "/" + model
}

func (s *MemoryStore) Create(ctx context.Context, tenant, model string, doc map[string]any) error {
	id, err := docID(doc)
	if err != nil {
		return err
	}
	stored, err := cloneDoc(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := scopeKey(tenant, model)
	if s.docs[scope] == nil {
		s.docs[scope] = map[string]map[string]any{}
	}
	if _, exists := s.docs[scope][id]; exists {
		return ErrExists
	}
	s.docs[scope][id] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenant, model, id string) (map[string]any, error) {
	s.mu.RLock()
	doc, ok := s.docs[scopeKey(tenant, model)][id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc)
}

func (s *MemoryStore) Update(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	stored, err := cloneDoc(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := scopeKey(tenant, model)
	if _, ok := s.docs[scope][id]; !ok {
		return ErrNotFound
	}
	s.docs[scope][id] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenant, model, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := scopeKey(tenant, model)
	if _, ok := s.docs[scope][id]; !ok {
		return ErrNotFound
	}
	delete(s.docs[scope], id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tenant, model string, opts ListOptions) (Page, error) {
	docs, err := s.scan(tenant, model)
	if err != nil {
		return Page{}, err
	}
	return applyQuery(docs, opts), nil
}

func (s *MemoryStore) Count(ctx context.Context, tenant, model string, filter query.Filter) (int, error) {
	docs, err := s.scan(tenant, model)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, doc := range docs {
		if includeDoc(doc, ListOptions{Filter: filter}) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Search(ctx context.Context, tenant, model, q string, fields []string, opts ListOptions) (Page, error) {
	docs, err := s.scan(tenant, model)
	if err != nil {
		return Page{}, err
	}

	matched := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if matchesSearch(doc, q, fields) {
			matched = append(matched, doc)
		}
	}
	return applyQuery(matched, opts), nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	stored, err := cloneDoc(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(tenant, model) + "/" + id
	s.history[key] = append(s.history[key], stored)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, tenant, model, id string) ([]map[string]any, error) {
	s.mu.RLock()
	snapshots := s.history[scopeKey(tenant, model)+"/"+id]
	s.mu.RUnlock()

	out := make([]map[string]any, 0, len(snapshots))
	for _, snap := range snapshots {
		copied, err := cloneDoc(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// scan copies out every document of a scope.
func (s *MemoryStore) scan(tenant, model string) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := s.docs[scopeKey(tenant, model)]
	out := make([]map[string]any, 0, len(scope))
	for _, doc := range scope {
		copied, err := cloneDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}
