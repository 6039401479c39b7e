package canonical

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	hits    map[string]int
	aliases map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hits:    make(map[string]int),
		aliases: make(map[string]string),
	}
}

// IsCanonical implements Store.
func (m *MemoryStore) IsCanonical(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hits[name]
	return ok, nil
}

// LookupAlias implements Store.
func (m *MemoryStore) LookupAlias(_ context.Context, variant string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.aliases[variant]
	return c, ok, nil
}

// SaveAlias implements Store.
func (m *MemoryStore) SaveAlias(_ context.Context, variant, canonical string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[variant] = canonical
	return nil
}

// Candidates implements Store.
func (m *MemoryStore) Candidates(_ context.Context, minHits, limit int) ([]Candidate, error) {
	m.mu.RLock()
	out := make([]Candidate, 0, len(m.hits))
	for name, hits := range m.hits {
		if hits >= minHits {
			out = append(out, Candidate{Name: name, Hits: hits})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordCanonical implements Store.
func (m *MemoryStore) RecordCanonical(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[name]++
	return nil
}
