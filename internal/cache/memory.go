package cache

import (
	"context"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sells-group/wine-identify/internal/model"
)

// MemoryBackend keeps entries in a bounded in-process ttlcache. Its own
// eviction runs on the wall clock; Cache still checks expiry on every read.
type MemoryBackend struct {
	items *ttlcache.Cache[string, model.CacheEntry]
}

// NewMemoryBackend creates a MemoryBackend holding at most maxEntries
// entries (0 means unbounded) and starts its eviction loop.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	opts := []ttlcache.Option[string, model.CacheEntry]{
		ttlcache.WithDisableTouchOnHit[string, model.CacheEntry](),
	}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, model.CacheEntry](uint64(maxEntries)))
	}
	items := ttlcache.New(opts...)
	go items.Start()
	return &MemoryBackend{items: items}
}

// GetEntry implements Backend.
func (m *MemoryBackend) GetEntry(_ context.Context, key string) (*model.CacheEntry, bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	e := item.Value()
	return &e, true, nil
}

// PutEntry implements Backend.
func (m *MemoryBackend) PutEntry(_ context.Context, e model.CacheEntry) error {
	m.items.Set(e.Key, e, e.TTL)
	return nil
}

// Len returns the number of held entries.
func (m *MemoryBackend) Len() int { return m.items.Len() }

// Close stops the eviction loop.
func (m *MemoryBackend) Close() { m.items.Stop() }
