// Package cache stores facts under canonical keys with a lifetime chosen by
// the fact's volatility tier.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/model"
)

// TTLs maps each volatility tier to its lifetime.
type TTLs map[model.Volatility]time.Duration

// DefaultTTLs returns the built-in tier lifetimes.
func DefaultTTLs() TTLs {
	day := 24 * time.Hour
	return TTLs{
		model.VolatilityStatic:     365 * day,
		model.VolatilitySemiStatic: 90 * day,
		model.VolatilityDynamic:    14 * day,
		model.VolatilityPrice:      7 * day,
	}
}

// TTLsFromHours builds TTLs from configured hour counts.
func TTLsFromHours(static, semiStatic, dynamic, price int) TTLs {
	return TTLs{
		model.VolatilityStatic:     time.Duration(static) * time.Hour,
		model.VolatilitySemiStatic: time.Duration(semiStatic) * time.Hour,
		model.VolatilityDynamic:    time.Duration(dynamic) * time.Hour,
		model.VolatilityPrice:      time.Duration(price) * time.Hour,
	}
}

// Validate checks every tier has a positive TTL and that lifetimes do not
// grow as volatility increases.
func (t TTLs) Validate() error {
	var prev time.Duration
	for i, v := range model.Volatilities {
		ttl, ok := t[v]
		if !ok || ttl <= 0 {
			return eris.Errorf("cache: %s ttl must be > 0", v)
		}
		if i > 0 && ttl > prev {
			return eris.Errorf("cache: %s ttl (%s) must not exceed %s ttl (%s)", v, ttl, model.Volatilities[i-1], prev)
		}
		prev = ttl
	}
	return nil
}

// Backend persists cache entries. Writes replace any entry under the same key.
type Backend interface {
	GetEntry(ctx context.Context, key string) (*model.CacheEntry, bool, error)
	PutEntry(ctx context.Context, e model.CacheEntry) error
}

// Keyer maps a raw identity onto its canonical form.
type Keyer interface {
	Canonicalize(ctx context.Context, raw string) (string, error)
}

// Cache is the volatility-tiered fact cache.
type Cache struct {
	backend Backend
	ttls    TTLs
	keyer   Keyer
	clock   clockwork.Clock
}

// New creates a Cache. A nil keyer uses canonical.Key; a nil clock uses the
// real clock.
func New(backend Backend, ttls TTLs, keyer Keyer, clock clockwork.Clock) (*Cache, error) {
	if backend == nil {
		return nil, eris.New("cache: backend is required")
	}
	if err := ttls.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{backend: backend, ttls: ttls, keyer: keyer, clock: clock}, nil
}

// TTL returns the lifetime of tier.
func (c *Cache) TTL(tier model.Volatility) time.Duration { return c.ttls[tier] }

// Key builds the storage key for fact about identity. Two spellings of the
// same producer produce the same key.
func (c *Cache) Key(ctx context.Context, identity, fact string) string {
	id := canonical.Key(identity)
	if c.keyer != nil {
		if canon, err := c.keyer.Canonicalize(ctx, identity); err == nil && canon != "" {
			id = canon
		}
	}
	return fmt.Sprintf("%s|%s", id, strings.ToLower(fact))
}

// Get returns the live entry for fact about identity. Expired entries and
// backend failures are misses.
func (c *Cache) Get(ctx context.Context, identity, fact string) (*model.CacheEntry, bool) {
	key := c.Key(ctx, identity, fact)
	e, ok, err := c.backend.GetEntry(ctx, key)
	if err != nil {
		zap.L().Warn("cache: get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok || e == nil {
		return nil, false
	}
	if e.Expired(c.clock.Now()) {
		zap.L().Debug("cache: expired entry",
			zap.String("key", key),
			zap.String("tier", string(e.Tier)),
			zap.Time("expires_at", e.ExpiresAt()),
		)
		return nil, false
	}
	return e, true
}

// Put stores value for fact about identity under tier's TTL.
func (c *Cache) Put(ctx context.Context, identity, fact string, tier model.Volatility, value json.RawMessage) (model.CacheEntry, error) {
	ttl, ok := c.ttls[tier]
	if !ok {
		return model.CacheEntry{}, eris.Errorf("cache: unknown volatility tier %q", tier)
	}
	e := model.CacheEntry{
		Key:      c.Key(ctx, identity, fact),
		Tier:     tier,
		Value:    append(json.RawMessage(nil), value...),
		StoredAt: c.clock.Now().UTC(),
		TTL:      ttl,
	}
	if err := c.backend.PutEntry(ctx, e); err != nil {
		return model.CacheEntry{}, eris.Wrapf(err, "cache: put %s", e.Key)
	}
	return e, nil
}

// GetJSON decodes a cached value into T.
func GetJSON[T any](ctx context.Context, c *Cache, identity, fact string) (T, bool) {
	var v T
	e, ok := c.Get(ctx, identity, fact)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(e.Value, &v); err != nil {
		zap.L().Warn("cache: undecodable entry", zap.String("key", e.Key), zap.Error(err))
		return v, false
	}
	return v, true
}

// PutJSON encodes v and stores it.
func PutJSON[T any](ctx context.Context, c *Cache, identity, fact string, tier model.Volatility, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "cache: encode value")
	}
	_, err = c.Put(ctx, identity, fact, tier, raw)
	return err
}
