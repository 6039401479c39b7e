package model

import (
	"encoding/json"
	"time"
)

// Usage accumulates provider token usage and attributed cost.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Calls        int     `json:"calls"`
	CostUSD      float64 `json:"costUsd"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Calls:        u.Calls + o.Calls,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// Volatility classifies cached facts by how quickly they go stale.
type Volatility string

// Volatility tiers, most to least stable.
const (
	VolatilityStatic     Volatility = "static"
	VolatilitySemiStatic Volatility = "semi_static"
	VolatilityDynamic    Volatility = "dynamic"
	VolatilityPrice      Volatility = "price"
)

// Volatilities lists the tiers from longest to shortest TTL.
var Volatilities = []Volatility{VolatilityStatic, VolatilitySemiStatic, VolatilityDynamic, VolatilityPrice}

// CacheEntry is a cached fact with its tier-derived lifetime.
type CacheEntry struct {
	Key      string          `json:"key"`
	Tier     Volatility      `json:"tier"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl"`
}

// ExpiresAt returns the instant the entry stops being served.
func (e CacheEntry) ExpiresAt() time.Time { return e.StoredAt.Add(e.TTL) }

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt()) }
