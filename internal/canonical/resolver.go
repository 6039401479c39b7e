package canonical

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rotisserie/eris"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
)

// Method records which pass resolved a name.
type Method string

// Resolution methods.
const (
	MethodNone         Method = "none"
	MethodExact        Method = "exact"
	MethodAbbreviation Method = "abbreviation"
	MethodAlias        Method = "alias"
	MethodFuzzy        Method = "fuzzy"
)

// Candidate is a known canonical name with its usage count.
type Candidate struct {
	Name string
	Hits int
}

// Store persists canonical names and aliases. Names passed in and returned
// are already normalized.
type Store interface {
	IsCanonical(ctx context.Context, name string) (bool, error)
	LookupAlias(ctx context.Context, variant string) (string, bool, error)
	SaveAlias(ctx context.Context, variant, canonical string) error
	// Candidates returns names with at least minHits hits, most used first.
	Candidates(ctx context.Context, minHits, limit int) ([]Candidate, error)
	// RecordCanonical registers name or increments its hit count.
	RecordCanonical(ctx context.Context, name string) error
}

// Config toggles passes and bounds the fuzzy pass.
type Config struct {
	Exact          bool
	Abbreviation   bool
	Alias          bool
	Fuzzy          bool
	CandidateLimit int
	MaxDistance    int
	MinHitCount    int
}

// DefaultConfig enables every pass.
func DefaultConfig() Config {
	return Config{
		Exact:          true,
		Abbreviation:   true,
		Alias:          true,
		Fuzzy:          true,
		CandidateLimit: 500,
		MaxDistance:    2,
		MinHitCount:    2,
	}
}

// Resolution is the outcome of resolving one name.
type Resolution struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
	Canonical  string `json:"canonical"`
	Method     Method `json:"method"`
	Matched    bool   `json:"matched"`
	Distance   int    `json:"distance,omitempty"`
}

// Resolver runs the resolution passes in order, stopping at the first match.
type Resolver struct {
	store Store
	cfg   Config
}

// NewResolver creates a Resolver.
func NewResolver(store Store, cfg Config) *Resolver {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 500
	}
	if cfg.MaxDistance < 0 {
		cfg.MaxDistance = 0
	}
	return &Resolver{store: store, cfg: cfg}
}

// Resolve maps raw onto a canonical name. An unmatched name resolves to its
// normalized (and, when enabled, expanded) form with MethodNone.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	norm := Normalize(raw)
	res := Resolution{Input: raw, Normalized: norm, Canonical: norm, Method: MethodNone}
	if norm == "" {
		return res, nil
	}

	// Pass 1: exact.
	if r.cfg.Exact {
		ok, err := r.store.IsCanonical(ctx, norm)
		if err != nil {
			return res, eris.Wrap(err, "canonical: exact lookup")
		}
		if ok {
			zap.L().Debug("canonical: exact match", zap.String("name", norm))
			return r.matched(res, norm, MethodExact, 0), nil
		}
	}

	// Pass 2: abbreviation expansion.
	key := norm
	if r.cfg.Abbreviation {
		if expanded := Key(raw); expanded != norm {
			key = expanded
			res.Canonical = expanded
			ok, err := r.store.IsCanonical(ctx, expanded)
			if err != nil {
				return res, eris.Wrap(err, "canonical: abbreviation lookup")
			}
			if ok {
				zap.L().Debug("canonical: abbreviation match", zap.String("name", norm), zap.String("canonical", expanded))
				return r.matched(res, expanded, MethodAbbreviation, 0), nil
			}
		}
	}

	// Pass 3: stored alias.
	if r.cfg.Alias {
		canon, ok, err := r.store.LookupAlias(ctx, key)
		if err != nil {
			return res, eris.Wrap(err, "canonical: alias lookup")
		}
		if ok {
			zap.L().Debug("canonical: alias match", zap.String("name", key), zap.String("canonical", canon))
			return r.matched(res, canon, MethodAlias, 0), nil
		}
	}

	// Pass 4: fuzzy.
	if r.cfg.Fuzzy {
		cands, err := r.store.Candidates(ctx, r.cfg.MinHitCount, r.cfg.CandidateLimit)
		if err != nil {
			return res, eris.Wrap(err, "canonical: load fuzzy candidates")
		}
		if canon, dist, ok := r.fuzzyMatch(key, cands); ok {
			zap.L().Debug("canonical: fuzzy match",
				zap.String("name", key),
				zap.String("canonical", canon),
				zap.Int("distance", dist),
			)
			if r.cfg.Alias {
				if err := r.store.SaveAlias(ctx, key, canon); err != nil {
					zap.L().Warn("canonical: save alias failed", zap.String("variant", key), zap.Error(err))
				}
			}
			return r.matched(res, canon, MethodFuzzy, dist), nil
		}
	}

	return res, nil
}

func (r *Resolver) matched(res Resolution, canon string, m Method, dist int) Resolution {
	res.Canonical = canon
	res.Method = m
	res.Matched = true
	res.Distance = dist
	return res
}

// Canonicalize returns the canonical form of raw, degrading to its
// normalized key when the store fails.
func (r *Resolver) Canonicalize(ctx context.Context, raw string) (string, error) {
	res, err := r.Resolve(ctx, raw)
	if err != nil {
		zap.L().Warn("canonical: resolve failed, using normalized key", zap.String("input", raw), zap.Error(err))
		return Key(raw), nil
	}
	return res.Canonical, nil
}

// Learn registers a confidently identified name so later variants resolve to it.
func (r *Resolver) Learn(ctx context.Context, raw string) error {
	canon, err := r.Canonicalize(ctx, raw)
	if err != nil {
		return err
	}
	if canon == "" {
		return nil
	}
	return eris.Wrap(r.store.RecordCanonical(ctx, canon), "canonical: learn")
}

type candidateSource []Candidate

func (s candidateSource) String(i int) string { return s[i].Name }
func (s candidateSource) Len() int            { return len(s) }

// fuzzyMatch tries substring containment first, then the smallest edit
// distance within MaxDistance. Every candidate is scored by edit distance;
// the subsequence ranking only orders candidates, so it decides ties.
func (r *Resolver) fuzzyMatch(key string, cands []Candidate) (string, int, bool) {
	if len(cands) == 0 {
		return "", 0, false
	}
	if len(cands) > r.cfg.CandidateLimit {
		cands = cands[:r.cfg.CandidateLimit]
	}

	for _, c := range cands {
		if containsWord(c.Name, key) || containsWord(key, c.Name) {
			shorter, longer := len(key), len(c.Name)
			if shorter > longer {
				shorter, longer = longer, shorter
			}
			if shorter >= 5 && shorter*2 >= longer {
				return c.Name, 0, true
			}
		}
	}

	ranked := make([]int, 0, len(cands))
	seen := make(map[int]bool, len(cands))
	for _, m := range fuzzy.FindFrom(key, candidateSource(cands)) {
		ranked = append(ranked, m.Index)
		seen[m.Index] = true
	}
	for i := range cands {
		if !seen[i] {
			ranked = append(ranked, i)
		}
	}

	best, bestDist := -1, r.cfg.MaxDistance+1
	for _, i := range ranked {
		d := levenshtein.ComputeDistance(key, cands[i].Name)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return "", 0, false
	}
	return cands[best].Name, bestDist, true
}

// containsWord reports whether sub occurs in s on word boundaries.
func containsWord(s, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(" "+s+" ", " "+sub+" ")
}
