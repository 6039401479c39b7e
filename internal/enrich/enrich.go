// Package enrich adds optional background facts and pairings to an
// identified wine. Failures never fail the identification.
package enrich

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/cache"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/provider"
	"github.com/sells-group/wine-identify/internal/routing"
)

// ProducerProfile is static producer background.
type ProducerProfile struct {
	Founded string `json:"founded,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Style describes the wine itself.
type Style struct {
	Appellation    string `json:"appellation,omitempty"`
	Classification string `json:"classification,omitempty"`
	Body           string `json:"body,omitempty"`
	TastingNotes   string `json:"tastingNotes,omitempty"`
}

// CriticScore is one published rating.
type CriticScore struct {
	Critic string  `json:"critic"`
	Score  float64 `json:"score"`
}

// PriceRange is an indicative retail price.
type PriceRange struct {
	Currency string  `json:"currency"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
}

// Enrichment is everything known beyond the identification.
type Enrichment struct {
	Producer     *ProducerProfile `json:"producer,omitempty"`
	Style        *Style           `json:"style,omitempty"`
	CriticScores []CriticScore    `json:"criticScores,omitempty"`
	DrinkWindow  string           `json:"drinkWindow,omitempty"`
	Price        *PriceRange      `json:"price,omitempty"`
	Pairings     []string         `json:"pairings,omitempty"`
	// Cached lists the facts served from cache.
	Cached []string `json:"cached,omitempty"`
}

// Empty reports whether nothing was found.
func (e *Enrichment) Empty() bool {
	return e == nil || (e.Producer == nil && e.Style == nil && len(e.CriticScores) == 0 &&
		e.DrinkWindow == "" && e.Price == nil && len(e.Pairings) == 0)
}

// Cached fact names and their volatility.
const (
	FactProducer    = "producer_profile"
	FactStyle       = "style"
	FactCritics     = "critic_scores"
	FactDrinkWindow = "drink_window"
	FactPrice       = "price"
	FactPairings    = "pairings"
)

// FactTiers maps each fact to its volatility tier.
var FactTiers = map[string]model.Volatility{
	FactProducer:    model.VolatilityStatic,
	FactStyle:       model.VolatilitySemiStatic,
	FactPairings:    model.VolatilitySemiStatic,
	FactCritics:     model.VolatilityDynamic,
	FactDrinkWindow: model.VolatilityDynamic,
	FactPrice:       model.VolatilityPrice,
}

// payload is the enrich task's JSON answer.
type payload struct {
	ProducerProfile *ProducerProfile `json:"producerProfile"`
	Style           *Style           `json:"style"`
	CriticScores    []CriticScore    `json:"criticScores"`
	DrinkWindow     string           `json:"drinkWindow"`
	Price           *PriceRange      `json:"price"`
}

type pairPayload struct {
	Pairings []string `json:"pairings"`
}

// Enricher looks facts up in the cache first and asks the enrich and pair
// routes for whatever is missing.
type Enricher struct {
	router     *routing.Router
	dispatcher *provider.Dispatcher
	cache      *cache.Cache
}

// New creates an Enricher. A nil cache disables caching.
func New(router *routing.Router, dispatcher *provider.Dispatcher, c *cache.Cache) *Enricher {
	return &Enricher{router: router, dispatcher: dispatcher, cache: c}
}

// wineFact scopes a per-wine fact by name and vintage; the producer is the
// cache identity.
func wineFact(fact string, r model.IdentificationResult) string {
	return fmt.Sprintf("%s:%s:%s", fact, strings.TrimSpace(r.WineName), r.Vintage)
}

// Cached returns whatever is already cached for r, without model calls.
func (e *Enricher) Cached(ctx context.Context, r model.IdentificationResult, producer string) *Enrichment {
	out := &Enrichment{}
	if e.cache == nil || producer == "" {
		return out
	}
	if v, ok := cache.GetJSON[ProducerProfile](ctx, e.cache, producer, FactProducer); ok {
		out.Producer = &v
		out.Cached = append(out.Cached, FactProducer)
	}
	if v, ok := cache.GetJSON[Style](ctx, e.cache, producer, wineFact(FactStyle, r)); ok {
		out.Style = &v
		out.Cached = append(out.Cached, FactStyle)
	}
	if v, ok := cache.GetJSON[[]CriticScore](ctx, e.cache, producer, wineFact(FactCritics, r)); ok {
		out.CriticScores = v
		out.Cached = append(out.Cached, FactCritics)
	}
	if v, ok := cache.GetJSON[string](ctx, e.cache, producer, wineFact(FactDrinkWindow, r)); ok {
		out.DrinkWindow = v
		out.Cached = append(out.Cached, FactDrinkWindow)
	}
	if v, ok := cache.GetJSON[PriceRange](ctx, e.cache, producer, wineFact(FactPrice, r)); ok {
		out.Price = &v
		out.Cached = append(out.Cached, FactPrice)
	}
	if v, ok := cache.GetJSON[[]string](ctx, e.cache, producer, wineFact(FactPairings, r)); ok {
		out.Pairings = v
		out.Cached = append(out.Cached, FactPairings)
	}
	return out
}

// Enrich fills in facts about r. Errors are logged and the partial result
// returned; the usage of every model call is reported.
func (e *Enricher) Enrich(ctx context.Context, r model.IdentificationResult, producer string) (*Enrichment, model.Usage) {
	if producer == "" {
		producer = r.Producer
	}
	log := zap.L().With(zap.String("component", "enrich"), zap.String("producer", producer))

	out := e.Cached(ctx, r, producer)
	var usage model.Usage

	if out.missing(FactProducer, FactStyle, FactCritics, FactDrinkWindow, FactPrice) {
		p, u, err := e.facts(ctx, r)
		usage = usage.Add(u)
		if err != nil {
			log.Warn("enrich: facts unavailable", zap.Error(err))
		} else {
			e.merge(ctx, out, p, r, producer)
		}
	}

	if !out.has(FactPairings) {
		pairings, u, err := e.pairings(ctx, r)
		usage = usage.Add(u)
		if err != nil {
			log.Warn("enrich: pairings unavailable", zap.Error(err))
		} else if len(pairings) > 0 {
			out.Pairings = pairings
			e.store(ctx, producer, wineFact(FactPairings, r), FactPairings, pairings)
		}
	}
	return out, usage
}

func (e *Enrichment) has(fact string) bool {
	return slices.Contains(e.Cached, fact)
}

func (e *Enrichment) missing(facts ...string) bool {
	for _, f := range facts {
		if !e.has(f) {
			return true
		}
	}
	return false
}

func (e *Enricher) step(task routing.Task) (routing.Step, error) {
	steps, err := e.router.Plan(task)
	if err != nil {
		return routing.Step{}, err
	}
	return steps[0], nil
}

func (e *Enricher) facts(ctx context.Context, r model.IdentificationResult) (*payload, model.Usage, error) {
	step, err := e.step(routing.TaskEnrich)
	if err != nil {
		return nil, model.Usage{}, err
	}
	p, served, err := provider.Dispatch(ctx, e.dispatcher, routing.TaskEnrich, step, provider.Request{
		System: enrichSystemPrompt,
		Prompt: describe(r),
		JSON:   true,
	}, func(c *provider.Completion) (*payload, error) {
		v, err := provider.DecodeJSON[payload](c.Text)
		return &v, err
	})
	return p, served.Usage, err
}

func (e *Enricher) pairings(ctx context.Context, r model.IdentificationResult) ([]string, model.Usage, error) {
	step, err := e.step(routing.TaskPair)
	if err != nil {
		return nil, model.Usage{}, err
	}
	p, served, err := provider.Dispatch(ctx, e.dispatcher, routing.TaskPair, step, provider.Request{
		System: pairSystemPrompt,
		Prompt: describe(r),
		JSON:   true,
	}, func(c *provider.Completion) (pairPayload, error) {
		return provider.DecodeJSON[pairPayload](c.Text)
	})
	return p.Pairings, served.Usage, err
}

// merge copies facts the cache did not have and stores each under its tier.
func (e *Enricher) merge(ctx context.Context, out *Enrichment, p *payload, r model.IdentificationResult, producer string) {
	if out.Producer == nil && p.ProducerProfile != nil {
		out.Producer = p.ProducerProfile
		e.store(ctx, producer, FactProducer, FactProducer, p.ProducerProfile)
	}
	if out.Style == nil && p.Style != nil {
		out.Style = p.Style
		e.store(ctx, producer, wineFact(FactStyle, r), FactStyle, p.Style)
	}
	if len(out.CriticScores) == 0 && len(p.CriticScores) > 0 {
		out.CriticScores = p.CriticScores
		e.store(ctx, producer, wineFact(FactCritics, r), FactCritics, p.CriticScores)
	}
	if out.DrinkWindow == "" && p.DrinkWindow != "" {
		out.DrinkWindow = p.DrinkWindow
		e.store(ctx, producer, wineFact(FactDrinkWindow, r), FactDrinkWindow, p.DrinkWindow)
	}
	if out.Price == nil && p.Price != nil {
		out.Price = p.Price
		e.store(ctx, producer, wineFact(FactPrice, r), FactPrice, p.Price)
	}
}

func (e *Enricher) store(ctx context.Context, producer, key, fact string, v any) {
	if e.cache == nil || producer == "" {
		return
	}
	if err := cache.PutJSON(ctx, e.cache, producer, key, FactTiers[fact], v); err != nil {
		zap.L().Warn("enrich: cache write failed", zap.String("fact", fact), zap.Error(err))
	}
}

func describe(r model.IdentificationResult) string {
	var b strings.Builder
	for _, f := range model.WineFields {
		if !r.Has(f) {
			continue
		}
		v := r.Value(f)
		if gs, ok := v.([]string); ok {
			v = strings.Join(gs, ", ")
		}
		fmt.Fprintf(&b, "%s: %v\n", f, v)
	}
	return b.String()
}

const enrichSystemPrompt = `You are a wine reference. Given an identified wine, answer with one JSON object:
{"producerProfile":{"founded":"","owner":"","summary":""},
 "style":{"appellation":"","classification":"","body":"","tastingNotes":""},
 "criticScores":[{"critic":"","score":0}],
 "drinkWindow":"",
 "price":{"currency":"USD","low":0,"high":0}}
Omit anything you are not confident about.`

const pairSystemPrompt = `You are a sommelier. Given a wine, answer with one JSON object
{"pairings":["dish", ...]} listing up to five food pairings.`
