package enrich

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/cache"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/provider"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
)

// fakeLLM answers by system prompt so one provider can serve both routes.
type fakeLLM struct {
	name    string
	facts   string
	pairs   string
	failAll bool

	mu    sync.Mutex
	calls map[routing.Task]int
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) Generate(_ context.Context, req provider.Request) (*provider.Completion, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[routing.Task]int{}
	}
	f.calls[req.Task]++
	f.mu.Unlock()

	if f.failAll {
		return nil, resilience.HTTPError(f.name, 401, assert.AnError)
	}
	text := f.facts
	if strings.Contains(req.System, "sommelier") {
		text = f.pairs
	}
	return &provider.Completion{Text: text, Usage: model.Usage{InputTokens: 10, OutputTokens: 5, Calls: 1}}, nil
}

func (f *fakeLLM) count(task routing.Task) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

func setup(t *testing.T, llm *fakeLLM) (*Enricher, *cache.Cache, *clockwork.FakeClock) {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(llm)

	clock := clockwork.NewFakeClock()
	exec := resilience.NewExecutor(
		resilience.NewBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute, Clock: clock}),
		resilience.RetryConfig{MaxAttempts: 1},
	)
	cfg := routing.DefaultConfig()
	cfg.Tasks[routing.TaskEnrich] = routing.TaskConfig{Primary: routing.Candidate{Provider: "fake", Model: "m"}}
	cfg.Tasks[routing.TaskPair] = routing.TaskConfig{Primary: routing.Candidate{Provider: "fake", Model: "m"}}

	backend := cache.NewMemoryBackend(100)
	t.Cleanup(backend.Close)
	c, err := cache.New(backend, cache.DefaultTTLs(), nil, clock)
	require.NoError(t, err)

	return New(routing.NewRouter(cfg), provider.NewDispatcher(reg, exec, nil), c), c, clock
}

var wine = model.IdentificationResult{Producer: "Château Margaux", WineName: "Pavillon Rouge", Vintage: "2015"}

const factsJSON = `{
	"producerProfile": {"founded": "1590", "owner": "Mentzelopoulos family"},
	"style": {"appellation": "Margaux", "body": "full"},
	"criticScores": [{"critic": "WA", "score": 93}],
	"drinkWindow": "2022-2035",
	"price": {"currency": "USD", "low": 180, "high": 240}
}`

func TestEnrich_FetchesAndCaches(t *testing.T) {
	llm := &fakeLLM{name: "fake", facts: factsJSON, pairs: `{"pairings":["lamb","duck"]}`}
	e, _, _ := setup(t, llm)

	got, usage := e.Enrich(context.Background(), wine, "chateau margaux")
	require.False(t, got.Empty())
	assert.Equal(t, "1590", got.Producer.Founded)
	assert.Equal(t, "Margaux", got.Style.Appellation)
	assert.Equal(t, []CriticScore{{Critic: "WA", Score: 93}}, got.CriticScores)
	assert.Equal(t, "2022-2035", got.DrinkWindow)
	assert.InDelta(t, 240, got.Price.High, 1e-9)
	assert.Equal(t, []string{"lamb", "duck"}, got.Pairings)
	assert.Empty(t, got.Cached)
	assert.Equal(t, 2, usage.Calls)

	again, usage := e.Enrich(context.Background(), wine, "chateau margaux")
	assert.Equal(t, got.Price, again.Price)
	assert.Len(t, again.Cached, 6)
	assert.Zero(t, usage.Calls)
	assert.Equal(t, 1, llm.count(routing.TaskEnrich))
	assert.Equal(t, 1, llm.count(routing.TaskPair))
}

func TestEnrich_PriceExpiresFirst(t *testing.T) {
	llm := &fakeLLM{name: "fake", facts: factsJSON, pairs: `{"pairings":["lamb"]}`}
	e, _, clock := setup(t, llm)

	e.Enrich(context.Background(), wine, "chateau margaux")
	clock.Advance(8 * 24 * time.Hour)

	cached := e.Cached(context.Background(), wine, "chateau margaux")
	assert.Nil(t, cached.Price)
	assert.NotNil(t, cached.Producer)
	assert.NotNil(t, cached.Style)
	assert.ElementsMatch(t, []string{FactProducer, FactStyle, FactCritics, FactDrinkWindow, FactPairings}, cached.Cached)

	e.Enrich(context.Background(), wine, "chateau margaux")
	assert.Equal(t, 2, llm.count(routing.TaskEnrich))
	assert.Equal(t, 1, llm.count(routing.TaskPair))
}

func TestEnrich_FailuresDegrade(t *testing.T) {
	llm := &fakeLLM{name: "fake", failAll: true}
	e, _, _ := setup(t, llm)

	got, _ := e.Enrich(context.Background(), wine, "chateau margaux")
	assert.True(t, got.Empty())
}

func TestEnrich_BadJSONIsDropped(t *testing.T) {
	llm := &fakeLLM{name: "fake", facts: "no idea", pairs: `{"pairings":["cheese"]}`}
	e, _, _ := setup(t, llm)

	got, _ := e.Enrich(context.Background(), wine, "")
	assert.Nil(t, got.Producer)
	assert.Equal(t, []string{"cheese"}, got.Pairings)
}

func TestCached_SharesKeyAcrossSpellings(t *testing.T) {
	llm := &fakeLLM{name: "fake", facts: factsJSON, pairs: `{"pairings":["lamb"]}`}
	e, _, _ := setup(t, llm)

	e.Enrich(context.Background(), wine, "Château Margaux")
	cached := e.Cached(context.Background(), wine, "CHATEAU MARGAUX")
	assert.NotNil(t, cached.Producer)
}
