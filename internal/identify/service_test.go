package identify

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
	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/escalation"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/provider"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/internal/stream"
)

// ladderLLM answers each tier by model name; unscripted models fail with a
// non-retryable error.
type ladderLLM struct {
	answers map[string]string

	mu      sync.Mutex
	models  []string
	prompts []string
}

func (l *ladderLLM) Name() string { return "llm" }

func (l *ladderLLM) Generate(_ context.Context, req provider.Request) (*provider.Completion, error) {
	l.mu.Lock()
	l.models = append(l.models, req.Model)
	l.prompts = append(l.prompts, req.Prompt)
	l.mu.Unlock()

	text, ok := l.answers[req.Model]
	if !ok {
		return nil, resilience.HTTPError("llm", 401, assert.AnError)
	}
	return &provider.Completion{
		Text:  text,
		Model: req.Model,
		Usage: model.Usage{InputTokens: 1_000_000, Calls: 1},
	}, nil
}

func (l *ladderLLM) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.models...)
}

func testConfidence() config.ConfidenceConfig {
	return config.ConfidenceConfig{AutoPopulate: 0.85, Suggest: 0.70, UserChoice: 0.60, Escalate: 0.80, Low: 0.60, VeryLow: 0.30}
}

func testRoutes() *routing.Config {
	return &routing.Config{
		Tasks: map[routing.Task]routing.TaskConfig{
			routing.TaskIdentifyText:  {Primary: routing.Candidate{Provider: "llm", Model: "fast"}, Escalate: true},
			routing.TaskIdentifyImage: {Primary: routing.Candidate{Provider: "llm", Model: "fast"}, Escalate: true},
		},
		Tiers: []routing.TierSpec{
			{Name: routing.TierFast, Threshold: 0.85},
			{Name: routing.TierDetailed, Provider: "llm", Model: "detailed", Threshold: 0.80},
			{Name: routing.TierBalanced, Provider: "llm", Model: "balanced", Threshold: 0.75},
			{Name: routing.TierPremium, Provider: "llm", Model: "premium", Threshold: 0.70},
		},
	}
}

type fixture struct {
	svc   *Service
	llm   *ladderLLM
	store *canonical.MemoryStore
}

func newFixture(t *testing.T, llm *ladderLLM, mutate func(*Deps)) *fixture {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(llm)

	clock := clockwork.NewFakeClock()
	exec := resilience.NewExecutor(
		resilience.NewBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 50, RecoveryTimeout: time.Minute, Clock: clock}),
		resilience.RetryConfig{MaxAttempts: 1},
	)
	sc, err := scorer.New(scorer.DefaultWeights())
	require.NoError(t, err)

	store := canonical.NewMemoryStore()
	d := Deps{
		Router:     routing.NewRouter(testRoutes()),
		Dispatcher: provider.NewDispatcher(reg, exec, cost.NewCalculator(cost.Rates{}.With("fast", 0.1, 0).With("detailed", 1, 0))),
		Scorer:     sc,
		Resolver:   canonical.NewResolver(store, canonical.DefaultConfig()),
		Confidence: testConfidence(),
	}
	if mutate != nil {
		mutate(&d)
	}
	svc, err := New(d)
	require.NoError(t, err)
	return &fixture{svc: svc, llm: llm, store: store}
}

const margaux = `{"producer":"Château Margaux","wineName":"Grand Vin","vintage":"2015","region":"Margaux, Bordeaux","grapes":["Cabernet Sauvignon","Merlot"],"type":"red","confidence":0.92}`

func answer(conf string) string {
	return `{"producer":"Ridge","wineName":"Monte Bello","vintage":2018,"region":"Santa Cruz Mountains","type":"red","confidence":` + conf + `}`
}

func TestIdentify_AutoPopulateStopsAtFirstTier(t *testing.T) {
	f := newFixture(t, &ladderLLM{answers: map[string]string{"fast": margaux}}, nil)

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("Chateau Margaux 2015"), Options{})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, []string{"fast"}, f.llm.calls())
	assert.InDelta(t, 0.92, resp.Confidence, 1e-9)
	assert.Equal(t, RecommendAutoPopulate, resp.Action)
	assert.Equal(t, routing.TierFast, resp.Tier)
	assert.False(t, resp.Escalation.Escalated)
	assert.Equal(t, "France", resp.Parsed.Country)
	assert.Contains(t, resp.InferencesApplied, InferCountryFromRegion)
	assert.Equal(t, "chateau margaux", resp.CanonicalProducer)
	assert.Equal(t, IntentIdentify, resp.Intent)
	assert.InDelta(t, 0.1, resp.Usage.CostUSD, 1e-9)

	require.NotNil(t, resp.Quality)
	assert.True(t, resp.Quality.IsComplete)
	assert.Equal(t, model.ActionConfirm, resp.Chips[0].Action)

	ok, err := f.store.IsCanonical(context.Background(), "chateau margaux")
	require.NoError(t, err)
	assert.True(t, ok, "confident producers are learned")
}

func TestIdentify_EscalatedButNotImproved(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{
		"fast":     answer("0.55"),
		"detailed": answer("0.50"),
		"balanced": answer("0.50"),
		"premium":  answer("0.50"),
	}}
	f := newFixture(t, llm, nil)

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("ridge monte bello"), Options{})
	require.NoError(t, err)

	assert.InDelta(t, 0.55, resp.Confidence, 1e-9)
	assert.Equal(t, routing.TierFast, resp.Tier)
	assert.True(t, resp.Escalation.Escalated)
	assert.False(t, resp.Escalation.Improved)
	assert.True(t, resp.Escalation.BelowThreshold)
	assert.True(t, resp.Escalation.Exhausted)
	assert.Len(t, resp.Escalation.Attempts, 4)
	assert.Len(t, resp.Candidates, 3)
	assert.Equal(t, RecommendDisambiguate, resp.Action)
	assert.False(t, resp.Quality.CanEscalate)
}

func TestIdentify_ReturnsMostConfidentTier(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{
		"fast":     answer("55"),
		"detailed": answer("0.78"),
		"balanced": answer("0.90"),
	}}
	f := newFixture(t, llm, nil)

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("ridge monte bello"), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"fast", "detailed", "balanced"}, llm.calls())
	assert.InDelta(t, 0.90, resp.Confidence, 1e-9)
	assert.Equal(t, routing.TierBalanced, resp.Tier)
	assert.True(t, resp.Escalation.Improved)
	require.Len(t, resp.Candidates, 2)
	assert.InDelta(t, 0.78, resp.Candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 0.55, resp.Candidates[1].Confidence, 1e-9)
	assert.InDelta(t, 1.1, resp.Usage.CostUSD, 1e-9)
}

func TestIdentify_TierFailureKeepsBestResult(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"fast": answer("0.65")}}
	f := newFixture(t, llm, nil)

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("ridge"), Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, resp.Confidence, 1e-9)
	assert.Equal(t, resilience.KindAuth, resp.Escalation.Attempts[1].ErrorKind)
}

func TestIdentify_AllTiersFail(t *testing.T) {
	f := newFixture(t, &ladderLLM{}, nil)

	req := model.NewTextRequest("ridge")
	_, err := f.svc.Identify(context.Background(), req, Options{})
	require.Error(t, err)
	assert.Equal(t, resilience.KindAuth, resilience.KindOf(err))

	resp := ErrorResponse(req, err)
	assert.False(t, resp.Success)
	assert.False(t, resp.Error.Retryable)
	require.Len(t, resp.Chips, 1)
	assert.Equal(t, model.ActionStartOver, resp.Chips[0].Action)
}

func TestIdentify_InvalidRequest(t *testing.T) {
	f := newFixture(t, &ladderLLM{}, nil)

	_, err := f.svc.Identify(context.Background(), model.NewTextRequest("  "), Options{})
	require.Error(t, err)
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))
	assert.Empty(t, f.llm.calls())
}

func TestIdentify_NeedsMoreInfo(t *testing.T) {
	vague := `{"vintage":"2019","confidence":0.2}`
	llm := &ladderLLM{answers: map[string]string{"fast": vague, "detailed": vague, "balanced": vague, "premium": vague}}
	f := newFixture(t, llm, nil)

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("2019 unnamed obscure estate"), Options{})
	require.NoError(t, err)

	assert.True(t, resp.Quality.NeedsMoreInfo)
	var actions []model.ActionKind
	for _, c := range resp.Chips {
		actions = append(actions, c.Action)
	}
	assert.Equal(t, []model.ActionKind{model.ActionProvideDetails, model.ActionSearchAgain}, actions)
}

func TestIdentify_CorrectionsAreKept(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"fast": answer("0.95")}}
	f := newFixture(t, llm, nil)

	prior := model.IdentificationResult{Producer: "Ridge", WineName: "Monte Bello", Vintage: "2018"}
	req := model.NewTextRequest("ridge monte bello").WithPrior(&prior, model.Corrections{model.FieldVintage: "2016"})

	resp, err := f.svc.Identify(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2016", resp.Parsed.Vintage)
	assert.Contains(t, resp.InferencesApplied, InferCorrections)
	assert.Equal(t, IntentRefine, resp.Intent)
	assert.Contains(t, llm.prompts[0], "- vintage: 2016")
	assert.Contains(t, llm.prompts[0], "A previous attempt produced")
}

func TestIdentify_PriorFieldsNotMerged(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"fast": answer("0.95")}}
	f := newFixture(t, llm, nil)

	prior := model.IdentificationResult{Producer: "Ridge", WineName: "Monte Bello", Region: "Napa Valley", Grapes: []string{"Zinfandel"}}
	req := model.NewTextRequest("ridge monte bello").WithPrior(&prior, model.Corrections{model.FieldVintage: "2016"})

	resp, err := f.svc.Identify(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2016", resp.Parsed.Vintage)
	assert.Equal(t, "Santa Cruz Mountains", resp.Parsed.Region)
	assert.Empty(t, resp.Parsed.Grapes)
}

func TestIdentify_SeededEscalationStartsAboveSeed(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"detailed": answer("0.88")}}
	f := newFixture(t, llm, nil)

	seed := &escalation.Outcome{
		Result:    model.IdentificationResult{Producer: "Ridge", Confidence: 0.5},
		Tier:      routing.TierFast,
		TierIndex: 0,
	}

	resp, err := f.svc.Identify(context.Background(), model.NewTextRequest("ridge"), Options{StartAt: 1, Seed: seed})
	require.NoError(t, err)
	assert.Equal(t, []string{"detailed"}, llm.calls())
	assert.Equal(t, IntentEscalate, resp.Intent)
	assert.True(t, resp.Escalation.Escalated)
	assert.True(t, resp.Escalation.Improved)
	assert.Equal(t, routing.TierDetailed, resp.Tier)
}

func TestIdentify_TextCacheSharesSpellings(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"fast": margaux}}
	f := newFixture(t, llm, func(d *Deps) {
		backend := cache.NewMemoryBackend(100)
		t.Cleanup(backend.Close)
		c, err := cache.New(backend, cache.DefaultTTLs(), nil, clockwork.NewFakeClock())
		require.NoError(t, err)
		d.Cache = c
		d.CacheText = true
	})

	first, err := f.svc.Identify(context.Background(), model.NewTextRequest("Château Margaux 2015"), Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.svc.Identify(context.Background(), model.NewTextRequest("Ch. Margaux 2015"), Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Parsed, second.Parsed)
	assert.Zero(t, second.Usage.Calls)
	assert.Len(t, llm.calls(), 1)

	_, err = f.svc.Identify(context.Background(), model.NewTextRequest("Ch. Margaux 2015"), Options{SkipCache: true})
	require.NoError(t, err)
	assert.Len(t, llm.calls(), 2)
}

func TestIdentify_BudgetRejectsBeforeProviderCall(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{"fast": margaux}}
	f := newFixture(t, llm, func(d *Deps) {
		d.Budget = cost.NewBudget(cost.Limits{DailyRequests: 1}, clockwork.NewFakeClock())
	})

	_, err := f.svc.Identify(context.Background(), model.NewTextRequest("margaux"), Options{})
	require.NoError(t, err)

	_, err = f.svc.Identify(context.Background(), model.NewTextRequest("margaux"), Options{})
	require.Error(t, err)
	assert.Equal(t, resilience.KindBudgetExceeded, resilience.KindOf(err))
	assert.Len(t, llm.calls(), 1)
}

func TestIdentify_Canceled(t *testing.T) {
	f := newFixture(t, &ladderLLM{answers: map[string]string{"fast": margaux}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Identify(ctx, model.NewTextRequest("margaux"), Options{})
	require.Error(t, err)
	assert.Equal(t, resilience.KindCanceled, resilience.KindOf(err))
}

func TestStream_EmitsFieldsPerNewBest(t *testing.T) {
	llm := &ladderLLM{answers: map[string]string{
		"fast":     `{"producer":"Ridge","confidence":0.55}`,
		"detailed": answer("0.90"),
	}}
	f := newFixture(t, llm, nil)

	rec := &stream.Recorder{}
	req := model.NewTextRequest("ridge")
	require.NoError(t, f.svc.Stream(context.Background(), rec, req, Options{}, time.Second))

	assert.Equal(t, []stream.EventType{
		stream.EventField,
		stream.EventEscalating,
		stream.EventField, stream.EventField, stream.EventField, stream.EventField, stream.EventField, stream.EventField,
		stream.EventField,
		stream.EventResult, stream.EventDone,
	}, rec.Types())

	events := rec.Events()
	esc := events[1].Data.(stream.EscalatingData)
	assert.Equal(t, "fast", esc.From)
	assert.Equal(t, "detailed", esc.To)
	assert.InDelta(t, 0.55, esc.Confidence, 1e-9)

	conf := events[len(events)-3].Data.(stream.FieldData)
	assert.Equal(t, model.FieldConfidence, conf.Field)

	resp, ok := events[len(events)-2].Data.(*Response)
	require.True(t, ok)
	assert.Equal(t, req.ID(), resp.RequestID)
	assert.InDelta(t, 0.90, resp.Confidence, 1e-9)
}

func TestStream_ErrorEndsWithDone(t *testing.T) {
	f := newFixture(t, &ladderLLM{}, nil)

	rec := &stream.Recorder{}
	require.NoError(t, f.svc.Stream(context.Background(), rec, model.NewTextRequest("ridge"), Options{}, time.Second))
	assert.Equal(t, []stream.EventType{stream.EventError, stream.EventDone}, rec.Types())
}

func TestBuildPrompt_Image(t *testing.T) {
	req := model.NewImageRequest([]byte{1}, "image/png", "back label")
	p := buildPrompt(req)
	assert.True(t, strings.HasPrefix(p, imageInstruction))
	assert.Contains(t, p, "back label")
}

func TestCountryForRegion(t *testing.T) {
	tests := []struct {
		region string
		want   string
		ok     bool
	}{
		{"Napa Valley", "USA", true},
		{"Saint-Émilion", "France", true},
		{"Pauillac, Bordeaux", "France", true},
		{"Hawke's Bay", "New Zealand", true},
		{"Somewhere", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.region, func(t *testing.T) {
			got, ok := countryForRegion(tt.region)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
