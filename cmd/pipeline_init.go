package main

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/action"
	"github.com/sells-group/wine-identify/internal/cache"
	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/enrich"
	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/monitoring"
	"github.com/sells-group/wine-identify/internal/provider"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/internal/session"
	"github.com/sells-group/wine-identify/internal/store"
	anthropicpkg "github.com/sells-group/wine-identify/pkg/anthropic"
	"github.com/sells-group/wine-identify/pkg/gemini"
	"github.com/sells-group/wine-identify/pkg/openai"
)

// pipelineEnv holds everything the serve, identify and status commands need.
type pipelineEnv struct {
	Store    store.Store
	Router   *routing.Router
	Registry *provider.Registry
	Breakers *resilience.Breakers
	Budget   *cost.Budget
	Service  *identify.Service
	Actions  *action.Router
	Sessions *session.Manager

	closers []func()
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store, builds the provider clients and wires the
// identification service. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	routesCfg, err := routing.LoadConfig(cfg.Routing.File)
	if err != nil {
		return nil, err
	}
	registry, err := initProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}
	if err := routesCfg.Validate(providerNames(cfg.Providers)); err != nil {
		return nil, eris.Wrap(err, "validate routes")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Router: routing.NewRouter(routesCfg), Registry: registry}

	breakerCfg := resilience.FromCircuitConfig(
		cfg.Breaker.FailureThreshold, cfg.Breaker.SampleWindowSecs, cfg.Breaker.RecoveryTimeoutSecs,
		cfg.Breaker.SuccessThreshold, cfg.Breaker.HalfOpenMaxCalls, nil,
	)
	breakerCfg.OnStateChange = monitoring.ObserveBreakerTransition
	env.Breakers = resilience.NewBreakers(breakerCfg)

	retryCfg, err := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMs, cfg.Retry.MaxDelayMs, cfg.Retry.Jitter, cfg.Retry.RetryableErrors,
	)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "retry config")
	}
	retryCfg.OnRetry = monitoring.ObserveRetry

	rates := cost.DefaultRates()
	for _, p := range cfg.Pricing.Models {
		rates = rates.With(p.Model, p.InputPerMTok, p.OutputPerMTok)
	}
	dispatcher := provider.NewDispatcher(registry, resilience.NewExecutor(env.Breakers, retryCfg), cost.NewCalculator(rates))

	sc, err := scorer.New(scorer.DefaultWeights())
	if err != nil {
		env.Close()
		return nil, err
	}

	resolver := canonical.NewResolver(st, canonical.Config{
		Exact:          cfg.Canonical.Exact,
		Abbreviation:   cfg.Canonical.Abbreviation,
		Alias:          cfg.Canonical.Alias,
		Fuzzy:          cfg.Canonical.Fuzzy,
		CandidateLimit: cfg.Canonical.FuzzyCandidateLimit,
		MaxDistance:    cfg.Canonical.FuzzyMaxDistance,
		MinHitCount:    cfg.Canonical.FuzzyMinHitCount,
	})

	var backend cache.Backend = st
	if cfg.Cache.Backend == "memory" {
		mem := cache.NewMemoryBackend(cfg.Cache.MaxEntries)
		env.closers = append(env.closers, mem.Close)
		backend = mem
	}
	c, err := cache.New(backend, cache.TTLsFromHours(
		cfg.Cache.StaticTTLHours, cfg.Cache.SemiStaticTTLHours, cfg.Cache.DynamicTTLHours, cfg.Cache.PriceTTLHours,
	), resolver, nil)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Budget = cost.NewBudget(cost.Limits{
		DailyRequests:     cfg.Budget.DailyRequests,
		DailyCostUSD:      cfg.Budget.DailyCostUSD,
		PerMinuteRequests: cfg.Budget.PerMinuteRequests,
	}, nil)

	env.Service, err = identify.New(identify.Deps{
		Router:     env.Router,
		Dispatcher: dispatcher,
		Scorer:     sc,
		Resolver:   resolver,
		Cache:      c,
		Budget:     env.Budget,
		Enricher:   enrich.New(env.Router, dispatcher, c),
		Confidence: cfg.Confidence,
		CacheText:  cfg.Cache.IdentifyText,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Actions = action.NewRouter(env.Service, st, cfg.Enrich.Enabled)
	env.Sessions = session.NewManager(time.Duration(cfg.Server.SessionIdleMins)*time.Minute, nil)

	zap.L().Info("pipeline initialized",
		zap.Strings("providers", registry.List()),
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("tiers", len(routesCfg.Tiers)),
	)
	return env, nil
}

// providerNames lists the configured provider kinds, which are the names
// routes refer to. A configured provider without a key fails at call time
// and the route falls back.
func providerNames(providers map[string]config.ProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		if !slices.Contains(names, p.Kind) {
			names = append(names, p.Kind)
		}
	}
	slices.Sort(names)
	return names
}

// initProviders registers an adapter for every provider with an API key.
func initProviders(providers map[string]config.ProviderConfig) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for name, p := range providers {
		if p.APIKey == "" {
			continue
		}
		scale, err := scorer.ParseScale(p.ConfidenceScale)
		if err != nil {
			return nil, eris.Wrapf(err, "provider %s", name)
		}
		opts := provider.Options{Timeout: time.Duration(p.TimeoutSecs) * time.Second, Scale: scale}

		switch p.Kind {
		case config.ProviderAnthropic:
			var copts []anthropicpkg.Option
			if p.BaseURL != "" {
				copts = append(copts, anthropicpkg.WithBaseURL(p.BaseURL))
			}
			reg.Register(provider.NewAnthropic(anthropicpkg.NewClient(p.APIKey, copts...), opts))
		case config.ProviderOpenAI:
			var copts []openai.Option
			if p.BaseURL != "" {
				copts = append(copts, openai.WithBaseURL(p.BaseURL))
			}
			reg.Register(provider.NewOpenAI(openai.NewClient(p.APIKey, copts...), opts))
		case config.ProviderGemini:
			var copts []gemini.Option
			if p.BaseURL != "" {
				copts = append(copts, gemini.WithBaseURL(p.BaseURL))
			}
			reg.Register(provider.NewGemini(gemini.NewClient(p.APIKey, copts...), opts))
		default:
			return nil, eris.Errorf("provider %s: unsupported kind %q", name, p.Kind)
		}
	}
	return reg, nil
}
