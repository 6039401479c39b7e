// Package identify runs the identification pipeline: cache, admission,
// tiered provider calls, scoring, canonicalization and follow-up actions.
package identify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/cache"
	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/chips"
	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/enrich"
	"github.com/sells-group/wine-identify/internal/escalation"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/monitoring"
	"github.com/sells-group/wine-identify/internal/provider"
	"github.com/sells-group/wine-identify/internal/quality"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
)

// factIdentification is the cache fact for a whole text identification.
const factIdentification = "identification"

// Deps are the collaborators of a Service. Cache, Budget and Enricher are
// optional.
type Deps struct {
	Router     *routing.Router
	Dispatcher *provider.Dispatcher
	Scorer     *scorer.Scorer
	Resolver   *canonical.Resolver
	Cache      *cache.Cache
	Budget     *cost.Budget
	Enricher   *enrich.Enricher
	Confidence config.ConfidenceConfig
	// CacheText enables the identification cache for text requests.
	CacheText bool
}

// Service identifies wines.
type Service struct {
	router     *routing.Router
	dispatcher *provider.Dispatcher
	scorer     *scorer.Scorer
	controller *escalation.Controller
	resolver   *canonical.Resolver
	cache      *cache.Cache
	budget     *cost.Budget
	enricher   *enrich.Enricher
	confidence config.ConfidenceConfig
	quality    quality.Thresholds
	cacheText  bool
}

// New creates a Service.
func New(d Deps) (*Service, error) {
	if d.Router == nil || d.Dispatcher == nil || d.Scorer == nil || d.Resolver == nil {
		return nil, eris.New("identify: router, dispatcher, scorer and resolver are required")
	}
	q := quality.Thresholds{Low: d.Confidence.Low, Escalate: d.Confidence.Escalate, VeryLow: d.Confidence.VeryLow}
	if err := q.Validate(); err != nil {
		return nil, eris.Wrap(err, "identify: quality thresholds")
	}
	return &Service{
		router:     d.Router,
		dispatcher: d.Dispatcher,
		scorer:     d.Scorer,
		controller: escalation.New(d.Confidence.AutoPopulate),
		resolver:   d.Resolver,
		cache:      d.Cache,
		budget:     d.Budget,
		enricher:   d.Enricher,
		confidence: d.Confidence,
		quality:    q,
		cacheText:  d.CacheText,
	}, nil
}

// Observer is told about progress while an identification runs.
type Observer interface {
	// OnResult is called with every new best result.
	OnResult(r model.IdentificationResult)
	// OnEscalate is called before a higher tier runs.
	OnEscalate(from, to routing.TierName, confidence float64)
}

// Options tune a single identification.
type Options struct {
	Enrich    bool
	SkipCache bool
	// StartAt and Seed resume the ladder above an earlier result.
	StartAt  int
	Seed     *escalation.Outcome
	Observer Observer
}

// cachedIdentification is the cached form of a confident text result.
type cachedIdentification struct {
	Result            model.IdentificationResult `json:"result"`
	Tier              routing.TierName           `json:"tier"`
	TierIndex         int                        `json:"tierIndex"`
	Provider          string                     `json:"provider"`
	Model             string                     `json:"model"`
	CanonicalProducer string                     `json:"canonicalProducer,omitempty"`
	Inferences        []string                   `json:"inferences,omitempty"`
}

// Identify runs req through the pipeline. The returned error carries a
// resilience kind; ErrorResponse renders it for clients.
func (s *Service) Identify(ctx context.Context, req model.IdentificationRequest, opts Options) (*Response, error) {
	start := time.Now()
	resp, err := s.identify(ctx, req, opts)

	obs := monitoring.Observation{Input: string(req.Kind()), Elapsed: time.Since(start), Err: err}
	if resp != nil {
		obs.Action = string(resp.Action)
		obs.Tier = string(resp.Tier)
		obs.Escalated = resp.Escalation.Escalated
		obs.Improved = resp.Escalation.Improved
		obs.Cached = resp.Cached
		obs.CostUSD = resp.Usage.CostUSD
	}
	monitoring.ObserveIdentification(obs)
	return resp, err
}

func (s *Service) identify(ctx context.Context, req model.IdentificationRequest, opts Options) (*Response, error) {
	log := zap.L().With(zap.String("request_id", req.ID()), zap.String("input", string(req.Kind())))

	if err := req.Validate(); err != nil {
		return nil, resilience.NewError(resilience.KindValidation, err)
	}

	task := routing.TaskForInput(req.Kind())
	steps, err := s.router.Plan(task)
	if err != nil {
		return nil, err
	}

	if s.cacheable(req, opts) {
		if hit, ok := cache.GetJSON[cachedIdentification](ctx, s.cache, req.Text(), factIdentification); ok {
			log.Info("identify: cache hit", zap.String("tier", string(hit.Tier)))
			return s.fromCache(ctx, req, opts, hit, len(steps)), nil
		}
		monitoring.ObserveCacheMiss()
	}

	if s.budget != nil {
		if err := s.budget.Admit(); err != nil {
			log.Warn("identify: rejected by budget", zap.Error(err))
			return nil, err
		}
	}

	preq := provider.Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(req),
		Image:     req.Image(),
		ImageMIME: req.ImageMIME(),
		JSON:      true,
	}

	var (
		usage    model.Usage
		outcomes []*escalation.Outcome
	)
	attempt := func(ctx context.Context, step routing.Step) (*escalation.Outcome, error) {
		dec, served, err := provider.Dispatch(ctx, s.dispatcher, task, step, preq, decode)
		usage = usage.Add(served.Usage)
		if err != nil {
			return nil, err
		}
		out := s.score(req, dec, served)
		outcomes = append(outcomes, out)
		log.Debug("identify: tier answered",
			zap.String("tier", string(step.Tier.Name)),
			zap.String("candidate", served.Candidate.String()),
			zap.Float64("confidence", out.Result.Confidence),
		)
		return out, nil
	}

	eopts := escalation.Options{StartAt: opts.StartAt, Seed: opts.Seed}
	if o := opts.Observer; o != nil {
		if opts.Seed != nil {
			o.OnResult(opts.Seed.Result)
		}
		eopts.OnImproved = func(best *escalation.Outcome) { o.OnResult(best.Result) }
		eopts.OnEscalate = func(from, to routing.TierSpec, best *escalation.Outcome) {
			var conf float64
			if best != nil {
				conf = best.Result.Confidence
			}
			o.OnEscalate(from.Name, to.Name, conf)
		}
	}

	d, err := s.controller.Run(ctx, steps, attempt, eopts)
	if s.budget != nil {
		s.budget.Record(usage.CostUSD)
	}
	if err != nil {
		log.Warn("identify: no tier produced a result", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, resilience.NewError(resilience.KindOf(err), eris.Wrap(err, "identify: abandoned"))
	}

	best := d.Best
	result := best.Result.Clone()
	canon := s.canonicalize(ctx, log, result)

	resp := &Response{
		RequestID:         req.ID(),
		Success:           true,
		InputType:         req.Kind(),
		Intent:            intentOf(req, opts),
		Parsed:            &result,
		Confidence:        result.Confidence,
		Action:            s.recommend(result.Confidence),
		Candidates:        candidatesFrom(outcomes, best),
		Usage:             usage,
		InferencesApplied: inferencesOf(best),
		Tier:              best.Tier,
		TierIndex:         best.TierIndex,
		Provider:          best.Provider,
		Model:             best.Model,
		CanonicalProducer: canon,
		Escalation: Escalation{
			Escalated:      d.Escalated,
			Improved:       d.Improved,
			BelowThreshold: d.BelowThreshold,
			Exhausted:      d.Exhausted,
			StoppedAt:      d.StoppedAt,
			Attempts:       d.Attempts,
		},
	}
	s.analyze(resp, d.Exhausted)

	if opts.Enrich {
		s.enrich(ctx, resp)
	}

	if s.cacheable(req, opts) && result.Confidence >= s.confidence.Suggest && !d.BelowThreshold {
		err := cache.PutJSON(ctx, s.cache, req.Text(), factIdentification, model.VolatilitySemiStatic, cachedIdentification{
			Result:            result,
			Tier:              best.Tier,
			TierIndex:         best.TierIndex,
			Provider:          best.Provider,
			Model:             best.Model,
			CanonicalProducer: canon,
			Inferences:        best.Inferences,
		})
		if err != nil {
			log.Warn("identify: cache write failed", zap.Error(err))
		}
	}

	log.Info("identify: complete",
		zap.String("tier", string(best.Tier)),
		zap.Float64("confidence", result.Confidence),
		zap.String("action", string(resp.Action)),
		zap.Bool("escalated", d.Escalated),
		zap.Bool("improved", d.Improved),
		zap.Float64("cost_usd", usage.CostUSD),
	)
	return resp, nil
}

// score layers corrections and inferences over a decoded answer and computes
// its confidence.
func (s *Service) score(req model.IdentificationRequest, dec *provider.Decoded, served provider.Served) *escalation.Outcome {
	r := dec.Result
	var inferences []string
	if c := req.Corrections(); len(c) > 0 {
		r = r.WithCorrections(c)
		inferences = append(inferences, InferCorrections)
	}
	r, applied := infer(r)
	inferences = append(inferences, applied...)

	scale := dec.Scale
	if scale == scorer.ScaleUnknown {
		scale = provider.ScaleOf(served.Provider)
	}
	bd := s.scorer.Score(r, dec.Reported, scale)
	if bd.OffScale {
		zap.L().Warn("identify: reported confidence outside declared scale",
			zap.String("provider", served.Candidate.Provider),
			zap.Float64("reported", *dec.Reported),
			zap.String("scale", string(scale)),
			zap.Float64("confidence", bd.Confidence),
		)
	}
	r.Confidence = bd.Confidence

	return &escalation.Outcome{
		Result:     r,
		Provider:   served.Candidate.Provider,
		Model:      served.Candidate.Model,
		Usage:      served.Usage,
		Inferences: inferences,
	}
}

// canonicalize resolves the producer and learns it when the result is
// confident enough to populate automatically.
func (s *Service) canonicalize(ctx context.Context, log *zap.Logger, r model.IdentificationResult) string {
	if !r.Has(model.FieldProducer) {
		return ""
	}
	canon, _ := s.resolver.Canonicalize(ctx, r.Producer)
	if r.Confidence >= s.confidence.AutoPopulate {
		if err := s.resolver.Learn(ctx, r.Producer); err != nil {
			log.Warn("identify: learn producer failed", zap.Error(err))
		}
	}
	return canon
}

func (s *Service) recommend(conf float64) Recommendation {
	c := s.confidence
	switch {
	case conf >= c.AutoPopulate:
		return RecommendAutoPopulate
	case conf >= c.Suggest:
		return RecommendSuggest
	case conf >= c.UserChoice:
		return RecommendUserChoice
	}
	return RecommendDisambiguate
}

// analyze attaches the quality analysis and the chips derived from it.
func (s *Service) analyze(resp *Response, exhausted bool) {
	a, cs := s.Assess(*resp.Parsed, exhausted)
	resp.Quality = &a
	resp.Chips = cs
}

// Assess classifies a result that changed outside the pipeline, such as a
// user correction, and returns the chips that now apply.
func (s *Service) Assess(r model.IdentificationResult, exhausted bool) (quality.Analysis, []model.Chip) {
	a := quality.Analyze(quality.Input{Result: r, Confidence: r.Confidence, EscalationExhausted: exhausted}, s.quality, s.scorer.Weights())
	return a, chips.Generate(chips.Input{Analysis: a, Result: r})
}

// EnrichResult enriches an accepted result on demand.
func (s *Service) EnrichResult(ctx context.Context, r model.IdentificationResult, producer string) (*enrich.Enrichment, model.Usage, error) {
	if s.enricher == nil {
		return nil, model.Usage{}, resilience.Errorf(resilience.KindConfig, "identify: enrichment is disabled")
	}
	if s.budget != nil {
		if err := s.budget.Admit(); err != nil {
			return nil, model.Usage{}, err
		}
	}
	e, u := s.enricher.Enrich(ctx, r, producer)
	if s.budget != nil {
		s.budget.Record(u.CostUSD)
	}
	return e, u, nil
}

func (s *Service) enrich(ctx context.Context, resp *Response) {
	if s.enricher == nil || !resp.Parsed.Has(model.FieldProducer) {
		return
	}
	e, u := s.enricher.Enrich(ctx, *resp.Parsed, resp.CanonicalProducer)
	resp.Usage = resp.Usage.Add(u)
	if s.budget != nil {
		s.budget.Record(u.CostUSD)
	}
	if !e.Empty() {
		resp.Enrichment = e
	}
}

func (s *Service) cacheable(req model.IdentificationRequest, opts Options) bool {
	return s.cache != nil && s.cacheText && !opts.SkipCache &&
		req.Kind() == model.InputText && req.Prior() == nil && len(req.Corrections()) == 0 &&
		opts.Seed == nil && opts.StartAt == 0
}

func (s *Service) fromCache(ctx context.Context, req model.IdentificationRequest, opts Options, hit cachedIdentification, tiers int) *Response {
	result := hit.Result.Clone()
	if opts.Observer != nil {
		opts.Observer.OnResult(result)
	}
	exhausted := hit.TierIndex >= tiers-1
	resp := &Response{
		RequestID:         req.ID(),
		Success:           true,
		InputType:         req.Kind(),
		Intent:            intentOf(req, opts),
		Parsed:            &result,
		Confidence:        result.Confidence,
		Action:            s.recommend(result.Confidence),
		Candidates:        []Candidate{},
		InferencesApplied: append([]string{}, hit.Inferences...),
		Tier:              hit.Tier,
		TierIndex:         hit.TierIndex,
		Provider:          hit.Provider,
		Model:             hit.Model,
		CanonicalProducer: hit.CanonicalProducer,
		Cached:            true,
		Escalation:        Escalation{StoppedAt: hit.Tier, Exhausted: exhausted},
	}
	s.analyze(resp, exhausted)
	if opts.Enrich {
		s.enrich(ctx, resp)
	}
	return resp
}

func decode(c *provider.Completion) (*provider.Decoded, error) {
	return provider.DecodeIdentification(c.Text)
}

func inferencesOf(o *escalation.Outcome) []string {
	if o == nil || len(o.Inferences) == 0 {
		return []string{}
	}
	return append([]string{}, o.Inferences...)
}
