package action

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/chips"
	"github.com/sells-group/wine-identify/internal/escalation"
	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/session"
)

// identificationHandler runs identifications and applies local corrections
// to the session's result.
type identificationHandler struct {
	id             Identifier
	enrichOnAccept bool
}

func (h *identificationHandler) handle(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
	cur, hasResult := s.Result()

	switch a.Kind {
	case model.ActionSubmitText:
		return h.run(ctx, s, a, model.NewTextRequest(a.Text), identify.Options{})

	case model.ActionSubmitImage:
		return h.run(ctx, s, a, model.NewImageRequest(a.Image, a.ImageMIME, a.Text), identify.Options{})

	case model.ActionProvideDetails:
		if !hasResult {
			return h.run(ctx, s, a, model.NewTextRequest(a.Text), identify.Options{})
		}
		text := strings.TrimSpace(cur.Request.Text() + " " + a.Text)
		req := cur.Request.WithText(text).WithPrior(&cur.Result, a.Payload)
		return h.run(ctx, s, a, req, identify.Options{})

	case model.ActionSearchAgain:
		return h.run(ctx, s, a, cur.Request.Renew(), identify.Options{SkipCache: true})

	case model.ActionEscalate:
		seed := &escalation.Outcome{Result: cur.Result.Clone(), TierIndex: cur.TierIndex}
		seed.Result.Confidence = cur.Confidence
		return h.run(ctx, s, a, cur.Request.Renew(), identify.Options{StartAt: cur.TierIndex + 1, Seed: seed})

	case model.ActionReject:
		s.SetPhase(session.PhaseIdle)
		return &Result{
			Action: a.Kind,
			Phase:  session.PhaseIdle,
			Chips:  chips.Offer(model.ActionProvideDetails, model.ActionSearchAgain, model.ActionEnterManually),
		}, nil

	case model.ActionCorrectField:
		c := a.Payload.Clone()
		if f, ok := model.ParseField(string(a.Field)); ok && f != model.FieldConfidence {
			if c == nil {
				c = model.Corrections{}
			}
			c[f] = a.Value
		}
		return h.amend(s, a, cur, cur.Result.WithCorrections(c))

	case model.ActionSpecifyVintage:
		return h.amend(s, a, cur, cur.Result.With(model.FieldVintage, a.Value))

	case model.ActionMarkNonVintage:
		return h.amend(s, a, cur, cur.Result.With(model.FieldVintage, model.NonVintage))

	case model.ActionSpecifyProducer:
		return h.amend(s, a, cur, cur.Result.With(model.FieldProducer, a.Value))

	case model.ActionUseProducerAsName:
		name := strings.TrimSpace(a.Value)
		if name == "" {
			name = cur.Result.Producer
		}
		return h.amend(s, a, cur, cur.Result.With(model.FieldWineName, name))

	case model.ActionUseGrapeAsName:
		name := strings.TrimSpace(a.Value)
		if name == "" {
			name = cur.Result.Grapes[0]
		}
		return h.amend(s, a, cur, cur.Result.With(model.FieldWineName, name))

	case model.ActionConfirm, model.ActionUseAnyway:
		return h.accept(ctx, s, a, cur), nil

	case model.ActionCancel:
		if !s.Cancel(a.RequestID) {
			return nil, invalid("cancel: request %q is not in flight", a.RequestID)
		}
		return &Result{Action: a.Kind, Phase: s.Phase(), Chips: []model.Chip{}}, nil

	case model.ActionStartOver:
		s.Reset()
		return &Result{Action: a.Kind, Phase: session.PhaseIdle, Chips: []model.Chip{}}, nil
	}
	return nil, invalid("identification cannot handle %q", a.Kind)
}

// run identifies req as the session's in-flight request and makes the
// outcome the session's current result.
func (h *identificationHandler) run(ctx context.Context, s *session.Session, a model.Action, req model.IdentificationRequest, opts identify.Options) (*Result, error) {
	log := zap.L().With(
		zap.String("session", s.ID()),
		zap.String("action", string(a.Kind)),
		zap.String("request_id", req.ID()),
	)

	ctx, done := s.Begin(ctx, req.ID())
	defer done()

	resp, err := h.id.Identify(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if resp.Parsed == nil {
		return nil, resilience.Errorf(resilience.KindUnknown, "action: request %s produced no result", req.ID())
	}

	completed := ctx.Err() == nil && s.Complete(req.ID(), session.Result{
		RequestID:         resp.RequestID,
		Request:           req,
		Result:            resp.Parsed.Clone(),
		Confidence:        resp.Confidence,
		TierIndex:         resp.TierIndex,
		Exhausted:         resp.Escalation.Exhausted,
		CanonicalProducer: resp.CanonicalProducer,
	})
	if !completed {
		log.Debug("action: superseded result dropped")
		return nil, resilience.Errorf(resilience.KindCanceled, "action: request %s superseded", req.ID())
	}
	log.Debug("action: identified", zap.Float64("confidence", resp.Confidence), zap.String("tier", string(resp.Tier)))

	return &Result{
		Action:     a.Kind,
		Phase:      session.PhaseResult,
		Response:   resp,
		Parsed:     resp.Parsed,
		Quality:    resp.Quality,
		Chips:      resp.Chips,
		Enrichment: resp.Enrichment,
	}, nil
}

// amend replaces the session's result with a locally corrected one and
// recomputes its chips. No provider is called.
func (h *identificationHandler) amend(s *session.Session, a model.Action, cur session.Result, updated model.IdentificationResult) (*Result, error) {
	updated.Confidence = cur.Confidence
	cur.Result = updated
	s.SetResult(cur)

	analysis, cs := h.id.Assess(updated, cur.Exhausted)
	parsed := updated.Clone()
	return &Result{
		Action:  a.Kind,
		Phase:   session.PhaseResult,
		Parsed:  &parsed,
		Quality: &analysis,
		Chips:   cs,
	}, nil
}

// accept moves the session into the add flow. Enrichment on accept is best
// effort.
func (h *identificationHandler) accept(ctx context.Context, s *session.Session, a model.Action, cur session.Result) *Result {
	s.SetPhase(session.PhaseAdding)
	parsed := cur.Result.Clone()
	res := &Result{
		Action: a.Kind,
		Phase:  session.PhaseAdding,
		Parsed: &parsed,
		Chips:  chips.Offer(model.ActionAddToCellar, model.ActionEnrich),
	}
	if !h.enrichOnAccept {
		return res
	}
	e, _, err := h.id.EnrichResult(ctx, cur.Result, cur.CanonicalProducer)
	if err != nil {
		zap.L().Warn("action: enrichment on accept failed", zap.String("session", s.ID()), zap.Error(err))
		return res
	}
	res.Enrichment = e
	res.Chips = chips.Offer(model.ActionAddToCellar)
	return res
}

// enrichmentHandler fetches background facts for the current result.
type enrichmentHandler struct {
	id Identifier
}

func (h *enrichmentHandler) handle(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
	cur, _ := s.Result()
	prev := s.Phase()
	if prev == session.PhaseError {
		prev = session.PhaseResult
	}

	s.SetPhase(session.PhaseEnriching)
	e, _, err := h.id.EnrichResult(ctx, cur.Result, cur.CanonicalProducer)
	if err != nil {
		return nil, err
	}
	s.SetPhase(prev)

	parsed := cur.Result.Clone()
	return &Result{
		Action:     a.Kind,
		Phase:      prev,
		Parsed:     &parsed,
		Enrichment: e,
		Chips:      chips.Offer(model.ActionAddToCellar),
	}, nil
}

// addFlowHandler saves wines and handles manual entry.
type addFlowHandler struct {
	id        Identifier
	persister Persister
}

func (h *addFlowHandler) handle(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
	switch a.Kind {
	case model.ActionAddToCellar:
		if h.persister == nil {
			return nil, resilience.Errorf(resilience.KindConfig, "action: no wine store configured")
		}
		cur, _ := s.Result()
		rec := model.WineRecord{
			ID:                uuid.NewString(),
			RequestID:         cur.RequestID,
			Result:            cur.Result.Clone(),
			CanonicalProducer: cur.CanonicalProducer,
			CreatedAt:         time.Now().UTC(),
		}
		if err := h.persister.PersistWine(ctx, rec); err != nil {
			return nil, err
		}
		s.SetPhase(session.PhaseComplete)
		zap.L().Info("action: wine added",
			zap.String("session", s.ID()),
			zap.String("wine_id", rec.ID),
			zap.String("producer", rec.Result.Producer),
		)
		return &Result{
			Action: a.Kind,
			Phase:  session.PhaseComplete,
			Record: &rec,
			Chips:  chips.Offer(model.ActionStartOver),
		}, nil

	case model.ActionEnterManually:
		r := model.IdentificationResult{}.WithCorrections(a.Payload)
		if f, ok := model.ParseField(string(a.Field)); ok && a.Value != "" {
			r = r.With(f, a.Value)
		}
		r.Confidence = 1
		s.SetResult(session.Result{
			RequestID:  uuid.NewString(),
			Result:     r,
			Confidence: 1,
			Exhausted:  true,
		})
		s.SetPhase(session.PhaseAdding)
		analysis, _ := h.id.Assess(r, true)
		parsed := r.Clone()
		return &Result{
			Action:  a.Kind,
			Phase:   session.PhaseAdding,
			Parsed:  &parsed,
			Quality: &analysis,
			Chips:   chips.Offer(model.ActionAddToCellar),
		}, nil
	}
	return nil, invalid("add flow cannot handle %q", a.Kind)
}

// cameraHandler switches the session to label capture.
type cameraHandler struct{}

func (h *cameraHandler) handle(_ context.Context, s *session.Session, a model.Action) (*Result, error) {
	s.SetPhase(session.PhaseCamera)
	return &Result{Action: a.Kind, Phase: session.PhaseCamera, Chips: []model.Chip{}}, nil
}
