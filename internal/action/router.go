// Package action routes user actions against a session through validation,
// retry tracking and error handling to the domain handlers.
package action

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/chips"
	"github.com/sells-group/wine-identify/internal/enrich"
	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/monitoring"
	"github.com/sells-group/wine-identify/internal/quality"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/session"
)

// Identifier is the identification pipeline as the handlers use it.
type Identifier interface {
	Identify(ctx context.Context, req model.IdentificationRequest, opts identify.Options) (*identify.Response, error)
	Assess(r model.IdentificationResult, exhausted bool) (quality.Analysis, []model.Chip)
	EnrichResult(ctx context.Context, r model.IdentificationResult, producer string) (*enrich.Enrichment, model.Usage, error)
}

// Persister stores wines added from a session.
type Persister interface {
	PersistWine(ctx context.Context, rec model.WineRecord) error
}

// Result is what a dispatched action produced.
type Result struct {
	Action     model.ActionKind            `json:"action"`
	Phase      session.Phase               `json:"phase"`
	Response   *identify.Response          `json:"response,omitempty"`
	Parsed     *model.IdentificationResult `json:"parsed,omitempty"`
	Quality    *quality.Analysis           `json:"quality,omitempty"`
	Chips      []model.Chip                `json:"chips"`
	Enrichment *enrich.Enrichment          `json:"enrichment,omitempty"`
	Record     *model.WineRecord           `json:"record,omitempty"`
	Error      *session.ErrorEntry         `json:"error,omitempty"`
}

// Handler handles one action against a session.
type Handler func(ctx context.Context, s *session.Session, a model.Action) (*Result, error)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Router dispatches actions. Middleware runs in order: alias normalization,
// validation, retry tracking, error handling, then the domain handler.
type Router struct {
	identification *identificationHandler
	enrichment     *enrichmentHandler
	addFlow        *addFlowHandler
	camera         *cameraHandler
	chain          Handler
}

// NewRouter creates a Router. A nil persister makes add_to_cellar fail with a
// config error.
func NewRouter(id Identifier, persister Persister, enrichOnAccept bool) *Router {
	r := &Router{
		identification: &identificationHandler{id: id, enrichOnAccept: enrichOnAccept},
		enrichment:     &enrichmentHandler{id: id},
		addFlow:        &addFlowHandler{id: id, persister: persister},
		camera:         &cameraHandler{},
	}
	r.chain = chain(r.dispatch, normalize, validate, trackRetry, recoverErrors)
	return r
}

// Dispatch runs a through the middleware chain. Validation failures return
// an error and leave the session untouched; handler failures are recorded on
// the session and reported in Result.Error.
func (r *Router) Dispatch(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
	res, err := r.chain(ctx, s, a)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "rejected"
	case res != nil && res.Error != nil:
		outcome = "failed"
	}
	label := "unknown"
	if kind, ok := model.ParseActionKind(string(a.Kind)); ok {
		label = string(kind)
	}
	monitoring.Actions.WithLabelValues(label, outcome).Inc()
	return res, err
}

// chain applies mws so the first one runs outermost.
func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// dispatch is the exhaustive switch over action kinds.
func (r *Router) dispatch(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
	switch a.Kind {
	case model.ActionSubmitText, model.ActionSubmitImage, model.ActionProvideDetails,
		model.ActionSearchAgain, model.ActionEscalate, model.ActionReject,
		model.ActionCorrectField, model.ActionSpecifyVintage, model.ActionMarkNonVintage,
		model.ActionSpecifyProducer, model.ActionUseProducerAsName, model.ActionUseGrapeAsName,
		model.ActionConfirm, model.ActionUseAnyway, model.ActionCancel, model.ActionStartOver:
		return r.identification.handle(ctx, s, a)
	case model.ActionEnrich:
		return r.enrichment.handle(ctx, s, a)
	case model.ActionAddToCellar, model.ActionEnterManually:
		return r.addFlow.handle(ctx, s, a)
	case model.ActionOpenCamera:
		return r.camera.handle(ctx, s, a)
	case model.ActionRetry:
		return nil, invalid("retry reached dispatch unresolved")
	}
	return nil, invalid("unhandled kind %q", a.Kind)
}

// normalize maps legacy action names onto canonical kinds.
func normalize(next Handler) Handler {
	return func(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
		kind, ok := model.ParseActionKind(string(a.Kind))
		if !ok {
			return nil, invalid("unknown action %q", a.Kind)
		}
		a.Kind = kind
		return next(ctx, s, a)
	}
}

// validate rejects actions whose preconditions are not met.
func validate(next Handler) Handler {
	return func(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
		if err := check(s, a); err != nil {
			return nil, err
		}
		return next(ctx, s, a)
	}
}

// trackRetry remembers the last dispatched action and resolves a bare retry
// to it.
func trackRetry(next Handler) Handler {
	return func(ctx context.Context, s *session.Session, a model.Action) (*Result, error) {
		if a.Kind == model.ActionRetry {
			last, ok := s.LastAction()
			if !ok {
				return nil, invalid("nothing to retry")
			}
			if err := check(s, last); err != nil {
				return nil, err
			}
			zap.L().Debug("action: retrying", zap.String("session", s.ID()), zap.String("kind", string(last.Kind)))
			a = last
		}
		if retriable(a.Kind) {
			s.RecordAction(a)
		}
		return next(ctx, s, a)
	}
}

// retriable reports whether a bare retry may replay kind.
func retriable(kind model.ActionKind) bool {
	switch kind {
	case model.ActionRetry, model.ActionCancel, model.ActionStartOver, model.ActionOpenCamera:
		return false
	}
	return true
}

// recoverErrors turns handler errors and panics into a recorded session
// error. Canceled requests were superseded and are not errors.
func recoverErrors(next Handler) Handler {
	return func(ctx context.Context, s *session.Session, a model.Action) (res *Result, err error) {
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("action: handler panic", zap.String("kind", string(a.Kind)), zap.Any("panic", p))
				res, err = failed(s, a, resilience.Errorf(resilience.KindUnknown, "action: %s failed: %v", a.Kind, p)), nil
			}
		}()

		res, err = next(ctx, s, a)
		if err == nil {
			return res, nil
		}
		if resilience.KindOf(err) == resilience.KindCanceled {
			return &Result{Action: a.Kind, Phase: s.Phase(), Chips: []model.Chip{}}, nil
		}
		zap.L().Warn("action: handler failed",
			zap.String("session", s.ID()),
			zap.String("kind", string(a.Kind)),
			zap.Error(err),
		)
		return failed(s, a, err), nil
	}
}

func failed(s *session.Session, a model.Action, err error) *Result {
	entry := s.RecordError(err)
	return &Result{
		Action: a.Kind,
		Phase:  session.PhaseError,
		Chips:  chips.Generate(chips.Input{Failed: true, Retryable: entry.Retryable}),
		Error:  &entry,
	}
}

func invalid(format string, args ...any) error {
	return resilience.Errorf(resilience.KindValidation, "action: "+format, args...)
}
