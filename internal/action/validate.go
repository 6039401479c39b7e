package action

import (
	"slices"
	"strings"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/session"
)

// needsResult lists actions that act on the session's current result.
var needsResult = []model.ActionKind{
	model.ActionConfirm, model.ActionReject, model.ActionUseAnyway,
	model.ActionCorrectField, model.ActionSpecifyVintage, model.ActionMarkNonVintage,
	model.ActionSpecifyProducer, model.ActionUseProducerAsName, model.ActionUseGrapeAsName,
	model.ActionEscalate, model.ActionSearchAgain, model.ActionEnrich, model.ActionAddToCellar,
}

// check enforces phase, result and payload preconditions for a.
func check(s *session.Session, a model.Action) error {
	phase := s.Phase()
	cur, hasResult := s.Result()

	if slices.Contains(needsResult, a.Kind) && !hasResult {
		return invalid("%s needs an identified wine", a.Kind)
	}

	switch a.Kind {
	case model.ActionSubmitText:
		if strings.TrimSpace(a.Text) == "" {
			return invalid("submit_text needs text")
		}
	case model.ActionSubmitImage:
		if len(a.Image) == 0 || a.ImageMIME == "" {
			return invalid("submit_image needs an image and its mime type")
		}
	case model.ActionProvideDetails:
		if strings.TrimSpace(a.Text) == "" {
			return invalid("provide_more_details needs text")
		}
	case model.ActionConfirm, model.ActionUseAnyway:
		if phase != session.PhaseResult {
			return invalid("%s is only valid while a result is shown, not in %s", a.Kind, phase)
		}
	case model.ActionEscalate:
		if cur.Exhausted {
			return invalid("escalate: no higher tier left")
		}
	case model.ActionCorrectField:
		f, ok := model.ParseField(string(a.Field))
		if (!ok || f == model.FieldConfidence) && len(a.Payload) == 0 {
			return invalid("correct_field needs a wine field or corrections")
		}
		if ok && strings.TrimSpace(a.Value) == "" {
			return invalid("correct_field needs a value for %s", f)
		}
	case model.ActionSpecifyVintage:
		if model.NormalizeVintage(a.Value) == "" {
			return invalid("specify_vintage: %q is not a vintage", a.Value)
		}
	case model.ActionSpecifyProducer:
		if strings.TrimSpace(a.Value) == "" {
			return invalid("specify_producer needs a producer")
		}
	case model.ActionUseProducerAsName:
		if strings.TrimSpace(a.Value) == "" && !cur.Result.Has(model.FieldProducer) {
			return invalid("use_producer_as_name: no producer to use")
		}
	case model.ActionUseGrapeAsName:
		if strings.TrimSpace(a.Value) == "" && !cur.Result.Has(model.FieldGrapes) {
			return invalid("use_grape_as_name: no grape to use")
		}
	case model.ActionAddToCellar:
		if !slices.Contains([]session.Phase{session.PhaseResult, session.PhaseAdding, session.PhaseError}, phase) {
			return invalid("add_to_cellar is not valid in %s", phase)
		}
		if !cur.Result.HasCoreFields() {
			return invalid("add_to_cellar needs a producer and wine name")
		}
	case model.ActionCancel:
		id, ok := s.InFlight()
		if !ok {
			return invalid("cancel: nothing in flight")
		}
		if a.RequestID != "" && a.RequestID != id {
			return invalid("cancel: request %q is not in flight", a.RequestID)
		}
	}
	return nil
}
