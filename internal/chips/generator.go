// Package chips maps a quality analysis onto the ordered follow-up actions
// offered to the user.
package chips

import (
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/quality"
)

// Branch names the situation a chip set was generated for.
type Branch string

// Branches in evaluation order. Exactly one applies to any input.
const (
	BranchError           Branch = "error"
	BranchNeedsMoreInfo   Branch = "needs_more_info"
	BranchLowEscalatable  Branch = "low_escalatable"
	BranchComplete        Branch = "complete"
	BranchMissingVintage  Branch = "missing_vintage"
	BranchMissingProducer Branch = "missing_producer"
	BranchMissingWineName Branch = "missing_wine_name"
	BranchAcceptUncertain Branch = "accept_uncertain"
	BranchGeneric         Branch = "generic"
)

// Input is an analyzed result, or a failure.
type Input struct {
	Analysis quality.Analysis
	Result   model.IdentificationResult
	// Failed marks a terminal error instead of a result.
	Failed    bool
	Retryable bool
}

// Classify picks the single branch for in.
func Classify(in Input) Branch {
	a := in.Analysis
	switch {
	case in.Failed:
		return BranchError
	case a.NeedsMoreInfo:
		return BranchNeedsMoreInfo
	case a.IsLowConfidence && a.CanEscalate:
		return BranchLowEscalatable
	case a.IsComplete:
		return BranchComplete
	case a.MissingOnlyVintage():
		return BranchMissingVintage
	case a.MissingOnlyProducer():
		return BranchMissingProducer
	case a.MissingWineName && (!a.MissingProducer || a.HasGrape):
		return BranchMissingWineName
	case a.IsLowConfidence && !a.MissingProducer && !a.MissingWineName:
		return BranchAcceptUncertain
	}
	return BranchGeneric
}

func chip(kind model.ActionKind, p model.ChipPriority) model.Chip {
	return model.Chip{ID: string(kind), LabelKey: "chip." + string(kind), Action: kind, Priority: p}
}

func withValue(c model.Chip, v string) model.Chip {
	c.Payload = map[string]string{"value": v}
	return c
}

// Generate returns the ordered chips for in. It never returns an empty list.
func Generate(in Input) []model.Chip {
	r := in.Result
	switch Classify(in) {
	case BranchError:
		if in.Retryable {
			return []model.Chip{
				chip(model.ActionRetry, model.ChipPrimary),
				chip(model.ActionStartOver, model.ChipSecondary),
			}
		}
		return []model.Chip{chip(model.ActionStartOver, model.ChipPrimary)}

	case BranchNeedsMoreInfo:
		return []model.Chip{
			chip(model.ActionProvideDetails, model.ChipPrimary),
			chip(model.ActionSearchAgain, model.ChipSecondary),
		}

	case BranchLowEscalatable:
		return []model.Chip{
			chip(model.ActionEscalate, model.ChipPrimary),
			chip(model.ActionUseAnyway, model.ChipSecondary),
		}

	case BranchComplete:
		return []model.Chip{
			chip(model.ActionConfirm, model.ChipPrimary),
			chip(model.ActionReject, model.ChipSecondary),
		}

	case BranchMissingVintage:
		return []model.Chip{
			chip(model.ActionSpecifyVintage, model.ChipPrimary),
			chip(model.ActionMarkNonVintage, model.ChipSecondary),
		}

	case BranchMissingProducer:
		return []model.Chip{
			chip(model.ActionSpecifyProducer, model.ChipPrimary),
			chip(model.ActionSearchAgain, model.ChipSecondary),
		}

	case BranchMissingWineName:
		var out []model.Chip
		if r.Has(model.FieldProducer) {
			out = append(out, withValue(chip(model.ActionUseProducerAsName, model.ChipPrimary), r.Producer))
		}
		if r.Has(model.FieldGrapes) {
			p := model.ChipPrimary
			if len(out) > 0 {
				p = model.ChipSecondary
			}
			out = append(out, withValue(chip(model.ActionUseGrapeAsName, p), r.Grapes[0]))
		}
		return append(out,
			chip(model.ActionEnterManually, model.ChipSecondary),
			chip(model.ActionSearchAgain, model.ChipSecondary),
		)

	case BranchAcceptUncertain:
		return []model.Chip{
			chip(model.ActionUseAnyway, model.ChipPrimary),
			chip(model.ActionProvideDetails, model.ChipSecondary),
		}
	}

	return []model.Chip{
		chip(model.ActionProvideDetails, model.ChipPrimary),
		chip(model.ActionSearchAgain, model.ChipSecondary),
		chip(model.ActionEnterManually, model.ChipSecondary),
	}
}

// Offer builds chips for kinds in order. The first one is primary.
func Offer(kinds ...model.ActionKind) []model.Chip {
	out := make([]model.Chip, 0, len(kinds))
	for i, k := range kinds {
		p := model.ChipSecondary
		if i == 0 {
			p = model.ChipPrimary
		}
		out = append(out, chip(k, p))
	}
	return out
}
