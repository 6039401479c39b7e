// Package quality classifies an identification result into the fixed
// vocabulary that drives follow-up actions.
package quality

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/scorer"
)

// Thresholds are the confidence cut-offs used by Analyze.
type Thresholds struct {
	// Low marks a result as low confidence.
	Low float64
	// Escalate is the confidence below which escalation is still useful.
	Escalate float64
	// VeryLow marks a result as barely better than nothing.
	VeryLow float64
}

// DefaultThresholds mirrors the confidence defaults in config.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.60, Escalate: 0.80, VeryLow: 0.30}
}

// Validate rejects out of range or inverted thresholds.
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Low, t.Escalate, t.VeryLow} {
		if v < 0 || v > 1 {
			return eris.Errorf("quality: threshold %v outside [0, 1]", v)
		}
	}
	if t.VeryLow > t.Low {
		return eris.New("quality: very low threshold exceeds low threshold")
	}
	return nil
}

// Input is everything Analyze looks at.
type Input struct {
	Result     model.IdentificationResult
	Confidence float64
	// EscalationExhausted is set once the ladder has no tier left to try.
	EscalationExhausted bool
}

// Analysis is the classification of one result.
type Analysis struct {
	IsComplete        bool    `json:"isComplete"`
	HasAllFields      bool    `json:"hasAllFields"`
	IsLowConfidence   bool    `json:"isLowConfidence"`
	CanEscalate       bool    `json:"canEscalate"`
	NeedsMoreInfo     bool    `json:"needsMoreInfo"`
	MissingProducer   bool    `json:"missingProducer"`
	MissingWineName   bool    `json:"missingWineName"`
	MissingVintage    bool    `json:"missingVintage"`
	MissingRegion     bool    `json:"missingRegion"`
	MissingGrapes     bool    `json:"missingGrapes"`
	MissingType       bool    `json:"missingType"`
	HasGrape          bool    `json:"hasGrape"`
	CompletenessScore float64 `json:"completenessScore"`
}

// MissingOnlyVintage reports whether vintage is the only core field missing.
func (a Analysis) MissingOnlyVintage() bool {
	return a.MissingVintage && !a.MissingProducer && !a.MissingWineName
}

// MissingOnlyProducer reports whether producer is the only core field missing.
func (a Analysis) MissingOnlyProducer() bool {
	return a.MissingProducer && !a.MissingWineName && !a.MissingVintage
}

// Analyze classifies in. It is deterministic and has no side effects.
func Analyze(in Input, t Thresholds, w scorer.Weights) Analysis {
	r := in.Result
	a := Analysis{
		MissingProducer:   !r.Has(model.FieldProducer),
		MissingWineName:   !r.Has(model.FieldWineName),
		MissingVintage:    !r.Has(model.FieldVintage),
		MissingRegion:     !r.Has(model.FieldRegion),
		MissingGrapes:     !r.Has(model.FieldGrapes),
		MissingType:       !r.Has(model.FieldType),
		HasGrape:          r.Has(model.FieldGrapes),
		CompletenessScore: scorer.Completeness(w, r),
		IsLowConfidence:   in.Confidence < t.Low,
	}

	a.HasAllFields = true
	for _, f := range model.WineFields {
		if f == model.FieldCountry {
			continue
		}
		if !r.Has(f) {
			a.HasAllFields = false
			break
		}
	}

	core := !a.MissingProducer && !a.MissingWineName && !a.MissingVintage
	a.IsComplete = core && !a.IsLowConfidence
	a.CanEscalate = in.Confidence < t.Escalate && !in.EscalationExhausted

	noIdentity := a.MissingProducer && a.MissingWineName
	substantive := !noIdentity || a.HasGrape || r.Has(model.FieldRegion)
	a.NeedsMoreInfo = (noIdentity && !a.HasGrape) || (in.Confidence < t.VeryLow && !substantive)
	return a
}
