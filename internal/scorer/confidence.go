package scorer

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wine-identify/internal/model"
)

// Scale is the numeric range a provider reports confidence in.
type Scale string

// Confidence scales. ScaleUnknown falls back to the magnitude heuristic.
const (
	ScaleUnknown Scale = ""
	ScaleUnit    Scale = "unit"
	ScalePercent Scale = "percent"
)

// ParseScale resolves a configured scale name; "auto" and "" are unknown.
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ScaleUnknown, nil
	case "unit", "0-1", "fraction":
		return ScaleUnit, nil
	case "percent", "percentage", "0-100":
		return ScalePercent, nil
	}
	return ScaleUnknown, eris.Errorf("scorer: unknown confidence scale %q", s)
}

// Normalize maps a raw confidence onto [0, 1]. Values above 1 are percent
// whatever the declared scale, and values at or below 1 are fractions, so a
// model that drifts off its declared scale is read correctly instead of being
// clamped to certainty.
func Normalize(raw float64, scale Scale) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	if raw > 1 {
		raw /= 100
	}
	return clamp01(raw)
}

// OffScale reports whether raw contradicts the declared scale: a unit value
// above 1, or a percent value at or below 1.
func OffScale(raw float64, scale Scale) bool {
	switch scale {
	case ScaleUnit:
		return raw > 1
	case ScalePercent:
		return raw <= 1
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Completeness returns the weighted share of present fields.
func Completeness(w Weights, r model.IdentificationResult) float64 {
	var score float64
	for f, weight := range fieldWeights(w) {
		if r.Has(f) {
			score += weight
		}
	}
	return clamp01(score)
}

func fieldWeights(w Weights) map[model.Field]float64 {
	return map[model.Field]float64{
		model.FieldProducer: w.Producer,
		model.FieldWineName: w.WineName,
		model.FieldVintage:  w.Vintage,
		model.FieldRegion:   w.Region,
		model.FieldGrapes:   w.Grape,
		model.FieldType:     w.Type,
	}
}

// Confidence sources.
const (
	SourceModel        = "model"
	SourceCompleteness = "completeness"
)

// Breakdown explains how a confidence value was produced.
type Breakdown struct {
	Confidence   float64                 `json:"confidence"`
	Completeness float64                 `json:"completeness"`
	Source       string                  `json:"source"`
	OffScale     bool                    `json:"offScale,omitempty"`
	Fields       map[model.Field]float64 `json:"fields"`
}

// Scorer scores identification results with fixed weights.
type Scorer struct {
	weights Weights
}

// New creates a Scorer, rejecting invalid weights.
func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights { return s.weights }

// Score computes the confidence of r. A reported confidence is
// authoritative; completeness is used only when the provider reports none.
func (s *Scorer) Score(r model.IdentificationResult, reported *float64, scale Scale) Breakdown {
	bd := Breakdown{
		Completeness: Completeness(s.weights, r),
		Fields:       make(map[model.Field]float64, 6),
	}
	for f, weight := range fieldWeights(s.weights) {
		if r.Has(f) {
			bd.Fields[f] = weight
		}
	}

	if reported != nil {
		bd.Confidence = Normalize(*reported, scale)
		bd.OffScale = OffScale(*reported, scale)
		bd.Source = SourceModel
		return bd
	}
	bd.Confidence = bd.Completeness
	bd.Source = SourceCompleteness
	return bd
}
