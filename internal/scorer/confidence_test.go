package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/model"
)

func TestDefaultWeightsValid(t *testing.T) {
	w := DefaultWeights()
	assert.NoError(t, w.Validate())
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}

func TestWeightsValidate(t *testing.T) {
	w := DefaultWeights()
	w.Type = 0.2
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")

	w = DefaultWeights()
	w.Grape = -0.1
	w.Type = 0.3
	err = w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grape weight must be >= 0")

	_, err = New(w)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		raw   float64
		scale Scale
		want  float64
	}{
		{"unit passthrough", 0.82, ScaleUnit, 0.82},
		{"unit above one read as percent", 85, ScaleUnit, 0.85},
		{"unit just above one read as percent", 1.4, ScaleUnit, 0.014},
		{"percent", 82, ScalePercent, 0.82},
		{"percent at or below one read as fraction", 0.9, ScalePercent, 0.9},
		{"percent hundred", 100, ScalePercent, 1},
		{"unknown above one treated as percent", 75, ScaleUnknown, 0.75},
		{"unknown at or below one kept", 1, ScaleUnknown, 1},
		{"negative clamps", -3, ScaleUnit, 0},
		{"nan", math.NaN(), ScaleUnit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Normalize(tt.raw, tt.scale), 1e-9)
		})
	}
}

func TestOffScale(t *testing.T) {
	assert.True(t, OffScale(85, ScaleUnit))
	assert.False(t, OffScale(0.85, ScaleUnit))
	assert.True(t, OffScale(0.9, ScalePercent))
	assert.False(t, OffScale(90, ScalePercent))
	assert.False(t, OffScale(85, ScaleUnknown))
}

func TestScore_ReportedPercentOnUnitScale(t *testing.T) {
	s, err := New(DefaultWeights())
	require.NoError(t, err)

	reported := 85.0
	bd := s.Score(model.IdentificationResult{Producer: "Obscure Estate"}, &reported, ScaleUnit)
	assert.InDelta(t, 0.85, bd.Confidence, 1e-9)
	assert.Equal(t, SourceModel, bd.Source)
	assert.True(t, bd.OffScale)
}

func TestParseScale(t *testing.T) {
	s, err := ParseScale("percent")
	require.NoError(t, err)
	assert.Equal(t, ScalePercent, s)

	s, err = ParseScale("auto")
	require.NoError(t, err)
	assert.Equal(t, ScaleUnknown, s)

	_, err = ParseScale("stars")
	assert.Error(t, err)
}

func TestCompleteness(t *testing.T) {
	w := DefaultWeights()

	full := model.IdentificationResult{
		Producer: "Penfolds", WineName: "Grange", Vintage: "2016",
		Region: "South Australia", Grapes: []string{"Shiraz"}, Type: "red",
	}
	assert.InDelta(t, 1.0, Completeness(w, full), 1e-9)

	partial := model.IdentificationResult{Producer: "Penfolds", Vintage: "2016"}
	assert.InDelta(t, 0.45, Completeness(w, partial), 1e-9)

	// Country is informational and carries no weight.
	assert.InDelta(t, 0.0, Completeness(w, model.IdentificationResult{Country: "Australia"}), 1e-9)
}

func TestScore_ReportedConfidenceIsAuthoritative(t *testing.T) {
	s, err := New(DefaultWeights())
	require.NoError(t, err)

	r := model.IdentificationResult{Producer: "Penfolds"}
	reported := 92.0
	bd := s.Score(r, &reported, ScalePercent)

	assert.InDelta(t, 0.92, bd.Confidence, 1e-9)
	assert.Equal(t, SourceModel, bd.Source)
	assert.InDelta(t, 0.30, bd.Completeness, 1e-9)
	assert.Equal(t, map[model.Field]float64{model.FieldProducer: 0.30}, bd.Fields)
}

func TestScore_FallsBackToCompleteness(t *testing.T) {
	s, err := New(DefaultWeights())
	require.NoError(t, err)

	r := model.IdentificationResult{Producer: "Penfolds", WineName: "Bin 389"}
	bd := s.Score(r, nil, ScaleUnit)

	assert.InDelta(t, 0.50, bd.Confidence, 1e-9)
	assert.Equal(t, SourceCompleteness, bd.Source)
}
