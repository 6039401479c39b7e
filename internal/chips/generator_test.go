package chips

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/quality"
	"github.com/sells-group/wine-identify/internal/scorer"
)

func analyzed(r model.IdentificationResult, conf float64, exhausted bool) Input {
	a := quality.Analyze(quality.Input{Result: r, Confidence: conf, EscalationExhausted: exhausted},
		quality.DefaultThresholds(), scorer.DefaultWeights())
	return Input{Analysis: a, Result: r}
}

func actions(cs []model.Chip) []model.ActionKind {
	out := make([]model.ActionKind, len(cs))
	for i, c := range cs {
		out[i] = c.Action
	}
	return out
}

func TestGenerate(t *testing.T) {
	core := model.IdentificationResult{Producer: "Ridge", WineName: "Monte Bello", Vintage: "2018"}
	noVintage := model.IdentificationResult{Producer: "Ridge", WineName: "Monte Bello"}
	noProducer := model.IdentificationResult{WineName: "Monte Bello", Vintage: "2018"}
	grapeOnly := model.IdentificationResult{Grapes: []string{"Zinfandel"}, Vintage: "2019"}
	producerOnly := model.IdentificationResult{Producer: "Ridge", Grapes: []string{"Zinfandel"}}

	tests := []struct {
		name   string
		in     Input
		branch Branch
		want   []model.ActionKind
	}{
		{
			name:   "complete",
			in:     analyzed(core, 0.9, false),
			branch: BranchComplete,
			want:   []model.ActionKind{model.ActionConfirm, model.ActionReject},
		},
		{
			name:   "unnamed obscure estate",
			in:     analyzed(model.IdentificationResult{Vintage: "2019"}, 0.3, false),
			branch: BranchNeedsMoreInfo,
			want:   []model.ActionKind{model.ActionProvideDetails, model.ActionSearchAgain},
		},
		{
			name:   "low and escalatable",
			in:     analyzed(core, 0.5, false),
			branch: BranchLowEscalatable,
			want:   []model.ActionKind{model.ActionEscalate, model.ActionUseAnyway},
		},
		{
			name:   "missing only vintage",
			in:     analyzed(noVintage, 0.9, false),
			branch: BranchMissingVintage,
			want:   []model.ActionKind{model.ActionSpecifyVintage, model.ActionMarkNonVintage},
		},
		{
			name:   "missing only producer",
			in:     analyzed(noProducer, 0.9, false),
			branch: BranchMissingProducer,
			want:   []model.ActionKind{model.ActionSpecifyProducer, model.ActionSearchAgain},
		},
		{
			name:   "missing wine name with producer and grape",
			in:     analyzed(producerOnly, 0.9, false),
			branch: BranchMissingWineName,
			want: []model.ActionKind{
				model.ActionUseProducerAsName, model.ActionUseGrapeAsName,
				model.ActionEnterManually, model.ActionSearchAgain,
			},
		},
		{
			name:   "missing wine name with grape only",
			in:     analyzed(grapeOnly, 0.7, false),
			branch: BranchMissingWineName,
			want:   []model.ActionKind{model.ActionUseGrapeAsName, model.ActionEnterManually, model.ActionSearchAgain},
		},
		{
			name:   "low after exhausting the ladder",
			in:     analyzed(core, 0.5, true),
			branch: BranchAcceptUncertain,
			want:   []model.ActionKind{model.ActionUseAnyway, model.ActionProvideDetails},
		},
		{
			name:   "retryable error",
			in:     Input{Failed: true, Retryable: true},
			branch: BranchError,
			want:   []model.ActionKind{model.ActionRetry, model.ActionStartOver},
		},
		{
			name:   "fatal error",
			in:     Input{Failed: true},
			branch: BranchError,
			want:   []model.ActionKind{model.ActionStartOver},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.branch, Classify(tt.in))
			assert.Equal(t, tt.want, actions(Generate(tt.in)))
		})
	}
}

func TestGenerate_NoConfirmWhenNothingResolved(t *testing.T) {
	got := actions(Generate(analyzed(model.IdentificationResult{Vintage: "2019"}, 0.2, false)))
	assert.NotContains(t, got, model.ActionConfirm)
}

func TestGenerate_PayloadCarriesSuggestedName(t *testing.T) {
	got := Generate(analyzed(model.IdentificationResult{Producer: "Ridge", Grapes: []string{"Zinfandel"}}, 0.9, false))
	assert.Equal(t, map[string]string{"value": "Ridge"}, got[0].Payload)
	assert.Equal(t, model.ChipPrimary, got[0].Priority)
	assert.Equal(t, map[string]string{"value": "Zinfandel"}, got[1].Payload)
	assert.Equal(t, model.ChipSecondary, got[1].Priority)
}

func TestGenerate_GenericFallback(t *testing.T) {
	// Wine name without producer or vintage, low and out of tiers.
	in := analyzed(model.IdentificationResult{Region: "Rioja", WineName: "Reserva"}, 0.5, true)
	assert.Equal(t, BranchGeneric, Classify(in))
	assert.NotEmpty(t, Generate(in))
}

func TestGenerate_EveryAnalysisYieldsChips(t *testing.T) {
	results := []model.IdentificationResult{
		{},
		{Producer: "Ridge"},
		{WineName: "Monte Bello"},
		{Vintage: "NV"},
		{Grapes: []string{"Merlot"}},
		{Region: "Napa"},
		{Producer: "Ridge", WineName: "Monte Bello"},
		{Producer: "Ridge", Vintage: "2018"},
		{Producer: "Ridge", WineName: "Monte Bello", Vintage: "2018"},
	}
	for _, r := range results {
		for _, conf := range []float64{0, 0.2, 0.5, 0.7, 0.9} {
			for _, exhausted := range []bool{false, true} {
				in := analyzed(r, conf, exhausted)
				assert.NotEmpty(t, Generate(in), "result %+v conf %v", r, conf)
			}
		}
	}
}

func TestOffer(t *testing.T) {
	cs := Offer(model.ActionAddToCellar, model.ActionEnrich)
	assert.Equal(t, []model.ActionKind{model.ActionAddToCellar, model.ActionEnrich}, actions(cs))
	assert.Equal(t, model.ChipPrimary, cs[0].Priority)
	assert.Equal(t, model.ChipSecondary, cs[1].Priority)
	assert.Empty(t, Offer())
}
