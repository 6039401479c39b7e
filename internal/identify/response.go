package identify

import (
	"sort"

	"github.com/sells-group/wine-identify/internal/chips"
	"github.com/sells-group/wine-identify/internal/enrich"
	"github.com/sells-group/wine-identify/internal/escalation"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/quality"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
)

// Recommendation is what the client should do with a result.
type Recommendation string

// Recommendations, most to least confident.
const (
	RecommendAutoPopulate Recommendation = "auto_populate"
	RecommendSuggest      Recommendation = "suggest"
	RecommendUserChoice   Recommendation = "user_choice"
	RecommendDisambiguate Recommendation = "disambiguate"
	RecommendError        Recommendation = "error"
)

// Intents.
const (
	IntentIdentify = "identify"
	IntentRefine   = "refine"
	IntentEscalate = "escalate"
)

// Candidate is an alternative result from another tier.
type Candidate struct {
	Result     model.IdentificationResult `json:"result"`
	Confidence float64                    `json:"confidence"`
	Tier       routing.TierName           `json:"tier"`
	Provider   string                     `json:"provider"`
	Model      string                     `json:"model"`
}

// Escalation summarizes the walk up the tier ladder.
type Escalation struct {
	Escalated      bool                     `json:"escalated"`
	Improved       bool                     `json:"improved"`
	BelowThreshold bool                     `json:"belowThreshold"`
	Exhausted      bool                     `json:"exhausted"`
	StoppedAt      routing.TierName         `json:"stoppedAt,omitempty"`
	Attempts       []escalation.TierAttempt `json:"attempts,omitempty"`
}

// ErrorInfo describes a failed identification.
type ErrorInfo struct {
	Message   string          `json:"message"`
	Kind      resilience.Kind `json:"kind"`
	Retryable bool            `json:"retryable"`
}

// Response is the payload of the synchronous endpoint and of the stream's
// result event.
type Response struct {
	RequestID         string                      `json:"requestId"`
	Success           bool                        `json:"success"`
	InputType         model.InputKind             `json:"inputType"`
	Intent            string                      `json:"intent"`
	Parsed            *model.IdentificationResult `json:"parsed,omitempty"`
	Confidence        float64                     `json:"confidence"`
	Action            Recommendation              `json:"action"`
	Candidates        []Candidate                 `json:"candidates"`
	Usage             model.Usage                 `json:"usage"`
	Escalation        Escalation                  `json:"escalation"`
	InferencesApplied []string                    `json:"inferencesApplied"`
	Quality           *quality.Analysis           `json:"quality,omitempty"`
	Chips             []model.Chip                `json:"chips"`
	Enrichment        *enrich.Enrichment          `json:"enrichment,omitempty"`
	Tier              routing.TierName            `json:"tier,omitempty"`
	TierIndex         int                         `json:"tierIndex"`
	Provider          string                      `json:"provider,omitempty"`
	Model             string                      `json:"model,omitempty"`
	CanonicalProducer string                      `json:"canonicalProducer,omitempty"`
	Cached            bool                        `json:"cached"`
	Error             *ErrorInfo                  `json:"error,omitempty"`
}

// ErrorResponse renders err as a failed response with recovery chips.
func ErrorResponse(req model.IdentificationRequest, err error) *Response {
	retryable := resilience.IsRetryable(err)
	return &Response{
		RequestID:         req.ID(),
		InputType:         req.Kind(),
		Intent:            intentOf(req, Options{}),
		Action:            RecommendError,
		Candidates:        []Candidate{},
		InferencesApplied: []string{},
		Chips:             chips.Generate(chips.Input{Failed: true, Retryable: retryable}),
		Error: &ErrorInfo{
			Message:   err.Error(),
			Kind:      resilience.KindOf(err),
			Retryable: retryable,
		},
	}
}

func intentOf(req model.IdentificationRequest, opts Options) string {
	switch {
	case opts.Seed != nil:
		return IntentEscalate
	case req.Prior() != nil || len(req.Corrections()) > 0:
		return IntentRefine
	}
	return IntentIdentify
}

// candidatesFrom lists every outcome except best, most confident first.
func candidatesFrom(outcomes []*escalation.Outcome, best *escalation.Outcome) []Candidate {
	out := make([]Candidate, 0, len(outcomes))
	for _, o := range outcomes {
		if o == best {
			continue
		}
		out = append(out, Candidate{
			Result:     o.Result.Clone(),
			Confidence: o.Result.Confidence,
			Tier:       o.Tier,
			Provider:   o.Provider,
			Model:      o.Model,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
