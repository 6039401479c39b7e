package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/pkg/gemini"
)

// Gemini adapts the Gemini generateContent API.
type Gemini struct {
	client gemini.Client
	opts   Options
}

// NewGemini creates a Gemini provider.
func NewGemini(client gemini.Client, opts Options) *Gemini {
	return &Gemini{client: client, opts: opts}
}

// Name implements Provider.
func (g *Gemini) Name() string { return config.ProviderGemini }

// ConfidenceScale implements ScaleReporter.
func (g *Gemini) ConfidenceScale() scorer.Scale { return g.opts.Scale }

// Generate implements Provider.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	var parts []gemini.Part
	if len(req.Image) > 0 {
		parts = append(parts, gemini.ImagePart(req.ImageMIME, req.Image))
	}
	if req.Prompt != "" {
		parts = append(parts, gemini.TextPart(req.Prompt))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	gen := &gemini.GenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if req.JSON {
		gen.ResponseMimeType = "application/json"
	}
	switch {
	case req.Thinking != "" && req.Thinking != routing.ThinkingOff:
		budget := ThinkingBudget(req.Thinking)
		gen.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: budget}
		gen.MaxOutputTokens += budget
	case strings.Contains(req.Model, "flash"):
		// Flash models think by default; pro models cannot disable it.
		gen.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: 0}
	}

	greq := gemini.GenerateRequest{
		Model:            req.Model,
		Contents:         []gemini.Content{{Role: "user", Parts: parts}},
		GenerationConfig: gen,
	}
	if req.System != "" {
		greq.SystemInstruction = &gemini.Content{Parts: []gemini.Part{gemini.TextPart(req.System)}}
	}

	resp, err := g.client.GenerateContent(ctx, greq)
	if err != nil {
		var apiErr *gemini.APIError
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, classify(g.Name(), status, err)
	}

	name := resp.ModelVersion
	if name == "" {
		name = req.Model
	}
	return &Completion{
		Text:  resp.Text(),
		Model: name,
		Usage: model.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount),
			Calls:        1,
		},
	}, nil
}
