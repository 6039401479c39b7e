package provider

import (
	"context"

	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/pkg/anthropic"
)

// Anthropic adapts the Anthropic messages API.
type Anthropic struct {
	client anthropic.Client
	opts   Options
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(client anthropic.Client, opts Options) *Anthropic {
	return &Anthropic{client: client, opts: opts}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return config.ProviderAnthropic }

// ConfidenceScale implements ScaleReporter.
func (a *Anthropic) ConfidenceScale() scorer.Scale { return a.opts.Scale }

// Generate implements Provider.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, a.opts.Timeout)
	defer cancel()

	msg := anthropic.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		msg.Images = []anthropic.Image{{MediaType: req.ImageMIME, Data: req.Image}}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:          req.Model,
		MaxTokens:      maxTokens,
		System:         anthropic.BuildCachedSystemBlocks(req.System, "5m"),
		Messages:       []anthropic.Message{msg},
		Temperature:    req.Temperature,
		ThinkingBudget: int64(ThinkingBudget(req.Thinking)),
	})
	if err != nil {
		return nil, classify(a.Name(), anthropic.StatusCode(err), err)
	}

	name := resp.Model
	if name == "" {
		name = req.Model
	}
	return &Completion{
		Text:  resp.Text(),
		Model: name,
		Usage: model.Usage{
			InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Calls:        1,
		},
	}, nil
}
