package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/pkg/openai"
)

// OpenAI adapts the OpenAI chat completions API.
type OpenAI struct {
	client openai.Client
	opts   Options
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(client openai.Client, opts Options) *OpenAI {
	return &OpenAI{client: client, opts: opts}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return config.ProviderOpenAI }

// ConfidenceScale implements ScaleReporter.
func (o *OpenAI) ConfidenceScale() scorer.Scale { return o.opts.Scale }

// reasoningModel reports whether the model accepts reasoning_effort.
func reasoningModel(name string) bool {
	return strings.HasPrefix(name, "o") || strings.HasPrefix(name, "gpt-5")
}

// Generate implements Provider.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	var msgs []openai.Message
	if req.System != "" {
		msgs = append(msgs, openai.TextMessage("system", req.System))
	}
	if len(req.Image) > 0 {
		msgs = append(msgs, openai.ImageMessage(req.Prompt, req.ImageMIME, req.Image))
	} else {
		msgs = append(msgs, openai.TextMessage("user", req.Prompt))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	creq := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: &maxTokens,
	}
	if req.Thinking != "" && req.Thinking != routing.ThinkingOff && reasoningModel(req.Model) {
		creq.ReasoningEffort = req.Thinking
	} else {
		creq.Temperature = req.Temperature
	}
	if req.JSON {
		creq.ResponseFormat = openai.JSONObject
	}

	resp, err := o.client.ChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, classify(o.Name(), status, err)
	}

	name := resp.Model
	if name == "" {
		name = req.Model
	}
	return &Completion{
		Text:  resp.Text(),
		Model: name,
		Usage: model.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			Calls:        1,
		},
	}, nil
}
