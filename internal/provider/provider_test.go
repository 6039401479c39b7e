package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
	"github.com/sells-group/wine-identify/pkg/anthropic"
	anthropicmocks "github.com/sells-group/wine-identify/pkg/anthropic/mocks"
	"github.com/sells-group/wine-identify/pkg/gemini"
	geminimocks "github.com/sells-group/wine-identify/pkg/gemini/mocks"
	"github.com/sells-group/wine-identify/pkg/openai"
	openaimocks "github.com/sells-group/wine-identify/pkg/openai/mocks"
)

func ptr[T any](v T) *T { return &v }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewGemini(geminimocks.NewMockClient(t), Options{}))
	reg.Register(NewAnthropic(anthropicmocks.NewMockClient(t), Options{}))

	assert.Equal(t, []string{"anthropic", "gemini"}, reg.List())

	p, err := reg.Get("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	_, err = reg.Get("mistral")
	require.Error(t, err)
	assert.Equal(t, resilience.KindConfig, resilience.KindOf(err))
	assert.False(t, resilience.IsRetryable(err))
}

func TestThinkingBudget(t *testing.T) {
	assert.Equal(t, 0, ThinkingBudget(routing.ThinkingOff))
	assert.Equal(t, 0, ThinkingBudget(""))
	assert.Equal(t, 1024, ThinkingBudget(routing.ThinkingLow))
	assert.Equal(t, 4096, ThinkingBudget(routing.ThinkingHigh))
}

func TestScaleOf(t *testing.T) {
	p := NewOpenAI(openaimocks.NewMockClient(t), Options{Scale: scorer.ScalePercent})
	assert.Equal(t, scorer.ScalePercent, ScaleOf(p))
}

func TestAnthropic_Generate(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == 2000 &&
			req.ThinkingBudget == 1024 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil && req.System[0].CacheControl.TTL == "5m" &&
			len(req.Messages) == 1 && len(req.Messages[0].Images) == 1 &&
			req.Messages[0].Images[0].MediaType == "image/png"
	})).Return(&anthropic.MessageResponse{
		Model:   "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{{Type: "thinking", Text: "hmm"}, {Type: "text", Text: `{"producer":"Opus One"}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 40, CacheReadInputTokens: 20},
	}, nil)

	p := NewAnthropic(client, Options{Timeout: time.Second})
	got, err := p.Generate(context.Background(), Request{
		Model:     "claude-sonnet-4-5-20250929",
		System:    "identify wines",
		Prompt:    "label",
		Image:     []byte("png"),
		ImageMIME: "image/png",
		MaxTokens: 2000,
		Thinking:  routing.ThinkingLow,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"producer":"Opus One"}`, got.Text)
	assert.EqualValues(t, 120, got.Usage.InputTokens)
	assert.EqualValues(t, 40, got.Usage.OutputTokens)
	assert.Equal(t, 1, got.Usage.Calls)
}

func TestAnthropic_ErrorIsClassified(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	p := NewAnthropic(client, Options{})
	_, err := p.Generate(context.Background(), Request{Model: "m", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindTimeout, resilience.KindOf(err))
	assert.Equal(t, "anthropic", resilience.ProviderOf(err))
}

func TestOpenAI_Generate(t *testing.T) {
	client := openaimocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "gpt-4.1-mini" &&
			len(req.Messages) == 2 && req.Messages[0].Role == "system" &&
			req.Temperature != nil && *req.Temperature == 0.2 &&
			req.ReasoningEffort == "" &&
			req.ResponseFormat == openai.JSONObject &&
			req.MaxCompletionTokens != nil && *req.MaxCompletionTokens == defaultMaxTokens
	})).Return(&openai.ChatCompletionResponse{
		Choices: []openai.Choice{{Message: openai.ResponseMessage{Content: "{}"}}},
		Usage:   openai.Usage{PromptTokens: 50, CompletionTokens: 10},
	}, nil)

	p := NewOpenAI(client, Options{})
	got, err := p.Generate(context.Background(), Request{
		Model:       "gpt-4.1-mini",
		System:      "sys",
		Prompt:      "Opus One 2018",
		Temperature: ptr(0.2),
		Thinking:    routing.ThinkingHigh,
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "{}", got.Text)
	assert.Equal(t, "gpt-4.1-mini", got.Model)
	assert.EqualValues(t, 50, got.Usage.InputTokens)
}

func TestOpenAI_ReasoningModelUsesEffort(t *testing.T) {
	client := openaimocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.ReasoningEffort == "high" && req.Temperature == nil
	})).Return(&openai.ChatCompletionResponse{}, nil)

	p := NewOpenAI(client, Options{})
	_, err := p.Generate(context.Background(), Request{Model: "o4-mini", Prompt: "x", Temperature: ptr(0.2), Thinking: routing.ThinkingHigh})
	require.NoError(t, err)
}

func TestOpenAI_StatusIsClassified(t *testing.T) {
	client := openaimocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(nil, &openai.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"})

	p := NewOpenAI(client, Options{})
	_, err := p.Generate(context.Background(), Request{Model: "gpt-4.1", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindRateLimit, resilience.KindOf(err))
	assert.True(t, resilience.IsRetryable(err))

	var re *resilience.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusTooManyRequests, re.StatusCode)
}

func TestGemini_Generate(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("GenerateContent", mock.Anything, mock.MatchedBy(func(req gemini.GenerateRequest) bool {
		parts := req.Contents[0].Parts
		return req.Model == "gemini-2.5-flash" &&
			len(parts) == 2 && parts[0].InlineData != nil && parts[1].Text == "label" &&
			req.SystemInstruction != nil &&
			req.GenerationConfig.ResponseMimeType == "application/json" &&
			req.GenerationConfig.ThinkingConfig != nil &&
			req.GenerationConfig.ThinkingConfig.ThinkingBudget == 0
	})).Return(&gemini.GenerateResponse{
		Candidates:    []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{{Text: "{}"}}}}},
		UsageMetadata: gemini.UsageMetadata{PromptTokenCount: 300, CandidatesTokenCount: 20, ThoughtsTokenCount: 5},
	}, nil)

	p := NewGemini(client, Options{})
	got, err := p.Generate(context.Background(), Request{
		Model:     "gemini-2.5-flash",
		System:    "sys",
		Prompt:    "label",
		Image:     []byte("jpg"),
		ImageMIME: "image/jpeg",
		JSON:      true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 25, got.Usage.OutputTokens)
	assert.Equal(t, "gemini-2.5-flash", got.Model)
}

func TestGemini_ThinkingAddsBudget(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("GenerateContent", mock.Anything, mock.MatchedBy(func(req gemini.GenerateRequest) bool {
		gc := req.GenerationConfig
		return gc.ThinkingConfig.ThinkingBudget == 4096 && gc.MaxOutputTokens == 2000+4096
	})).Return(&gemini.GenerateResponse{}, nil)

	p := NewGemini(client, Options{})
	_, err := p.Generate(context.Background(), Request{Model: "gemini-2.5-pro", Prompt: "x", MaxTokens: 2000, Thinking: routing.ThinkingHigh})
	require.NoError(t, err)
}

func TestGemini_StatusIsClassified(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("GenerateContent", mock.Anything, mock.Anything).
		Return(nil, &gemini.APIError{StatusCode: http.StatusServiceUnavailable})

	p := NewGemini(client, Options{})
	_, err := p.Generate(context.Background(), Request{Model: "gemini-2.5-pro", Prompt: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsRetryable(err))
	assert.Equal(t, "gemini", resilience.ProviderOf(err))
}
