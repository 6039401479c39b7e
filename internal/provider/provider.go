// Package provider adapts LLM clients to a single Generate operation used by
// every routed task.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/scorer"
)

// Request is one model call.
type Request struct {
	Task        routing.Task
	Model       string
	System      string
	Prompt      string
	Image       []byte
	ImageMIME   string
	Temperature *float64
	MaxTokens   int
	Thinking    string
	// JSON asks for a single JSON object as the whole response.
	JSON bool
}

// Completion is a provider's answer.
type Completion struct {
	Text  string
	Model string
	Usage model.Usage
}

// Provider generates completions.
type Provider interface {
	// Name returns the provider identifier used in routes.
	Name() string
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// ScaleReporter is implemented by providers whose confidence scale is pinned.
type ScaleReporter interface {
	ConfidenceScale() scorer.Scale
}

// ScaleOf returns p's pinned confidence scale, or ScaleUnknown.
func ScaleOf(p Provider) scorer.Scale {
	if sr, ok := p.(ScaleReporter); ok {
		return sr.ConfidenceScale()
	}
	return scorer.ScaleUnknown
}

// Options are shared by the adapters.
type Options struct {
	Timeout time.Duration
	Scale   scorer.Scale
}

const defaultMaxTokens = 1024

// ThinkingBudget maps a thinking mode onto a token budget.
func ThinkingBudget(mode string) int {
	switch mode {
	case routing.ThinkingLow:
		return 1024
	case routing.ThinkingHigh:
		return 4096
	}
	return 0
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify attributes err to a provider, using the HTTP status when known.
func classify(name string, status int, err error) error {
	if status > 0 {
		return resilience.HTTPError(name, status, err)
	}
	return &resilience.Error{Kind: resilience.KindOf(err), Provider: name, Err: err}
}

// Registry manages available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name. A missing provider is a config error.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, &resilience.Error{
			Kind:     resilience.KindConfig,
			Provider: name,
			Err:      resilience.Errorf(resilience.KindConfig, "provider %q is not configured", name),
		}
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
