package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
)

// Dispatcher runs requests against a step's candidates, primary first,
// through the breaker and retry executor.
type Dispatcher struct {
	registry *Registry
	executor *resilience.Executor
	prices   *cost.Calculator
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry *Registry, executor *resilience.Executor, prices *cost.Calculator) *Dispatcher {
	return &Dispatcher{registry: registry, executor: executor, prices: prices}
}

// Registry returns the provider registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Executor returns the resilience executor.
func (d *Dispatcher) Executor() *resilience.Executor { return d.executor }

// Served describes which candidate answered and what the step cost.
type Served struct {
	Candidate routing.Candidate
	Provider  Provider
	// Usage covers every attempt, including failed candidates.
	Usage model.Usage
}

// Dispatch sends req to each candidate of step in turn until one succeeds.
// decode runs inside the retried call, so an unparseable answer is retried
// like a server error. Usage is returned even when every candidate fails.
func Dispatch[T any](
	ctx context.Context,
	d *Dispatcher,
	task routing.Task,
	step routing.Step,
	req Request,
	decode func(*Completion) (T, error),
) (T, Served, error) {
	var (
		zero    T
		served  Served
		lastErr error
	)
	req.Task = task
	req.Thinking = step.Tier.Thinking
	req.MaxTokens = step.Tier.MaxTokens
	if req.Temperature == nil {
		temp := step.Tier.Temperature
		req.Temperature = &temp
	}

	for i, cand := range step.Candidates {
		if err := ctx.Err(); err != nil {
			return zero, served, resilience.NewError(resilience.KindOf(err), err)
		}

		p, err := d.registry.Get(cand.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		var usage model.Usage
		creq := req
		creq.Model = cand.Model
		val, err := resilience.Call(ctx, d.executor, resilience.BreakerKey{
			Provider: cand.Provider,
			Model:    cand.Model,
			Task:     string(task),
		}, func(ctx context.Context) (T, error) {
			c, err := p.Generate(ctx, creq)
			if err != nil {
				return zero, err
			}
			usage = usage.Add(c.Usage)
			return decode(c)
		})

		if d.prices != nil {
			usage = d.prices.Price(cand.Model, usage)
		}
		served.Usage = served.Usage.Add(usage)

		if err == nil {
			served.Candidate = cand
			served.Provider = p
			return val, served, nil
		}

		lastErr = err
		if resilience.KindOf(err) == resilience.KindCanceled {
			return zero, served, err
		}
		if i < len(step.Candidates)-1 {
			zap.L().Warn("provider: candidate failed, trying fallback",
				zap.String("task", string(task)),
				zap.String("tier", string(step.Tier.Name)),
				zap.String("candidate", cand.String()),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
		}
	}

	if lastErr == nil {
		lastErr = resilience.Errorf(resilience.KindConfig, "provider: no candidates for %s", task)
	}
	return zero, served, lastErr
}
