// Package escalation walks the tier ladder, keeping the most confident
// result and deciding when to stop.
package escalation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
)

// Outcome is a scored result produced by one tier.
type Outcome struct {
	Result     model.IdentificationResult
	Tier       routing.TierName
	TierIndex  int
	Provider   string
	Model      string
	Usage      model.Usage
	Inferences []string
}

// Attempt runs a single step and returns its scored outcome.
type Attempt func(ctx context.Context, step routing.Step) (*Outcome, error)

// TierAttempt records what happened at one tier.
type TierAttempt struct {
	Tier       routing.TierName `json:"tier"`
	Provider   string           `json:"provider,omitempty"`
	Model      string           `json:"model,omitempty"`
	Confidence float64          `json:"confidence"`
	Improved   bool             `json:"improved"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  resilience.Kind  `json:"errorKind,omitempty"`
}

// Decision is the result of walking the ladder.
type Decision struct {
	Best           *Outcome
	Attempts       []TierAttempt
	Escalated      bool
	Improved       bool
	BelowThreshold bool
	Exhausted      bool
	StoppedAt      routing.TierName
	Usage          model.Usage
}

// EscalatedWithoutImprovement reports whether higher tiers ran but none beat
// the first result.
func (d *Decision) EscalatedWithoutImprovement() bool {
	return d.Escalated && !d.Improved
}

// Hooks observe progress. Both are optional and run on the caller's goroutine.
type Hooks struct {
	OnEscalate func(from, to routing.TierSpec, best *Outcome)
	OnImproved func(best *Outcome)
}

// Options tune a single run.
type Options struct {
	// StartAt skips steps before this index.
	StartAt int
	// Seed is a prior best result carried into the run.
	Seed *Outcome
	Hooks
}

// Controller decides stop-or-escalate after each tier.
type Controller struct {
	autoPopulate float64
}

// New creates a Controller. Results at or above autoPopulate with producer,
// wine name and vintage present stop escalation regardless of tier.
func New(autoPopulate float64) *Controller {
	return &Controller{autoPopulate: autoPopulate}
}

// Satisfied reports whether best is good enough to stop at tier.
func (c *Controller) Satisfied(best *Outcome, tier routing.TierSpec) bool {
	if best == nil {
		return false
	}
	conf := best.Result.Confidence
	if conf >= tier.Threshold {
		return true
	}
	r := best.Result
	return conf >= c.autoPopulate && r.HasCoreFields() && r.Has(model.FieldVintage)
}

// Run walks steps sequentially from opts.StartAt. A failing tier falls back
// to the best result so far; when no tier produced a result the last error
// is returned.
func (c *Controller) Run(ctx context.Context, steps []routing.Step, attempt Attempt, opts Options) (*Decision, error) {
	log := zap.L().With(zap.String("component", "escalation"))

	start := max(opts.StartAt, 0)
	if start >= len(steps) {
		return nil, resilience.Errorf(resilience.KindValidation, "escalation: no tiers left after index %d", start-1)
	}

	d := &Decision{Best: opts.Seed}
	var lastErr error
	var prev *routing.TierSpec
	if opts.Seed != nil && opts.Seed.TierIndex >= 0 && opts.Seed.TierIndex < len(steps) {
		prev = &steps[opts.Seed.TierIndex].Tier
		d.StoppedAt = prev.Name
	}

	for i := start; i < len(steps); i++ {
		step := steps[i]

		if err := ctx.Err(); err != nil {
			if d.Best != nil {
				break
			}
			return nil, eris.Wrap(err, "escalation: canceled before tier")
		}

		if prev != nil {
			d.Escalated = true
			log.Debug("escalating",
				zap.String("from", string(prev.Name)),
				zap.String("to", string(step.Tier.Name)),
			)
			if opts.OnEscalate != nil {
				opts.OnEscalate(*prev, step.Tier, d.Best)
			}
		}
		prev = &steps[i].Tier
		d.StoppedAt = step.Tier.Name

		out, err := attempt(ctx, step)
		if err != nil {
			lastErr = err
			d.Attempts = append(d.Attempts, TierAttempt{
				Tier:      step.Tier.Name,
				Provider:  resilience.ProviderOf(err),
				Error:     err.Error(),
				ErrorKind: resilience.KindOf(err),
			})
			log.Warn("tier failed",
				zap.String("tier", string(step.Tier.Name)),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
			if resilience.KindOf(err) == resilience.KindCanceled {
				break
			}
			continue
		}

		out.Tier = step.Tier.Name
		out.TierIndex = i
		d.Usage = d.Usage.Add(out.Usage)

		improved := d.Best == nil || out.Result.Confidence > d.Best.Result.Confidence
		if improved {
			if d.Best != nil {
				d.Improved = true
			}
			d.Best = out
			if opts.OnImproved != nil {
				opts.OnImproved(out)
			}
		}
		d.Attempts = append(d.Attempts, TierAttempt{
			Tier:       step.Tier.Name,
			Provider:   out.Provider,
			Model:      out.Model,
			Confidence: out.Result.Confidence,
			Improved:   improved,
		})

		if c.Satisfied(d.Best, step.Tier) {
			break
		}
	}

	if d.Best == nil {
		if lastErr == nil {
			lastErr = resilience.Errorf(resilience.KindUnknown, "escalation: no tier produced a result")
		}
		return nil, lastErr
	}

	last := len(steps) - 1
	d.Exhausted = d.StoppedAt == steps[last].Tier.Name
	var stopTier routing.TierSpec
	for _, s := range steps {
		if s.Tier.Name == d.StoppedAt {
			stopTier = s.Tier
		}
	}
	d.BelowThreshold = !c.Satisfied(d.Best, stopTier)
	return d, nil
}
