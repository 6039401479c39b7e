package routing

import (
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// Step is one escalation tier with the candidates that may serve it.
type Step struct {
	Tier       TierSpec
	Candidates []Candidate
}

// Router resolves tasks to candidates and escalation plans.
type Router struct {
	cfg *Config
}

// NewRouter creates a Router over cfg.
func NewRouter(cfg *Config) *Router {
	return &Router{cfg: cfg}
}

// Config returns the underlying configuration.
func (r *Router) Config() *Config { return r.cfg }

// Candidates returns the ordered primary then fallback candidates for task.
func (r *Router) Candidates(task Task) ([]Candidate, error) {
	tc, ok := r.cfg.Tasks[task]
	if !ok {
		return nil, resilience.Errorf(resilience.KindConfig, "routing: no route for task %q", task)
	}
	out := []Candidate{tc.Primary}
	if tc.Fallback != nil && *tc.Fallback != tc.Primary {
		out = append(out, *tc.Fallback)
	}
	return out, nil
}

// Plan returns the ordered steps for task. The first step always uses the
// task's own candidates with the first tier's parameters; escalating tasks
// append the remaining tiers.
func (r *Router) Plan(task Task) ([]Step, error) {
	cands, err := r.Candidates(task)
	if err != nil {
		return nil, err
	}
	if len(r.cfg.Tiers) == 0 {
		return nil, resilience.Errorf(resilience.KindConfig, "routing: no tiers configured")
	}

	steps := []Step{{Tier: r.cfg.Tiers[0], Candidates: cands}}
	if !r.cfg.Tasks[task].Escalate {
		return steps, nil
	}

	for _, tier := range r.cfg.Tiers[1:] {
		tierCands := []Candidate{{Provider: tier.Provider, Model: tier.Model}}
		if tier.Fallback != nil {
			tierCands = append(tierCands, *tier.Fallback)
		}
		steps = append(steps, Step{Tier: tier, Candidates: tierCands})
	}
	return steps, nil
}

// TaskForInput returns the identification task for an input kind.
func TaskForInput(kind model.InputKind) Task {
	if kind == model.InputImage {
		return TaskIdentifyImage
	}
	return TaskIdentifyText
}
