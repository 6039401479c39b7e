// Package routing maps tasks to provider candidates and defines the tier
// ladder used for escalation.
package routing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Task is a unit of model work with its own route.
type Task string

// Known tasks.
const (
	TaskIdentifyText  Task = "identify_text"
	TaskIdentifyImage Task = "identify_image"
	TaskEnrich        Task = "enrich"
	TaskPair          Task = "pair"
	TaskEmbed         Task = "embed"
)

// Tasks lists every known task.
var Tasks = []Task{TaskIdentifyText, TaskIdentifyImage, TaskEnrich, TaskPair, TaskEmbed}

// TierName names a rung on the escalation ladder.
type TierName string

// Ladder rungs, cheapest first.
const (
	TierFast     TierName = "fast"
	TierDetailed TierName = "detailed"
	TierBalanced TierName = "balanced"
	TierPremium  TierName = "premium"
)

var tierOrder = []TierName{TierFast, TierDetailed, TierBalanced, TierPremium}

// Rank returns the ladder position of the tier, or -1.
func (t TierName) Rank() int { return slices.Index(tierOrder, t) }

// Thinking modes.
const (
	ThinkingOff  = "off"
	ThinkingLow  = "low"
	ThinkingHigh = "high"
)

// Candidate is a provider and model able to serve a task.
type Candidate struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

func (c Candidate) String() string { return c.Provider + "/" + c.Model }

// TaskConfig routes a task to a primary candidate and optional fallback.
type TaskConfig struct {
	Primary  Candidate  `yaml:"primary"`
	Fallback *Candidate `yaml:"fallback,omitempty"`
	Escalate bool       `yaml:"escalate"`
}

// TierSpec configures one rung of the ladder. An empty provider on a tier
// means "use the task's own candidates with these parameters".
type TierSpec struct {
	Name        TierName   `yaml:"name"`
	Provider    string     `yaml:"provider,omitempty"`
	Model       string     `yaml:"model,omitempty"`
	Fallback    *Candidate `yaml:"fallback,omitempty"`
	Thinking    string     `yaml:"thinking"`
	Temperature float64    `yaml:"temperature"`
	MaxTokens   int        `yaml:"max_tokens"`
	Threshold   float64    `yaml:"threshold"`
}

// Config is the top-level routing configuration.
type Config struct {
	Tasks map[Task]TaskConfig `yaml:"tasks"`
	Tiers []TierSpec          `yaml:"tiers"`
}

// DefaultConfig returns the built-in routes and tier ladder.
func DefaultConfig() *Config {
	return &Config{
		Tasks: map[Task]TaskConfig{
			TaskIdentifyText: {
				Primary:  Candidate{Provider: "gemini", Model: "gemini-2.5-flash"},
				Fallback: &Candidate{Provider: "openai", Model: "gpt-4.1-mini"},
				Escalate: true,
			},
			TaskIdentifyImage: {
				Primary:  Candidate{Provider: "gemini", Model: "gemini-2.5-flash"},
				Fallback: &Candidate{Provider: "anthropic", Model: "claude-haiku-4-5-20251001"},
				Escalate: true,
			},
			TaskEnrich: {
				Primary:  Candidate{Provider: "gemini", Model: "gemini-2.5-flash"},
				Fallback: &Candidate{Provider: "anthropic", Model: "claude-haiku-4-5-20251001"},
			},
			TaskPair: {
				Primary:  Candidate{Provider: "openai", Model: "gpt-4.1-mini"},
				Fallback: &Candidate{Provider: "gemini", Model: "gemini-2.5-flash"},
			},
			TaskEmbed: {
				Primary: Candidate{Provider: "openai", Model: "text-embedding-3-small"},
			},
		},
		Tiers: []TierSpec{
			{Name: TierFast, Thinking: ThinkingOff, Temperature: 0.2, MaxTokens: 800, Threshold: 0.85},
			{Name: TierDetailed, Provider: "gemini", Model: "gemini-2.5-flash", Thinking: ThinkingHigh, Temperature: 0.2, MaxTokens: 2000, Threshold: 0.80},
			{
				Name: TierBalanced, Provider: "anthropic", Model: "claude-sonnet-4-5-20250929",
				Fallback: &Candidate{Provider: "openai", Model: "gpt-4.1"},
				Thinking: ThinkingLow, Temperature: 0.2, MaxTokens: 2000, Threshold: 0.75,
			},
			{
				Name: TierPremium, Provider: "anthropic", Model: "claude-opus-4-6",
				Fallback: &Candidate{Provider: "gemini", Model: "gemini-2.5-pro"},
				Thinking: ThinkingHigh, Temperature: 0.2, MaxTokens: 4000, Threshold: 0.70,
			},
		},
	}
}

// LoadConfig reads routing config from a YAML file. A missing file yields
// DefaultConfig. Tiers omitted from the file keep their built-in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "routing: read config %s", path)
	}

	// The YAML has a top-level "routing" key
	var wrapper struct {
		Routing Config `yaml:"routing"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "routing: parse config")
	}

	cfg := &wrapper.Routing
	def := DefaultConfig()
	if cfg.Tasks == nil {
		cfg.Tasks = def.Tasks
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = def.Tiers
	}
	for i, t := range cfg.Tiers {
		if t.Thinking == "" {
			cfg.Tiers[i].Thinking = ThinkingOff
		}
		if t.MaxTokens == 0 {
			cfg.Tiers[i].MaxTokens = 1000
		}
	}

	return cfg, nil
}

// Validate checks task routes and the ladder. known, when non-nil, lists
// the configured provider names every candidate must reference.
func (c *Config) Validate(known []string) error {
	var errs []string

	checkCandidate := func(where string, cand Candidate) {
		if cand.Provider == "" || cand.Model == "" {
			errs = append(errs, fmt.Sprintf("%s: provider and model are required", where))
			return
		}
		if known != nil && !slices.Contains(known, cand.Provider) {
			errs = append(errs, fmt.Sprintf("%s: unknown provider %q", where, cand.Provider))
		}
	}

	for task, tc := range c.Tasks {
		if !slices.Contains(Tasks, task) {
			errs = append(errs, fmt.Sprintf("tasks.%s: unknown task", task))
		}
		checkCandidate(fmt.Sprintf("tasks.%s.primary", task), tc.Primary)
		if tc.Fallback != nil {
			checkCandidate(fmt.Sprintf("tasks.%s.fallback", task), *tc.Fallback)
		}
	}

	if len(c.Tiers) == 0 {
		errs = append(errs, "tiers: at least one tier is required")
	}
	prev := -1
	for i, t := range c.Tiers {
		where := fmt.Sprintf("tiers[%d]", i)
		rank := t.Name.Rank()
		if rank < 0 {
			errs = append(errs, fmt.Sprintf("%s: unknown tier %q", where, t.Name))
		} else if rank <= prev {
			errs = append(errs, fmt.Sprintf("%s: tier %q out of order", where, t.Name))
		} else {
			prev = rank
		}
		if i > 0 && t.Provider == "" {
			errs = append(errs, fmt.Sprintf("%s: escalation tiers need a provider", where))
		}
		if t.Provider != "" {
			checkCandidate(where, Candidate{Provider: t.Provider, Model: t.Model})
		}
		if t.Fallback != nil {
			checkCandidate(where+".fallback", *t.Fallback)
		}
		if t.Threshold < 0 || t.Threshold > 1 {
			errs = append(errs, fmt.Sprintf("%s: threshold must be within [0, 1]", where))
		}
		switch t.Thinking {
		case ThinkingOff, ThinkingLow, ThinkingHigh:
		default:
			errs = append(errs, fmt.Sprintf("%s: thinking %q must be off, low or high", where, t.Thinking))
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("routing: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
