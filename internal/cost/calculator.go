package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model names to their pricing.
type Rates map[string]ModelRate

// With returns a copy of r with model priced at the given rates.
func (r Rates) With(modelName string, input, output float64) Rates {
	out := make(Rates, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[modelName] = ModelRate{Input: input, Output: output}
	return out
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Tokens computes the cost of one call to modelName. Unpriced models cost 0.
func (c *Calculator) Tokens(modelName string, input, output int64) float64 {
	rate, ok := c.rates[modelName]
	if !ok {
		zap.L().Debug("cost: no rate for model", zap.String("model", modelName))
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Price returns u with CostUSD filled in for modelName.
func (c *Calculator) Price(modelName string, u model.Usage) model.Usage {
	u.CostUSD = c.Tokens(modelName, u.InputTokens, u.OutputTokens)
	return u
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		"gpt-4.1-mini":               {Input: 0.40, Output: 1.60},
		"gpt-4.1":                    {Input: 2.00, Output: 8.00},
		"text-embedding-3-small":     {Input: 0.02, Output: 0},
		"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
	}
}
