package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/wine-identify/internal/model"
)

func testRates() Rates {
	return Rates{
		"haiku":  {Input: 1.00, Output: 5.00},
		"sonnet": {Input: 3.00, Output: 15.00},
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{
			name:  "haiku simple",
			model: "haiku", input: 1000000, output: 100000,
			want: 1.00 + 0.50,
		},
		{
			name:  "sonnet small call",
			model: "sonnet", input: 2000, output: 400,
			want: 0.006 + 0.006,
		},
		{
			name:  "unknown model",
			model: "mystery", input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "haiku",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Tokens(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestPrice(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	u := calc.Price("sonnet", model.Usage{InputTokens: 1000000, OutputTokens: 0, Calls: 1})
	assert.InDelta(t, 3.0, u.CostUSD, 1e-9)
	assert.Equal(t, 1, u.Calls)
}

func TestRatesWith(t *testing.T) {
	t.Parallel()
	base := testRates()
	over := base.With("haiku", 0.5, 2.0)

	assert.Equal(t, ModelRate{Input: 0.5, Output: 2.0}, over["haiku"])
	assert.Equal(t, ModelRate{Input: 1.0, Output: 5.0}, base["haiku"], "original untouched")
	assert.Equal(t, base["sonnet"], over["sonnet"])
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	for _, m := range []string{"claude-haiku-4-5-20251001", "claude-sonnet-4-5-20250929", "claude-opus-4-6", "gemini-2.5-flash", "gpt-4.1-mini"} {
		r, ok := rates[m]
		assert.True(t, ok, "missing rate for %s", m)
		assert.Greater(t, r.Input, 0.0)
	}
	assert.Greater(t, rates["claude-opus-4-6"].Input, rates["claude-sonnet-4-5-20250929"].Input)
}
