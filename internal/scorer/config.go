// Package scorer computes identification confidence and field completeness.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Weights assigns each wine field its share of the completeness score.
type Weights struct {
	Producer float64 `json:"producer"`
	WineName float64 `json:"wineName"`
	Vintage  float64 `json:"vintage"`
	Region   float64 `json:"region"`
	Grape    float64 `json:"grape"`
	Type     float64 `json:"type"`
}

// DefaultWeights returns the standard field weights. Weights sum to 1.
func DefaultWeights() Weights {
	return Weights{
		Producer: 0.30,
		WineName: 0.20,
		Vintage:  0.15,
		Region:   0.15,
		Grape:    0.10,
		Type:     0.10,
	}
}

// Sum returns the sum of all field weights.
func (w Weights) Sum() float64 {
	return w.Producer + w.WineName + w.Vintage + w.Region + w.Grape + w.Type
}

// Validate checks that the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	var errs []string

	weights := map[string]float64{
		"producer": w.Producer,
		"wineName": w.WineName,
		"vintage":  w.Vintage,
		"region":   w.Region,
		"grape":    w.Grape,
		"type":     w.Type,
	}
	for name, v := range weights {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
		}
	}

	if sum := w.Sum(); math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Sprintf("weights must sum to 1, got %.6f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
