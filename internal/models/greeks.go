package models

import (
	"math"
	"time"
)

// GreeksPrecision is the number of decimal places kept when a Greeks
// bundle is stored.
const GreeksPrecision = 5

// Greeks is one consistent set of sensitivities produced by a single
// pricing evaluation. Bundles are immutable: the pricing engine builds a
// new one per (contract, tick) rather than updating fields in place.
type Greeks struct {
	Delta      float64   `json:"delta"`
	Gamma      float64   `json:"gamma"`
	Vega       float64   `json:"vega"`
	Theta      float64   `json:"theta"` // per calendar day
	Rho        float64   `json:"rho"`
	Vomma      float64   `json:"vomma"`
	Elasticity float64   `json:"elasticity"`
	IV         float64   `json:"iv"`
	// Converged is false when implied-volatility root finding failed; IV
	// is 0 in that case and must be treated as unknown.
	Converged  bool      `json:"converged"`
	ComputedAt time.Time `json:"computed_at"`
}

// RoundGreek rounds to GreeksPrecision decimals, passing infinities and
// NaN through unchanged.
func RoundGreek(x float64) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	shift := math.Pow(10, GreeksPrecision)
	return math.Round(x*shift) / shift
}

// Rounded returns a copy of the bundle with every sensitivity rounded to
// storage precision.
func (g Greeks) Rounded() Greeks {
	g.Delta = RoundGreek(g.Delta)
	g.Gamma = RoundGreek(g.Gamma)
	g.Vega = RoundGreek(g.Vega)
	g.Theta = RoundGreek(g.Theta)
	g.Rho = RoundGreek(g.Rho)
	g.Vomma = RoundGreek(g.Vomma)
	g.Elasticity = RoundGreek(g.Elasticity)
	g.IV = RoundGreek(g.IV)
	return g
}
