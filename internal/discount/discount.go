// Package discount converts per-cycle values to present value.
package discount

import "math"

// Factor returns 1/(1+rate)^e where e is the cycle index, plus one when
// discounting starts at the first cycle.
func Factor(rate float64, cycle int, firstCycle bool) float64 {
	exponent := float64(cycle)
	if firstCycle {
		exponent++
	}
	return 1 / math.Pow(1+rate, exponent)
}

// Discount returns the present value of value realized at cycle.
func Discount(value, rate float64, cycle int, firstCycle bool) float64 {
	return value * Factor(rate, cycle, firstCycle)
}

// Rates holds separate annual discount rates for costs and effects.
type Rates struct {
	Cost   float64 `yaml:"cost" json:"cost"`
	Effect float64 `yaml:"effect" json:"effect"`
}

// Uniform returns Rates with the same rate for costs and effects.
func Uniform(rate float64) Rates { return Rates{Cost: rate, Effect: rate} }

// Valid reports whether both rates are in [0,1].
func (r Rates) Valid() bool {
	return r.Cost >= 0 && r.Cost <= 1 && r.Effect >= 0 && r.Effect <= 1
}
