package domain

import "encoding/json"

// Method selects which occupancy a cycle's state values are evaluated on.
type Method string

const (
	// MethodEnd values cycle t on the counts at the start of the cycle.
	MethodEnd Method = "end"
	// MethodBeginning values cycle t on the counts after the cycle's
	// transition, discounted from the first cycle.
	MethodBeginning Method = "beginning"
	// MethodLifeTable values cycle t on the mean of the counts before and
	// after the transition (half-cycle correction).
	MethodLifeTable Method = "life-table"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodEnd, MethodBeginning, MethodLifeTable:
		return true
	}
	return false
}

// DiscountsFirstCycle reports whether values under m are discounted starting
// at the first cycle.
func (m Method) DiscountsFirstCycle() bool {
	return m == MethodBeginning || m == MethodLifeTable
}

// CycleValues holds the cost and utility accrued in one cycle.
type CycleValues struct {
	Cycle      int     `json:"cycle"`
	Cost       float64 `json:"cost"`
	Utility    float64 `json:"utility"`
	RawCost    float64 `json:"rawCost"`
	RawUtility float64 `json:"rawUtility"`
}

// Totals are the discounted cost and utility summed over a run.
type Totals struct {
	Cost    float64 `json:"cost"`
	Utility float64 `json:"utility"`
}

// SimulationResult is the output of one cohort run. It is never modified
// after NewSimulationResult returns; accessors hand out copies.
type SimulationResult struct {
	strategy string
	method   Method
	counts   []CohortVector
	values   []CycleValues
	totals   Totals
}

// NewSimulationResult takes ownership of counts and values.
func NewSimulationResult(strategy string, method Method, counts []CohortVector, values []CycleValues) *SimulationResult {
	r := &SimulationResult{
		strategy: strategy,
		method:   method,
		counts:   counts,
		values:   values,
	}
	for _, v := range values {
		r.totals.Cost += v.Cost
		r.totals.Utility += v.Utility
	}
	return r
}

// Strategy returns the name of the simulated strategy.
func (r *SimulationResult) Strategy() string { return r.strategy }

// Method returns the valuation method used.
func (r *SimulationResult) Method() Method { return r.method }

// Cycles returns the number of simulated cycles.
func (r *SimulationResult) Cycles() int { return len(r.values) }

// Totals returns the discounted totals.
func (r *SimulationResult) Totals() Totals { return r.totals }

// Counts returns the cohort vectors for cycles 0..C.
func (r *SimulationResult) Counts() []CohortVector {
	out := make([]CohortVector, len(r.counts))
	for i, c := range r.counts {
		out[i] = c.Clone()
	}
	return out
}

// CountsAt returns the cohort vector at cycle t.
func (r *SimulationResult) CountsAt(t int) (CohortVector, bool) {
	if t < 0 || t >= len(r.counts) {
		return CohortVector{}, false
	}
	return r.counts[t].Clone(), true
}

// Values returns the per-cycle values.
func (r *SimulationResult) Values() []CycleValues {
	return append([]CycleValues(nil), r.values...)
}

type simulationResultJSON struct {
	Strategy string         `json:"strategy"`
	Method   Method         `json:"method"`
	Counts   []CohortVector `json:"counts"`
	Values   []CycleValues  `json:"values"`
	Totals   Totals         `json:"totals"`
}

// MarshalJSON encodes the result including its private fields.
func (r *SimulationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(simulationResultJSON{
		Strategy: r.strategy,
		Method:   r.method,
		Counts:   r.counts,
		Values:   r.values,
		Totals:   r.totals,
	})
}
