package domain

import (
	"fmt"
	"math"
)

// CohortVector is the population count per health state at one cycle. States
// and Counts are parallel slices in the state order of the owning strategy.
type CohortVector struct {
	States []string  `json:"states"`
	Counts []float64 `json:"counts"`
}

// NewCohortVector pairs state names with counts.
func NewCohortVector(states []string, counts []float64) (CohortVector, error) {
	if len(states) != len(counts) {
		return CohortVector{}, NewModelError(ErrInvalidInitialPopulation, "",
			fmt.Sprintf("%d states but %d counts", len(states), len(counts)), nil)
	}
	v := CohortVector{
		States: append([]string(nil), states...),
		Counts: append([]float64(nil), counts...),
	}
	return v, nil
}

// CohortFromMap builds a vector in the given state order. States missing from
// the map are an error so that typos in an input file do not silently become
// empty states.
func CohortFromMap(states []string, counts map[string]float64) (CohortVector, error) {
	v := CohortVector{
		States: append([]string(nil), states...),
		Counts: make([]float64, len(states)),
	}
	for i, s := range states {
		c, ok := counts[s]
		if !ok {
			return CohortVector{}, NewModelError(ErrInvalidInitialPopulation, s, "no count supplied", nil)
		}
		v.Counts[i] = c
	}
	if len(counts) != len(states) {
		for name := range counts {
			if v.Index(name) < 0 {
				return CohortVector{}, NewModelError(ErrInvalidInitialPopulation, name, "state is not part of the model", nil)
			}
		}
	}
	return v, nil
}

// Index returns the position of state, or -1.
func (v CohortVector) Index(state string) int {
	for i, s := range v.States {
		if s == state {
			return i
		}
	}
	return -1
}

// Get returns the count for a state.
func (v CohortVector) Get(state string) (float64, bool) {
	i := v.Index(state)
	if i < 0 {
		return 0, false
	}
	return v.Counts[i], true
}

// Total returns the population summed over all states.
func (v CohortVector) Total() float64 {
	var total float64
	for _, c := range v.Counts {
		total += c
	}
	return total
}

// Clone returns a deep copy.
func (v CohortVector) Clone() CohortVector {
	return CohortVector{
		States: append([]string(nil), v.States...),
		Counts: append([]float64(nil), v.Counts...),
	}
}

// Validate rejects negative or non-finite counts.
func (v CohortVector) Validate() error {
	if len(v.States) != len(v.Counts) {
		return NewModelError(ErrInvalidInitialPopulation, "",
			fmt.Sprintf("%d states but %d counts", len(v.States), len(v.Counts)), nil)
	}
	for i, c := range v.Counts {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return NewModelError(ErrInvalidInitialPopulation, v.States[i], "count is not finite", nil)
		}
		if c < 0 {
			return NewModelError(ErrInvalidInitialPopulation, v.States[i], fmt.Sprintf("negative count %g", c), nil)
		}
	}
	return nil
}

// AsMap returns the vector keyed by state name.
func (v CohortVector) AsMap() map[string]float64 {
	m := make(map[string]float64, len(v.States))
	for i, s := range v.States {
		m[s] = v.Counts[i]
	}
	return m
}
