package breakeven

import (
	"fmt"
	"math"

	"github.com/rgehrsitz/cohortsim/internal/domain"
)

// Goal defines which incremental quantity the solver drives to zero.
type Goal string

const (
	GoalNetBenefit  Goal = "net_benefit"  // comparator NMB equals reference NMB at the WTP
	GoalCostNeutral Goal = "cost_neutral" // comparator costs the same as the reference
	GoalEffectEqual Goal = "effect_equal" // comparator yields the same effect as the reference
)

// Valid reports whether g is a known goal.
func (g Goal) Valid() bool {
	switch g {
	case GoalNetBenefit, GoalCostNeutral, GoalEffectEqual:
		return true
	}
	return false
}

// Request describes one threshold search: the value of Parameter within
// [Min, Max] at which Comparator stops (or starts) beating Reference.
type Request struct {
	Parameter        string  `json:"parameter"`
	Reference        string  `json:"reference"`
	Comparator       string  `json:"comparator"`
	Goal             Goal    `json:"goal"`
	WillingnessToPay float64 `json:"willingnessToPay"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Tolerance        float64 `json:"tolerance,omitempty"` // absolute, on the parameter scale
	MaxIterations    int     `json:"maxIterations,omitempty"`
}

// Validate checks the request is internally consistent.
func (r *Request) Validate() error {
	if r.Parameter == "" {
		return &BreakEvenError{Operation: "validate_request", Message: "parameter is required"}
	}
	if r.Reference == "" || r.Comparator == "" {
		return &BreakEvenError{Operation: "validate_request", Message: "reference and comparator strategies are required"}
	}
	if r.Reference == r.Comparator {
		return &BreakEvenError{Operation: "validate_request", Message: fmt.Sprintf("reference and comparator are both %s", r.Reference)}
	}
	if !r.Goal.Valid() {
		return &BreakEvenError{Operation: "validate_request", Message: fmt.Sprintf("unknown goal %q", r.Goal)}
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return &BreakEvenError{Operation: "validate_request", Message: "bounds must be finite"}
	}
	if r.Min >= r.Max {
		return &BreakEvenError{Operation: "validate_request", Message: fmt.Sprintf("min %g must be below max %g", r.Min, r.Max)}
	}
	if r.Goal == GoalNetBenefit && r.WillingnessToPay < 0 {
		return &BreakEvenError{Operation: "validate_request", Message: "willingness to pay cannot be negative"}
	}
	if r.Tolerance < 0 {
		return &BreakEvenError{Operation: "validate_request", Message: "tolerance cannot be negative"}
	}
	return nil
}

// Point is the incremental outcome of Comparator over Reference at one
// parameter value. Gap is the quantity the goal drives to zero.
type Point struct {
	Value             float64 `json:"value"`
	IncrementalCost   float64 `json:"incrementalCost"`
	IncrementalEffect float64 `json:"incrementalEffect"`
	Gap               float64 `json:"gap"`
}

// Result contains the outcome of one threshold search.
type Result struct {
	Request         Request `json:"request"`
	Success         bool    `json:"success"`
	Bracketed       bool    `json:"bracketed"`
	Iterations      int     `json:"iterations"`
	ConvergenceInfo string  `json:"convergenceInfo"`

	// Threshold is nil when the gap keeps one sign across [Min, Max].
	Threshold *float64 `json:"threshold,omitempty"`
	AtMin     Point    `json:"atMin"`
	AtMax     Point    `json:"atMax"`
	// AtThreshold holds both strategies' totals at the threshold.
	AtThreshold []domain.Totals `json:"atThreshold,omitempty"`
	// FavoursComparatorAbove is true when the comparator wins for values
	// above the threshold.
	FavoursComparatorAbove bool `json:"favoursComparatorAbove"`
}

// MultiResult collects searches over several parameters for one pair of
// strategies.
type MultiResult struct {
	Results         []Result `json:"results"`
	Recommendations []string `json:"recommendations"`
}

// SolverOptions configures the solver algorithm.
type SolverOptions struct {
	GridResolution    int     // points per sweep
	RelativeTolerance float64 // fraction of Max-Min used when a request has no tolerance
	GapTolerance      float64 // stop once |gap| is this small
	MaxIterations     int
	Workers           int // concurrent runs in a sweep; 0 means one per point
}

// DefaultSolverOptions returns default solver configuration
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		GridResolution:    11,
		RelativeTolerance: 1e-6,
		GapTolerance:      1e-9,
		MaxIterations:     100,
	}
}

// BreakEvenError represents errors from the threshold solver
type BreakEvenError struct {
	Operation string
	Message   string
	Cause     error
}

func (e *BreakEvenError) Error() string {
	if e.Cause != nil {
		return e.Operation + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Operation + ": " + e.Message
}

func (e *BreakEvenError) Unwrap() error {
	return e.Cause
}
