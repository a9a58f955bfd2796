package breakeven

import (
	"context"
	"fmt"
	"math"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
)

// Model is the fixed part of a threshold search: everything except the
// parameter being searched.
type Model struct {
	Parameters *params.Set
	Strategies []*strategy.Strategy
	Initial    domain.CohortVector
	Options    calculation.Options
}

// Solver finds parameter thresholds at which one strategy overtakes another.
type Solver struct {
	CalcEngine *calculation.CalculationEngine
	Options    SolverOptions
}

// NewSolver creates a new threshold solver
func NewSolver(calcEngine *calculation.CalculationEngine, options SolverOptions) *Solver {
	if calcEngine == nil {
		calcEngine = calculation.NewCalculationEngine()
	}
	return &Solver{
		CalcEngine: calcEngine,
		Options:    options,
	}
}

// NewDefaultSolver creates a solver with default options
func NewDefaultSolver(calcEngine *calculation.CalculationEngine) *Solver {
	return NewSolver(calcEngine, DefaultSolverOptions())
}

// Solve bisects [req.Min, req.Max] for the parameter value where the goal's
// gap changes sign. A range without a sign change is not an error: the
// result reports Bracketed=false and no threshold.
func (s *Solver) Solve(ctx context.Context, m Model, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !m.Parameters.Has(req.Parameter) {
		return nil, &BreakEvenError{
			Operation: "solve",
			Message:   "parameter not found",
			Cause:     domain.NewModelError(domain.ErrUnknownParameter, req.Parameter, "cannot search", nil),
		}
	}
	pair, err := m.pair(req)
	if err != nil {
		return nil, err
	}

	if req.MaxIterations == 0 {
		req.MaxIterations = s.Options.MaxIterations
	}
	if req.Tolerance == 0 {
		req.Tolerance = (req.Max - req.Min) * s.Options.RelativeTolerance
	}

	result := &Result{Request: req}
	lo, hi := req.Min, req.Max
	if result.AtMin, _, err = s.evaluate(ctx, m, pair, req, lo); err != nil {
		return nil, err
	}
	if result.AtMax, _, err = s.evaluate(ctx, m, pair, req, hi); err != nil {
		return nil, err
	}
	result.FavoursComparatorAbove = req.Goal.comparatorWins(result.AtMax.Gap)

	glo, ghi := result.AtMin.Gap, result.AtMax.Gap
	switch {
	case math.Abs(glo) <= s.Options.GapTolerance:
		return s.finish(ctx, m, pair, result, lo, "Gap is zero at the lower bound")
	case math.Abs(ghi) <= s.Options.GapTolerance:
		return s.finish(ctx, m, pair, result, hi, "Gap is zero at the upper bound")
	case math.Signbit(glo) == math.Signbit(ghi):
		result.ConvergenceInfo = fmt.Sprintf("No sign change between %g and %g", lo, hi)
		if req.Goal.comparatorWins(glo) {
			result.ConvergenceInfo += fmt.Sprintf(": %s is preferred across the range", req.Comparator)
		} else {
			result.ConvergenceInfo += fmt.Sprintf(": %s is preferred across the range", req.Reference)
		}
		return result, nil
	}
	result.Bracketed = true

	for result.Iterations < req.MaxIterations {
		result.Iterations++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mid := lo + (hi-lo)/2
		p, _, err := s.evaluate(ctx, m, pair, req, mid)
		if err != nil {
			return nil, err
		}
		if math.Abs(p.Gap) <= s.Options.GapTolerance {
			return s.finish(ctx, m, pair, result, mid, fmt.Sprintf("Gap below %g after %d iterations", s.Options.GapTolerance, result.Iterations))
		}
		if math.Signbit(p.Gap) == math.Signbit(glo) {
			lo, glo = mid, p.Gap
		} else {
			hi = mid
		}
		if hi-lo <= req.Tolerance {
			return s.finish(ctx, m, pair, result, lo+(hi-lo)/2, fmt.Sprintf("Binary search converged within %g", req.Tolerance))
		}
	}

	// Best estimate so far; the bracket still holds the root.
	mid := lo + (hi-lo)/2
	res, err := s.finish(ctx, m, pair, result, mid, "")
	if err != nil {
		return nil, err
	}
	res.Success = false
	res.ConvergenceInfo = fmt.Sprintf("Max iterations (%d) reached; bracket [%g, %g]", req.MaxIterations, lo, hi)
	return res, nil
}

func (s *Solver) finish(ctx context.Context, m Model, pair [2]*strategy.Strategy, result *Result, at float64, info string) (*Result, error) {
	_, totals, err := s.evaluate(ctx, m, pair, result.Request, at)
	if err != nil {
		return nil, err
	}
	v := at
	result.Threshold = &v
	result.AtThreshold = totals
	result.Success = true
	result.ConvergenceInfo = info
	if s.CalcEngine.Logger != nil {
		s.CalcEngine.Logger.Debugf("threshold %s=%g (%s vs %s, %s)", result.Request.Parameter, at,
			result.Request.Comparator, result.Request.Reference, result.Request.Goal)
	}
	return result, nil
}

// evaluate runs the reference and comparator with the parameter fixed at v.
func (s *Solver) evaluate(ctx context.Context, m Model, pair [2]*strategy.Strategy, req Request, v float64) (Point, []domain.Totals, error) {
	set, err := m.Parameters.Override(map[string]float64{req.Parameter: v})
	if err != nil {
		return Point{}, nil, &BreakEvenError{Operation: "evaluate", Message: "failed to override parameter", Cause: err}
	}
	results, err := s.CalcEngine.RunStrategies(ctx, set, pair[:], m.Initial, m.Options)
	if err != nil {
		return Point{}, nil, &BreakEvenError{
			Operation: "evaluate",
			Message:   fmt.Sprintf("failed to run model at %s=%g", req.Parameter, v),
			Cause:     err,
		}
	}
	ref, cmp := results[0].Totals(), results[1].Totals()
	p := Point{
		Value:             v,
		IncrementalCost:   cmp.Cost - ref.Cost,
		IncrementalEffect: cmp.Utility - ref.Utility,
	}
	p.Gap = req.Goal.gap(p, req.WillingnessToPay)
	return p, []domain.Totals{ref, cmp}, nil
}

func (g Goal) gap(p Point, wtp float64) float64 {
	switch g {
	case GoalCostNeutral:
		return p.IncrementalCost
	case GoalEffectEqual:
		return p.IncrementalEffect
	}
	return wtp*p.IncrementalEffect - p.IncrementalCost
}

// comparatorWins reports whether a gap favours the comparator.
func (g Goal) comparatorWins(gap float64) bool {
	if g == GoalCostNeutral {
		return gap < 0
	}
	return gap > 0
}

// pair looks up the reference and comparator strategies by name.
func (m Model) pair(req Request) ([2]*strategy.Strategy, error) {
	var pair [2]*strategy.Strategy
	for _, st := range m.Strategies {
		switch st.Name {
		case req.Reference:
			pair[0] = st
		case req.Comparator:
			pair[1] = st
		}
	}
	for i, name := range []string{req.Reference, req.Comparator} {
		if pair[i] == nil {
			return pair, &BreakEvenError{Operation: "solve", Message: fmt.Sprintf("strategy %s not found", name)}
		}
	}
	return pair, nil
}
