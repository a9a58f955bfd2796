package calculation

import (
	"context"
	"fmt"
	"math"

	"github.com/rgehrsitz/cohortsim/internal/discount"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/matrix"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
)

// ConservationTolerance is the relative tolerance for the population
// conservation check performed after every cycle.
const ConservationTolerance = 1e-9

// Options configures a cohort run.
type Options struct {
	Cycles   int
	Method   domain.Method
	Discount discount.Rates
}

// Validate checks the run options.
func (o Options) Validate() error {
	if o.Cycles <= 0 {
		return fmt.Errorf("cycles must be positive, got %d", o.Cycles)
	}
	if !o.Method.Valid() {
		return fmt.Errorf("unknown method %q (valid: end, beginning, life-table)", o.Method)
	}
	if !o.Discount.Valid() {
		return fmt.Errorf("discount rates must be between 0 and 1, got cost=%g effect=%g", o.Discount.Cost, o.Discount.Effect)
	}
	return nil
}

// CalculationEngine runs cohort simulations. It holds no per-run state and
// can be shared by concurrent callers.
type CalculationEngine struct {
	Logger Logger
	Debug  bool // log every cycle's totals
}

// NewCalculationEngine creates a new calculation engine
func NewCalculationEngine() *CalculationEngine {
	return &CalculationEngine{Logger: NopLogger{}}
}

// SetLogger sets the logger; nil installs a NopLogger.
func (ce *CalculationEngine) SetLogger(l Logger) {
	if l == nil {
		ce.Logger = NopLogger{}
		return
	}
	ce.Logger = l
}

func (ce *CalculationEngine) logger() Logger {
	if ce.Logger == nil {
		return NopLogger{}
	}
	return ce.Logger
}

// Run simulates one strategy for opts.Cycles cycles starting from init.
// The initial vector may list states in any order; it must cover exactly
// the strategy's states.
func (ce *CalculationEngine) Run(
	ctx context.Context,
	set *params.Set,
	strat *strategy.Strategy,
	init domain.CohortVector,
	opts Options,
) (*domain.SimulationResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	if err := init.Validate(); err != nil {
		return nil, err
	}
	current, err := domain.CohortFromMap(strat.StateNames(), init.AsMap())
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strat.Name, err)
	}

	states := strat.OrderedStates()
	firstCycle := opts.Method.DiscountsFirstCycle()
	counts := make([]domain.CohortVector, 0, opts.Cycles+1)
	values := make([]domain.CycleValues, 0, opts.Cycles)
	counts = append(counts, current)

	for t := 0; t < opts.Cycles; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := set.Resolve(t)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name, err)
		}
		m, err := matrix.Resolve(strat.Transition, snap)
		if err != nil {
			return nil, fmt.Errorf("strategy %s cycle %d: %w", strat.Name, t, err)
		}
		next, err := m.Apply(current)
		if err != nil {
			return nil, fmt.Errorf("strategy %s cycle %d: %w", strat.Name, t, err)
		}
		if err := checkConservation(current, next, t); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name, err)
		}

		occupancy := occupancyFor(opts.Method, current, next)
		cv := domain.CycleValues{Cycle: t}
		for i, st := range states {
			cost, utility, err := st.Evaluate(snap)
			if err != nil {
				return nil, fmt.Errorf("strategy %s cycle %d: %w", strat.Name, t, err)
			}
			cv.RawCost += occupancy[i] * cost
			cv.RawUtility += occupancy[i] * utility
		}
		cv.Cost = discount.Discount(cv.RawCost, opts.Discount.Cost, t, firstCycle)
		cv.Utility = discount.Discount(cv.RawUtility, opts.Discount.Effect, t, firstCycle)

		if ce.Debug {
			ce.logger().Debugf("%s cycle %d: population=%.6f cost=%.4f utility=%.6f",
				strat.Name, t, next.Total(), cv.Cost, cv.Utility)
		}

		counts = append(counts, next)
		values = append(values, cv)
		current = next
	}

	return domain.NewSimulationResult(strat.Name, opts.Method, counts, values), nil
}

// RunStrategies runs every strategy against the same parameters and initial
// cohort. Results are returned in strategy order.
func (ce *CalculationEngine) RunStrategies(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	opts Options,
) ([]*domain.SimulationResult, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies to run")
	}
	results := make([]*domain.SimulationResult, 0, len(strategies))
	for _, s := range strategies {
		r, err := ce.Run(ctx, set, s, init, opts)
		if err != nil {
			return nil, err
		}
		totals := r.Totals()
		ce.logger().Infof("strategy %s: cost=%.2f effect=%.4f", s.Name, totals.Cost, totals.Utility)
		results = append(results, r)
	}
	return results, nil
}

func occupancyFor(method domain.Method, current, next domain.CohortVector) []float64 {
	switch method {
	case domain.MethodBeginning:
		return next.Counts
	case domain.MethodLifeTable:
		mid := make([]float64, len(current.Counts))
		for i := range mid {
			mid[i] = (current.Counts[i] + next.Counts[i]) / 2
		}
		return mid
	default:
		return current.Counts
	}
}

func checkConservation(before, after domain.CohortVector, cycle int) error {
	b, a := before.Total(), after.Total()
	if math.Abs(a-b) > ConservationTolerance*math.Max(1, math.Abs(b)) {
		return domain.NewModelError(domain.ErrConservation, fmt.Sprintf("cycle %d", cycle),
			fmt.Sprintf("population %.12g became %.12g", b, a), nil)
	}
	return nil
}
