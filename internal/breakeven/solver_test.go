package breakeven

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/matrix"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
)

// createTwoStrategyModel builds alive/dead with a treatment that halves
// mortality and adds c_drug to the cost of every alive cycle.
func createTwoStrategyModel(t *testing.T) Model {
	t.Helper()
	set, err := params.NewSet(
		params.Constant("p_death", 0.1),
		params.Constant("p_death_tx", 0.05),
		params.Constant("cost_alive", 100),
		params.Constant("c_drug", 50),
		params.Derived("cost_tx", []string{"cost_alive", "c_drug"}, func(s params.Snapshot) (float64, error) {
			a, err := s.Get("cost_alive")
			if err != nil {
				return 0, err
			}
			d, err := s.Get("c_drug")
			return a + d, err
		}),
	)
	require.NoError(t, err)

	build := func(name, pDeath, cost string) *strategy.Strategy {
		return &strategy.Strategy{
			Name: name,
			Transition: matrix.Spec{
				States: []string{"alive", "dead"},
				Rows: []matrix.Row{
					{From: "alive", Entries: []matrix.Entry{matrix.Complement("alive"), matrix.Param("dead", pDeath)}},
					{From: "dead", Entries: []matrix.Entry{matrix.Fixed("alive", 0), matrix.Fixed("dead", 1)}},
				},
			},
			States: []strategy.State{
				{Name: "alive", Cost: strategy.Param(cost), Utility: strategy.Const(1)},
				{Name: "dead"},
			},
		}
	}
	start, err := domain.NewCohortVector([]string{"alive", "dead"}, []float64{1000, 0})
	require.NoError(t, err)

	return Model{
		Parameters: set,
		Strategies: []*strategy.Strategy{build("usual", "p_death", "cost_alive"), build("treated", "p_death_tx", "cost_tx")},
		Initial:    start,
		Options:    calculation.Options{Cycles: 5, Method: domain.MethodEnd},
	}
}

func netBenefitRequest() Request {
	return Request{
		Parameter:        "c_drug",
		Reference:        "usual",
		Comparator:       "treated",
		Goal:             GoalNetBenefit,
		WillingnessToPay: 500,
		Min:              0,
		Max:              1000,
	}
}

func TestNewDefaultSolver(t *testing.T) {
	calcEngine := calculation.NewCalculationEngine()
	solver := NewDefaultSolver(calcEngine)

	require.NotNil(t, solver)
	assert.Same(t, calcEngine, solver.CalcEngine)
	assert.Equal(t, DefaultSolverOptions(), solver.Options)

	assert.NotNil(t, NewSolver(nil, DefaultSolverOptions()).CalcEngine)
}

func TestSolve_NetBenefitThreshold(t *testing.T) {
	m := createTwoStrategyModel(t)
	solver := NewDefaultSolver(nil)

	// Undiscounted, utility is 1 per alive cycle, so the treated arm's total
	// cost is (cost_alive + c_drug) times its total effect. The net benefit
	// gap is linear in c_drug with slope -E_treated.
	zero, err := m.Parameters.Override(map[string]float64{"c_drug": 0})
	require.NoError(t, err)
	results, err := solver.CalcEngine.RunStrategies(context.Background(), zero, m.Strategies, m.Initial, m.Options)
	require.NoError(t, err)
	ref, cmp := results[0].Totals(), results[1].Totals()
	gap0 := 500*(cmp.Utility-ref.Utility) - (cmp.Cost - ref.Cost)
	expected := gap0 / cmp.Utility

	res, err := solver.Solve(context.Background(), m, netBenefitRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Bracketed)
	require.NotNil(t, res.Threshold)
	assert.InDelta(t, expected, *res.Threshold, 1e-2)
	assert.Greater(t, res.Iterations, 0)
	assert.False(t, res.FavoursComparatorAbove, "a dearer drug favours usual care")
	assert.Greater(t, res.AtMin.Gap, 0.0)
	assert.Less(t, res.AtMax.Gap, 0.0)
	require.Len(t, res.AtThreshold, 2)
	assert.InDelta(t, 0, 500*(res.AtThreshold[1].Utility-res.AtThreshold[0].Utility)-
		(res.AtThreshold[1].Cost-res.AtThreshold[0].Cost), 5)
}

func TestSolve_NoSignChange(t *testing.T) {
	m := createTwoStrategyModel(t)
	req := netBenefitRequest()
	req.Min, req.Max = 0, 1

	res, err := NewDefaultSolver(nil).Solve(context.Background(), m, req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Bracketed)
	assert.Nil(t, res.Threshold)
	assert.Contains(t, res.ConvergenceInfo, "treated is preferred")
}

func TestSolve_CostNeutral(t *testing.T) {
	m := createTwoStrategyModel(t)
	req := netBenefitRequest()
	req.Goal = GoalCostNeutral
	req.Parameter = "cost_alive"
	req.Min, req.Max = -1000, 500

	// Treated always costs c_drug more per alive cycle and keeps more people
	// alive, so equal cost needs a negative cost_alive.
	res, err := NewDefaultSolver(nil).Solve(context.Background(), m, req)
	require.NoError(t, err)
	require.NotNil(t, res.Threshold)
	assert.Less(t, *res.Threshold, 0.0)
	require.Len(t, res.AtThreshold, 2)
	assert.InDelta(t, res.AtThreshold[0].Cost, res.AtThreshold[1].Cost, 1)
}

func TestSolve_MaxIterations(t *testing.T) {
	m := createTwoStrategyModel(t)
	req := netBenefitRequest()
	req.MaxIterations = 2

	res, err := NewDefaultSolver(nil).Solve(context.Background(), m, req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Bracketed)
	assert.Equal(t, 2, res.Iterations)
	assert.Contains(t, res.ConvergenceInfo, "Max iterations (2) reached")
	assert.NotNil(t, res.Threshold)
}

func TestSolve_InvalidRequests(t *testing.T) {
	m := createTwoStrategyModel(t)
	solver := NewDefaultSolver(nil)

	tests := []struct {
		name   string
		modify func(*Request)
		want   string
	}{
		{"missing parameter", func(r *Request) { r.Parameter = "" }, "parameter is required"},
		{"same strategy", func(r *Request) { r.Comparator = "usual" }, "both usual"},
		{"bad goal", func(r *Request) { r.Goal = "maximize" }, "unknown goal"},
		{"inverted bounds", func(r *Request) { r.Min, r.Max = 10, 1 }, "must be below"},
		{"negative wtp", func(r *Request) { r.WillingnessToPay = -1 }, "cannot be negative"},
		{"unknown strategy", func(r *Request) { r.Comparator = "surgery" }, "strategy surgery not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := netBenefitRequest()
			tt.modify(&req)
			_, err := solver.Solve(context.Background(), m, req)
			var bee *BreakEvenError
			require.True(t, errors.As(err, &bee))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	req := netBenefitRequest()
	req.Parameter = "nope"
	_, err := solver.Solve(context.Background(), m, req)
	assert.True(t, errors.Is(err, domain.ErrUnknownParameter))
}

func TestSolve_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefaultSolver(nil).Solve(ctx, createTwoStrategyModel(t), netBenefitRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweep(t *testing.T) {
	m := createTwoStrategyModel(t)
	solver := NewDefaultSolver(nil)
	solver.Options.Workers = 2

	points, err := solver.Sweep(context.Background(), m, netBenefitRequest(), 5)
	require.NoError(t, err)
	require.Len(t, points, 5)
	assert.Equal(t, 0.0, points[0].Value)
	assert.Equal(t, 1000.0, points[4].Value)
	assert.Equal(t, 250.0, points[1].Value)
	for i := 1; i < len(points); i++ {
		assert.Less(t, points[i].Gap, points[i-1].Gap, "net benefit falls as the drug gets dearer")
		assert.InDelta(t, points[0].IncrementalEffect, points[i].IncrementalEffect, 1e-9)
	}

	_, err = solver.Sweep(context.Background(), m, netBenefitRequest(), 1)
	assert.Error(t, err)
}

func TestSolveAll(t *testing.T) {
	m := createTwoStrategyModel(t)
	flat := netBenefitRequest()
	flat.Min, flat.Max = 0, 1
	full := netBenefitRequest()

	multi, err := NewDefaultSolver(nil).SolveAll(context.Background(), m, []Request{flat, full})
	require.NoError(t, err)
	require.Len(t, multi.Results, 2)
	assert.True(t, multi.Results[0].Bracketed, "bracketed results first")
	require.Len(t, multi.Recommendations, 2)
	assert.Contains(t, multi.Recommendations[0], "usual is preferred over treated when c_drug is above")
	assert.Contains(t, multi.Recommendations[1], "does not change the decision")

	_, err = NewDefaultSolver(nil).SolveAll(context.Background(), m, nil)
	assert.Error(t, err)
}

func TestTableFormatter(t *testing.T) {
	m := createTwoStrategyModel(t)
	solver := NewDefaultSolver(nil)
	res, err := solver.Solve(context.Background(), m, netBenefitRequest())
	require.NoError(t, err)

	tf := &TableFormatter{}
	out := tf.Format(res)
	assert.Contains(t, out, "THRESHOLD ANALYSIS")
	assert.Contains(t, out, "treated vs usual")
	assert.Contains(t, out, "net_benefit at $500.00 per unit of effect")
	assert.Contains(t, out, "✓ Threshold found")
	assert.Contains(t, out, "Threshold:           c_drug = ")

	points, err := solver.Sweep(context.Background(), m, netBenefitRequest(), 3)
	require.NoError(t, err)
	assert.Contains(t, tf.FormatSweep(netBenefitRequest(), points), "SWEEP: c_drug")

	assert.Equal(t, "-$12.50", tf.formatCurrency(-12.5))

	data, err := (&JSONFormatter{}).Format(res)
	require.NoError(t, err)
	assert.Contains(t, data, `"parameter":"c_drug"`)
	assert.Contains(t, data, `"success":true`)
}
