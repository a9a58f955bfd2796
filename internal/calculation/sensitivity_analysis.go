package calculation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
)

// Variation is one parameter swept to a low and a high value.
type Variation struct {
	Parameter string  `yaml:"parameter" json:"parameter"`
	Low       float64 `yaml:"low" json:"low"`
	High      float64 `yaml:"high" json:"high"`
}

// StrategyTotals pairs a strategy with its discounted totals.
type StrategyTotals struct {
	Strategy string  `json:"strategy"`
	Cost     float64 `json:"cost"`
	Effect   float64 `json:"effect"`
}

// SensitivityResult holds the outcome of one variation.
type SensitivityResult struct {
	Parameter    string           `json:"parameter"`
	Low          float64          `json:"low"`
	High         float64          `json:"high"`
	LowTotals    []StrategyTotals `json:"lowTotals"`
	HighTotals   []StrategyTotals `json:"highTotals"`
	CostSpread   float64          `json:"costSpread"`
	EffectSpread float64          `json:"effectSpread"`
}

// SensitivityAnalysis is a complete one-way deterministic analysis, with
// results sorted by decreasing cost spread (tornado order).
type SensitivityAnalysis struct {
	Base    []StrategyTotals    `json:"base"`
	Results []SensitivityResult `json:"results"`
}

// SensitivityAnalyzer performs one-way parameter sweeps.
type SensitivityAnalyzer struct {
	calculationEngine *CalculationEngine
}

// NewSensitivityAnalyzer creates a new sensitivity analyzer
func NewSensitivityAnalyzer(engine *CalculationEngine) *SensitivityAnalyzer {
	if engine == nil {
		engine = NewCalculationEngine()
	}
	return &SensitivityAnalyzer{calculationEngine: engine}
}

// Analyze runs the base case and then every variation at its low and high
// value, all strategies each time.
func (sa *SensitivityAnalyzer) Analyze(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	opts Options,
	variations []Variation,
) (*SensitivityAnalysis, error) {
	for _, v := range variations {
		if !set.Has(v.Parameter) {
			return nil, domain.NewModelError(domain.ErrUnknownParameter, v.Parameter, "cannot vary", nil)
		}
	}

	base, err := sa.runTotals(ctx, set, strategies, init, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to run base case: %w", err)
	}

	results := make([]SensitivityResult, 0, len(variations))
	for _, v := range variations {
		low, err := sa.runOverride(ctx, set, strategies, init, opts, v.Parameter, v.Low)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s=%g: %w", v.Parameter, v.Low, err)
		}
		high, err := sa.runOverride(ctx, set, strategies, init, opts, v.Parameter, v.High)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s=%g: %w", v.Parameter, v.High, err)
		}

		result := SensitivityResult{
			Parameter:  v.Parameter,
			Low:        v.Low,
			High:       v.High,
			LowTotals:  low,
			HighTotals: high,
		}
		for i := range low {
			result.CostSpread = math.Max(result.CostSpread, math.Abs(high[i].Cost-low[i].Cost))
			result.EffectSpread = math.Max(result.EffectSpread, math.Abs(high[i].Effect-low[i].Effect))
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CostSpread > results[j].CostSpread
	})

	return &SensitivityAnalysis{Base: base, Results: results}, nil
}

func (sa *SensitivityAnalyzer) runOverride(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	opts Options,
	name string,
	value float64,
) ([]StrategyTotals, error) {
	modified, err := set.Override(map[string]float64{name: value})
	if err != nil {
		return nil, err
	}
	return sa.runTotals(ctx, modified, strategies, init, opts)
}

func (sa *SensitivityAnalyzer) runTotals(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	opts Options,
) ([]StrategyTotals, error) {
	results, err := sa.calculationEngine.RunStrategies(ctx, set, strategies, init, opts)
	if err != nil {
		return nil, err
	}
	totals := make([]StrategyTotals, len(results))
	for i, r := range results {
		t := r.Totals()
		totals[i] = StrategyTotals{Strategy: r.Strategy(), Cost: t.Cost, Effect: t.Utility}
	}
	return totals, nil
}
