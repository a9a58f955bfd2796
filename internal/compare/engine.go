package compare

import (
	"context"
	"fmt"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
	"github.com/rgehrsitz/cohortsim/internal/transform"
	"github.com/shopspring/decimal"
)

// CompareEngine orchestrates strategy comparison
type CompareEngine struct {
	CalcEngine        *calculation.CalculationEngine
	MetricsCalculator *MetricsCalculator
	TemplateRegistry  *transform.TemplateRegistry
}

// NewCompareEngine creates a new comparison engine
func NewCompareEngine(calcEngine *calculation.CalculationEngine) *CompareEngine {
	return &CompareEngine{
		CalcEngine:        calcEngine,
		MetricsCalculator: NewMetricsCalculator(),
		TemplateRegistry:  transform.NewTemplateRegistry(),
	}
}

// CompareOptions configures comparison behavior
type CompareOptions struct {
	Run              calculation.Options
	WillingnessToPay *float64 // optional threshold for picking the optimal strategy
	Templates        []string // scenarios to compare in addition to the base parameters
	ConfigPath       string
}

// Compare runs every strategy on one parameter set and builds the frontier
func (ce *CompareEngine) Compare(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	options CompareOptions,
) (*ComparisonSet, error) {
	results, err := ce.CalcEngine.RunStrategies(ctx, set, strategies, init, options.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to run strategies: %w", err)
	}

	metrics := make([]ComparisonResult, 0, len(results))
	for i, r := range results {
		m := ce.MetricsCalculator.CalculateMetrics(r)
		m.Description = strategies[i].Description
		metrics = append(metrics, m)
	}

	compSet := ce.MetricsCalculator.BuildComparison(metrics)
	compSet.ConfigPath = options.ConfigPath
	if options.WillingnessToPay != nil {
		wtp := decimal.NewFromFloat(*options.WillingnessToPay)
		compSet.WillingnessToPay = &wtp
		compSet.Optimal = OptimalStrategy(compSet, wtp)
	}
	compSet.Recommendations = GenerateRecommendations(compSet)

	return compSet, nil
}

// CompareScenarios runs the comparison on the base parameters and then on
// each named template applied to them. The first set is the base scenario.
func (ce *CompareEngine) CompareScenarios(
	ctx context.Context,
	set *params.Set,
	strategies []*strategy.Strategy,
	init domain.CohortVector,
	options CompareOptions,
) ([]*ComparisonSet, error) {
	base, err := ce.Compare(ctx, set, strategies, init, options)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate base scenario: %w", err)
	}
	base.Scenario = "base"
	sets := []*ComparisonSet{base}

	for _, templateName := range options.Templates {
		template, ok := ce.TemplateRegistry.Get(templateName)
		if !ok {
			return nil, fmt.Errorf("template %s not found", templateName)
		}

		modified, err := template.Apply(set)
		if err != nil {
			return nil, fmt.Errorf("failed to apply template %s: %w", templateName, err)
		}

		alt, err := ce.Compare(ctx, modified, strategies, init, options)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate scenario %s: %w", templateName, err)
		}
		alt.Scenario = template.Name
		sets = append(sets, alt)
	}

	return sets, nil
}
