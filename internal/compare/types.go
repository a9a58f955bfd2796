package compare

import (
	"fmt"
	"sort"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/shopspring/decimal"
)

// Dominance marks strategies excluded from the efficiency frontier.
type Dominance string

const (
	NotDominated        Dominance = ""
	StrictlyDominated   Dominance = "dominated"
	ExtendedlyDominated Dominance = "extended"
)

// ComparisonResult represents one strategy's outcome with incremental metrics
type ComparisonResult struct {
	Strategy    string                   `json:"strategy"`
	Description string                   `json:"description,omitempty"`
	Result      *domain.SimulationResult `json:"-"`

	// Key Metrics
	Cost   decimal.Decimal `json:"cost"`
	Effect float64         `json:"effect"`

	// Comparison to the previous strategy on the frontier
	Versus            string           `json:"versus,omitempty"`
	IncrementalCost   decimal.Decimal  `json:"incrementalCost"`
	IncrementalEffect float64          `json:"incrementalEffect"`
	ICER              *decimal.Decimal `json:"icer,omitempty"`
	Dominance         Dominance        `json:"dominance,omitempty"`
	DominatedBy       string           `json:"dominatedBy,omitempty"`
}

// OnFrontier reports whether the strategy is on the efficiency frontier.
func (r ComparisonResult) OnFrontier() bool { return r.Dominance == NotDominated }

// ComparisonSet represents a cost-ordered set of strategy results
type ComparisonSet struct {
	Scenario         string             `json:"scenario,omitempty"`
	Reference        string             `json:"reference"`
	Results          []ComparisonResult `json:"results"`
	Frontier         []string           `json:"frontier"`
	WillingnessToPay *decimal.Decimal   `json:"willingnessToPay,omitempty"`
	Optimal          string             `json:"optimal,omitempty"`
	Recommendations  []string           `json:"recommendations"`
	ConfigPath       string             `json:"configPath,omitempty"`
}

// Result returns the comparison entry for a strategy.
func (cs *ComparisonSet) Result(name string) (*ComparisonResult, bool) {
	for i := range cs.Results {
		if cs.Results[i].Strategy == name {
			return &cs.Results[i], true
		}
	}
	return nil, false
}

// MetricsCalculator extracts key metrics from simulation results
type MetricsCalculator struct{}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// CalculateMetrics computes the totals of one simulation result
func (mc *MetricsCalculator) CalculateMetrics(result *domain.SimulationResult) ComparisonResult {
	totals := result.Totals()
	return ComparisonResult{
		Strategy: result.Strategy(),
		Result:   result,
		Cost:     decimal.NewFromFloat(totals.Cost),
		Effect:   totals.Utility,
	}
}

// CalculateComparison fills the incremental metrics of scenario against base
func (mc *MetricsCalculator) CalculateComparison(scenario, base ComparisonResult) ComparisonResult {
	scenario.Versus = base.Strategy
	scenario.IncrementalCost = scenario.Cost.Sub(base.Cost)
	scenario.IncrementalEffect = scenario.Effect - base.Effect
	scenario.ICER = nil
	if scenario.IncrementalEffect != 0 {
		icer := scenario.IncrementalCost.Div(decimal.NewFromFloat(scenario.IncrementalEffect))
		scenario.ICER = &icer
	}
	return scenario
}

// BuildComparison orders results by cost (ties: more effective first),
// marks strict and extended dominance, and computes incremental values of
// each frontier strategy against the previous frontier strategy. Dominated
// strategies are compared against the frontier strategy preceding them.
func (mc *MetricsCalculator) BuildComparison(results []ComparisonResult) *ComparisonSet {
	ordered := append([]ComparisonResult(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if c := ordered[i].Cost.Cmp(ordered[j].Cost); c != 0 {
			return c < 0
		}
		return ordered[i].Effect > ordered[j].Effect
	})
	for i := range ordered {
		ordered[i].Dominance = NotDominated
		ordered[i].DominatedBy = ""
	}

	// Strict dominance: some other strategy costs no more and is at least as
	// effective. Ordering by cost means only earlier entries can dominate.
	for i := range ordered {
		for j := 0; j < i; j++ {
			if ordered[j].Effect >= ordered[i].Effect && ordered[j].Dominance == NotDominated {
				ordered[i].Dominance = StrictlyDominated
				ordered[i].DominatedBy = ordered[j].Strategy
				break
			}
		}
	}

	// Extended dominance: drop frontier points whose ICER exceeds the next
	// point's ICER until ICERs increase along the frontier.
	for {
		frontier := frontierIndexes(ordered)
		removed := false
		for k := 1; k+1 < len(frontier); k++ {
			a, b, c := ordered[frontier[k-1]], ordered[frontier[k]], ordered[frontier[k+1]]
			if icerOf(a, b).GreaterThan(icerOf(b, c)) {
				ordered[frontier[k]].Dominance = ExtendedlyDominated
				ordered[frontier[k]].DominatedBy = fmt.Sprintf("%s and %s", a.Strategy, c.Strategy)
				removed = true
				break
			}
		}
		if !removed {
			break
		}
	}

	cs := &ComparisonSet{Results: ordered}
	prev := -1
	for i := range ordered {
		if prev >= 0 {
			ordered[i] = mc.CalculateComparison(ordered[i], ordered[prev])
		}
		if ordered[i].OnFrontier() {
			if prev < 0 {
				cs.Reference = ordered[i].Strategy
			}
			cs.Frontier = append(cs.Frontier, ordered[i].Strategy)
			prev = i
		}
	}
	return cs
}

func frontierIndexes(results []ComparisonResult) []int {
	var idx []int
	for i, r := range results {
		if r.OnFrontier() {
			idx = append(idx, i)
		}
	}
	return idx
}

func icerOf(from, to ComparisonResult) decimal.Decimal {
	dEffect := to.Effect - from.Effect
	return to.Cost.Sub(from.Cost).Div(decimal.NewFromFloat(dEffect))
}

// OptimalStrategy returns the frontier strategy with the largest ICER not
// above the willingness to pay.
func OptimalStrategy(cs *ComparisonSet, wtp decimal.Decimal) string {
	optimal := cs.Reference
	for _, r := range cs.Results {
		if !r.OnFrontier() || r.ICER == nil {
			continue
		}
		if r.ICER.LessThanOrEqual(wtp) {
			optimal = r.Strategy
		}
	}
	return optimal
}

// GenerateRecommendations creates recommendations based on comparison results
func GenerateRecommendations(compSet *ComparisonSet) []string {
	recommendations := []string{}

	if len(compSet.Results) < 2 {
		return recommendations
	}

	for _, r := range compSet.Results {
		switch r.Dominance {
		case StrictlyDominated:
			recommendations = append(recommendations,
				"Dominated: "+r.Strategy+" costs more than "+r.DominatedBy+" and is no more effective")
		case ExtendedlyDominated:
			recommendations = append(recommendations,
				"Extended Dominance: "+r.Strategy+" is less efficient than a mix of "+r.DominatedBy)
		default:
			if r.ICER != nil {
				recommendations = append(recommendations,
					fmt.Sprintf("ICER: %s versus %s costs $%s per unit of effect gained",
						r.Strategy, r.Versus, r.ICER.StringFixed(2)))
			}
		}
	}

	if compSet.WillingnessToPay != nil && compSet.Optimal != "" {
		recommendations = append(recommendations,
			"Optimal: "+compSet.Optimal+" at a willingness to pay of $"+compSet.WillingnessToPay.StringFixed(0))
	}

	return recommendations
}
