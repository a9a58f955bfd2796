package psa

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// Distribution summarizes one outcome across successful draws.
type Distribution struct {
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Lower  float64 `json:"p2_5"`
	Median float64 `json:"median"`
	Upper  float64 `json:"p97_5"`
}

// StrategySummary is the cost and effect distribution of one strategy.
type StrategySummary struct {
	Strategy string       `json:"strategy"`
	Cost     Distribution `json:"cost"`
	Effect   Distribution `json:"effect"`
}

func (r *Run) strategyIndex(name string) (int, error) {
	for i, s := range r.Strategies {
		if s == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("strategy %q not in run", name)
}

// outcomes returns per-draw total cost and effect for strategy k.
func (r *Run) outcomes(k int) (costs, effects []float64) {
	for _, d := range r.Draws {
		if d.Failed() || k >= len(d.Results) {
			continue
		}
		t := d.Results[k].Totals()
		costs = append(costs, t.Cost)
		effects = append(effects, t.Utility)
	}
	return costs, effects
}

func describe(data stats.Float64Data) (Distribution, error) {
	var d Distribution
	var err error
	if d.Mean, err = stats.Mean(data); err != nil {
		return d, err
	}
	if len(data) > 1 {
		if d.SD, err = stats.StandardDeviationSample(data); err != nil {
			return d, err
		}
	}
	if d.Lower, err = stats.PercentileNearestRank(data, 2.5); err != nil {
		return d, err
	}
	if d.Median, err = stats.Median(data); err != nil {
		return d, err
	}
	if d.Upper, err = stats.PercentileNearestRank(data, 97.5); err != nil {
		return d, err
	}
	return d, nil
}

// Summary reports mean, sample sd, median and nearest-rank 2.5/97.5
// percentiles of total cost and effect per strategy over successful draws.
func (r *Run) Summary() ([]StrategySummary, error) {
	out := make([]StrategySummary, 0, len(r.Strategies))
	for k, name := range r.Strategies {
		costs, effects := r.outcomes(k)
		if len(costs) == 0 {
			return nil, fmt.Errorf("strategy %s: no successful draws", name)
		}
		c, err := describe(costs)
		if err != nil {
			return nil, fmt.Errorf("strategy %s cost: %w", name, err)
		}
		e, err := describe(effects)
		if err != nil {
			return nil, fmt.Errorf("strategy %s effect: %w", name, err)
		}
		out = append(out, StrategySummary{Strategy: name, Cost: c, Effect: e})
	}
	return out, nil
}

// IncrementalPair is the comparator minus reference outcome of one draw.
type IncrementalPair struct {
	Draw   int     `json:"draw"`
	Cost   float64 `json:"cost"`
	Effect float64 `json:"effect"`
}

// Interpretation classifies an incremental comparison.
type Interpretation string

const (
	Dominant  Interpretation = "dominant"  // cheaper or equal cost, more effective
	Dominated Interpretation = "dominated" // costlier or equal cost, less effective
	Ratio     Interpretation = "ratio"
	Undefined Interpretation = "undefined" // no effect difference
)

// ICERResult is the incremental cost-effectiveness of comparator versus
// reference. ICER is nil when the effect difference is zero.
type ICERResult struct {
	Reference         string            `json:"reference"`
	Comparator        string            `json:"comparator"`
	IncrementalCost   float64           `json:"incremental_cost"`
	IncrementalEffect float64           `json:"incremental_effect"`
	ICER              *float64          `json:"icer,omitempty"`
	Interpretation    Interpretation    `json:"interpretation"`
	Pairs             []IncrementalPair `json:"pairs,omitempty"`
}

// Classify interprets an incremental cost and effect.
func Classify(dCost, dEffect float64) Interpretation {
	switch {
	case dEffect > 0 && dCost <= 0:
		return Dominant
	case dEffect < 0 && dCost >= 0:
		return Dominated
	case dEffect == 0:
		return Undefined
	default:
		return Ratio
	}
}

// ICER computes the ratio of mean incremental cost to mean incremental
// effect over draws where both strategies succeeded.
func (r *Run) ICER(reference, comparator string) (*ICERResult, error) {
	ri, err := r.strategyIndex(reference)
	if err != nil {
		return nil, err
	}
	ci, err := r.strategyIndex(comparator)
	if err != nil {
		return nil, err
	}
	res := &ICERResult{Reference: reference, Comparator: comparator}
	for _, d := range r.Draws {
		if d.Failed() {
			continue
		}
		ref, cmp := d.Results[ri].Totals(), d.Results[ci].Totals()
		res.Pairs = append(res.Pairs, IncrementalPair{
			Draw:   d.Index,
			Cost:   cmp.Cost - ref.Cost,
			Effect: cmp.Utility - ref.Utility,
		})
	}
	if len(res.Pairs) == 0 {
		return nil, fmt.Errorf("no successful draws")
	}
	for _, p := range res.Pairs {
		res.IncrementalCost += p.Cost
		res.IncrementalEffect += p.Effect
	}
	n := float64(len(res.Pairs))
	res.IncrementalCost /= n
	res.IncrementalEffect /= n
	res.Interpretation = Classify(res.IncrementalCost, res.IncrementalEffect)
	if res.IncrementalEffect != 0 {
		icer := res.IncrementalCost / res.IncrementalEffect
		res.ICER = &icer
	}
	return res, nil
}

// CEACPoint holds, for one willingness-to-pay value, the probability that
// each strategy is optimal. Probabilities follow Run.Strategies order.
type CEACPoint struct {
	Lambda        float64   `json:"lambda"`
	Probabilities []float64 `json:"probabilities"`
}

// netBenefits returns per successful draw the net monetary benefit of every
// strategy at lambda.
func (r *Run) netBenefits(lambda float64) [][]float64 {
	var out [][]float64
	for _, d := range r.Draws {
		if d.Failed() {
			continue
		}
		row := make([]float64, len(d.Results))
		for k, res := range d.Results {
			t := res.Totals()
			row[k] = lambda*t.Utility - t.Cost
		}
		out = append(out, row)
	}
	return out
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

// CEAC returns the cost-effectiveness acceptability curve: at each lambda
// the fraction of successful draws in which each strategy has the highest
// net monetary benefit. Ties go to the earlier strategy.
func (r *Run) CEAC(lambdas []float64) ([]CEACPoint, error) {
	if len(lambdas) == 0 {
		return nil, fmt.Errorf("no willingness-to-pay values")
	}
	points := make([]CEACPoint, 0, len(lambdas))
	for _, l := range lambdas {
		nb := r.netBenefits(l)
		if len(nb) == 0 {
			return nil, fmt.Errorf("no successful draws")
		}
		p := CEACPoint{Lambda: l, Probabilities: make([]float64, len(r.Strategies))}
		for _, row := range nb {
			p.Probabilities[argmax(row)]++
		}
		for k := range p.Probabilities {
			p.Probabilities[k] /= float64(len(nb))
		}
		points = append(points, p)
	}
	return points, nil
}

// EVPIPoint is the expected value of perfect information at one lambda.
type EVPIPoint struct {
	Lambda float64 `json:"lambda"`
	EVPI   float64 `json:"evpi"`
}

// EVPI returns, per lambda, the mean of the per-draw maximum net benefit
// minus the maximum of the mean net benefits.
func (r *Run) EVPI(lambdas []float64) ([]EVPIPoint, error) {
	out := make([]EVPIPoint, 0, len(lambdas))
	for _, l := range lambdas {
		nb := r.netBenefits(l)
		if len(nb) == 0 {
			return nil, fmt.Errorf("no successful draws")
		}
		means := make([]float64, len(r.Strategies))
		var perfect float64
		for _, row := range nb {
			perfect += row[argmax(row)]
			for k, v := range row {
				means[k] += v
			}
		}
		n := float64(len(nb))
		perfect /= n
		for k := range means {
			means[k] /= n
		}
		out = append(out, EVPIPoint{Lambda: l, EVPI: math.Max(0, perfect-means[argmax(means)])})
	}
	return out, nil
}

// LambdaGrid returns n willingness-to-pay values from min to max inclusive,
// evenly spaced on a linear or logarithmic scale.
func LambdaGrid(min, max float64, n int, log bool) ([]float64, error) {
	switch {
	case n < 1:
		return nil, fmt.Errorf("grid needs at least one point, got %d", n)
	case min < 0 || max < min:
		return nil, fmt.Errorf("invalid grid range [%g, %g]", min, max)
	case log && min <= 0:
		return nil, fmt.Errorf("log-scale grid needs a positive minimum, got %g", min)
	}
	if n == 1 {
		return []float64{min}, nil
	}
	grid := make([]float64, n)
	for i := range grid {
		f := float64(i) / float64(n-1)
		if log {
			grid[i] = math.Exp(math.Log(min) + f*(math.Log(max)-math.Log(min)))
		} else {
			grid[i] = min + f*(max-min)
		}
	}
	grid[n-1] = max
	return grid, nil
}
