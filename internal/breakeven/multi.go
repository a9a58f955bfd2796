package breakeven

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Sweep evaluates the incremental outcome at evenly spaced values of the
// request's parameter, Min and Max included. Points come back in value order.
func (s *Solver) Sweep(ctx context.Context, m Model, req Request, points int) ([]Point, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if points == 0 {
		points = s.Options.GridResolution
	}
	if points < 2 {
		return nil, &BreakEvenError{Operation: "sweep", Message: fmt.Sprintf("need at least 2 points, got %d", points)}
	}
	pair, err := m.pair(req)
	if err != nil {
		return nil, err
	}

	out := make([]Point, points)
	step := (req.Max - req.Min) / float64(points-1)
	g, gctx := errgroup.WithContext(ctx)
	if s.Options.Workers > 0 {
		g.SetLimit(s.Options.Workers)
	}
	for i := range out {
		v := req.Min + float64(i)*step
		if i == points-1 {
			v = req.Max
		}
		g.Go(func() error {
			p, _, err := s.evaluate(gctx, m, pair, req, v)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SolveAll runs one search per request and orders the results so that
// bracketed thresholds come first, closest to their range's lower bound.
func (s *Solver) SolveAll(ctx context.Context, m Model, reqs []Request) (*MultiResult, error) {
	if len(reqs) == 0 {
		return nil, &BreakEvenError{Operation: "solve_all", Message: "no requests"}
	}
	multi := &MultiResult{Results: make([]Result, 0, len(reqs))}
	for _, req := range reqs {
		res, err := s.Solve(ctx, m, req)
		if err != nil {
			return nil, &BreakEvenError{Operation: "solve_all", Message: req.Parameter, Cause: err}
		}
		multi.Results = append(multi.Results, *res)
	}
	sort.SliceStable(multi.Results, func(i, j int) bool {
		a, b := multi.Results[i], multi.Results[j]
		if a.Bracketed != b.Bracketed {
			return a.Bracketed
		}
		return a.relativePosition() < b.relativePosition()
	})
	multi.Recommendations = generateRecommendations(multi)
	return multi, nil
}

// relativePosition places the threshold within its range on [0, 1].
func (r Result) relativePosition() float64 {
	if r.Threshold == nil {
		return 2
	}
	return (*r.Threshold - r.Request.Min) / (r.Request.Max - r.Request.Min)
}

func generateRecommendations(multi *MultiResult) []string {
	var recs []string
	for _, r := range multi.Results {
		req := r.Request
		if r.Threshold == nil {
			recs = append(recs, fmt.Sprintf("%s does not change the decision between %g and %g", req.Parameter, req.Min, req.Max))
			continue
		}
		winner, loser := req.Reference, req.Comparator
		if r.FavoursComparatorAbove {
			winner, loser = req.Comparator, req.Reference
		}
		recs = append(recs, fmt.Sprintf("%s is preferred over %s when %s is above %.6g", winner, loser, req.Parameter, *r.Threshold))
	}
	bracketed := 0
	for _, r := range multi.Results {
		if r.Bracketed {
			bracketed++
		}
	}
	if bracketed == 0 {
		recs = append(recs, "The decision is robust to every parameter range searched")
	}
	return recs
}
