// Package psa runs probabilistic sensitivity analysis: every draw resamples
// the uncertain parameters and re-simulates all strategies with them.
package psa

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
)

// Spec binds a parameter to a named distribution family.
type Spec struct {
	Parameter string             `yaml:"parameter" json:"parameter"`
	Family    string             `yaml:"distribution" json:"distribution"`
	Args      map[string]float64 `yaml:"args" json:"args"`
}

// Binding is a parameter with its resolved sampler.
type Binding struct {
	Parameter string
	Sampler   Sampler
}

// Config holds the run settings of a PSA batch.
type Config struct {
	Seed            uint64
	Workers         int  // <= 0 means GOMAXPROCS
	ContinueOnError bool // record failed draws instead of aborting
}

// Progress is reported after every completed draw.
type Progress struct {
	Index  int
	Done   int
	Total  int
	Failed int
	Err    error
}

// Draw is the outcome of one resampling. Results follow strategy order.
type Draw struct {
	Index   int
	Values  map[string]float64
	Results []*domain.SimulationResult
	Err     error
}

// Failed reports whether the draw produced no results.
func (d Draw) Failed() bool { return d.Err != nil }

// Run collects the draws of one PSA batch in draw order.
type Run struct {
	Strategies []string
	Parameters []string
	Seed       uint64
	Draws      []Draw
	Failed     int
}

// Successful returns the draws that completed.
func (r *Run) Successful() []Draw {
	out := make([]Draw, 0, len(r.Draws)-r.Failed)
	for _, d := range r.Draws {
		if !d.Failed() {
			out = append(out, d)
		}
	}
	return out
}

// Engine resamples parameters and drives the cohort simulator once per draw.
type Engine struct {
	calc     *calculation.CalculationEngine
	opts     calculation.Options
	config   Config
	bindings []Binding

	Logger calculation.Logger
	// OnDraw is called after each draw. Calls are serialized.
	OnDraw func(Progress)
}

// NewEngine creates a PSA engine around a simulator and fixed run options.
func NewEngine(calc *calculation.CalculationEngine, opts calculation.Options, cfg Config) *Engine {
	if calc == nil {
		calc = calculation.NewCalculationEngine()
	}
	return &Engine{calc: calc, opts: opts, config: cfg, Logger: calculation.NopLogger{}}
}

// Config returns the engine's run settings.
func (e *Engine) Config() Config { return e.config }

// Define binds parameters to distributions. Every sampler is built here, so
// invalid distribution arguments fail before any draw runs.
func (e *Engine) Define(specs ...Spec) error {
	bound := make(map[string]bool, len(e.bindings)+len(specs))
	for _, b := range e.bindings {
		bound[b.Parameter] = true
	}
	added := make([]Binding, 0, len(specs))
	for _, s := range specs {
		if s.Parameter == "" {
			return fmt.Errorf("distribution %s: parameter name is required", s.Family)
		}
		if bound[s.Parameter] {
			return fmt.Errorf("parameter %s: distribution already defined", s.Parameter)
		}
		sampler, err := NewSampler(s.Family, s.Args)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", s.Parameter, err)
		}
		bound[s.Parameter] = true
		added = append(added, Binding{Parameter: s.Parameter, Sampler: sampler})
	}
	e.bindings = append(e.bindings, added...)
	sort.Slice(e.bindings, func(i, j int) bool { return e.bindings[i].Parameter < e.bindings[j].Parameter })
	return nil
}

// Bind attaches an already constructed sampler.
func (e *Engine) Bind(parameter string, sampler Sampler) error {
	if sampler == nil {
		return fmt.Errorf("parameter %s: nil sampler", parameter)
	}
	for _, b := range e.bindings {
		if b.Parameter == parameter {
			return fmt.Errorf("parameter %s: distribution already defined", parameter)
		}
	}
	e.bindings = append(e.bindings, Binding{Parameter: parameter, Sampler: sampler})
	sort.Slice(e.bindings, func(i, j int) bool { return e.bindings[i].Parameter < e.bindings[j].Parameter })
	return nil
}

// Bindings returns the bound parameters in sampling order.
func (e *Engine) Bindings() []Binding {
	return append([]Binding(nil), e.bindings...)
}

// Sample draws one value per bound parameter for the given draw index. The
// result depends only on the seed, the index and the bindings.
func (e *Engine) Sample(index int) map[string]float64 {
	src := rand.NewPCG(e.config.Seed, uint64(index))
	values := make(map[string]float64, len(e.bindings))
	for _, b := range e.bindings {
		values[b.Parameter] = b.Sampler.Draw(src)
	}
	return values
}

func (e *Engine) logger() calculation.Logger {
	if e.Logger == nil {
		return calculation.NopLogger{}
	}
	return e.Logger
}

// Run performs n draws. Each draw simulates every strategy with the same
// sampled values. Draws run on a bounded worker pool; results are identical
// for any worker count.
func (e *Engine) Run(
	ctx context.Context,
	strategies []*strategy.Strategy,
	base *params.Set,
	init domain.CohortVector,
	n int,
) (*Run, error) {
	if n <= 0 {
		return nil, fmt.Errorf("number of draws must be positive, got %d", n)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies to run")
	}
	if err := e.opts.Validate(); err != nil {
		return nil, err
	}
	for _, s := range strategies {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
	}
	if err := init.Validate(); err != nil {
		return nil, err
	}
	names := make([]string, len(e.bindings))
	for i, b := range e.bindings {
		if !base.Has(b.Parameter) {
			return nil, domain.NewModelError(domain.ErrUnknownParameter, b.Parameter,
				"distribution bound to a parameter the model does not declare", nil)
		}
		names[i] = b.Parameter
	}

	workers := e.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e.logger().Infof("psa: %d draws, %d strategies, %d sampled parameters, %d workers, seed %d",
		n, len(strategies), len(e.bindings), workers, e.config.Seed)

	run := &Run{
		Strategies: strategy.Names(strategies),
		Parameters: names,
		Seed:       e.config.Seed,
		Draws:      make([]Draw, n),
	}

	var (
		mu     sync.Mutex
		done   int
		failed int
	)
	report := func(i int, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err != nil {
			failed++
		}
		if e.OnDraw != nil {
			e.OnDraw(Progress{Index: i, Done: done, Total: n, Failed: failed, Err: err})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d := e.draw(gctx, i, strategies, base, init)
			if d.Err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !e.config.ContinueOnError {
					return fmt.Errorf("draw %d: %w", i, d.Err)
				}
				e.logger().Warnf("psa: draw %d failed: %v", i, d.Err)
			}
			run.Draws[i] = d
			report(i, d.Err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run.Failed = failed
	if run.Failed == n {
		return run, fmt.Errorf("all %d draws failed: %w", n, firstError(run.Draws))
	}
	e.logger().Infof("psa: completed %d draws (%d failed)", n, run.Failed)
	return run, nil
}

func (e *Engine) draw(
	ctx context.Context,
	i int,
	strategies []*strategy.Strategy,
	base *params.Set,
	init domain.CohortVector,
) Draw {
	d := Draw{Index: i, Values: e.Sample(i)}
	set, err := base.Override(d.Values)
	if err != nil {
		d.Err = err
		return d
	}
	d.Results = make([]*domain.SimulationResult, 0, len(strategies))
	for _, s := range strategies {
		r, err := e.calc.Run(ctx, set, s, init, e.opts)
		if err != nil {
			d.Results = nil
			d.Err = err
			return d
		}
		d.Results = append(d.Results, r)
	}
	return d
}

func firstError(draws []Draw) error {
	for _, d := range draws {
		if d.Err != nil {
			return d.Err
		}
	}
	return nil
}
