package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/lookup"
	"github.com/rgehrsitz/cohortsim/internal/params"
)

// CycleVariable is the name formulas use for the zero-based cycle index.
const CycleVariable = "cycle"

// mathFunctions are available in every formula next to expr's builtins.
var mathFunctions = map[string]any{
	"exp":  math.Exp,
	"log":  math.Log,
	"sqrt": math.Sqrt,
	"pow":  math.Pow,
	// rate_to_prob converts a constant rate over duration t to a probability.
	"rate_to_prob": func(rate, t float64) float64 { return 1 - math.Exp(-rate*t) },
	"prob_to_rate": func(p, t float64) float64 { return -math.Log(1-p) / t },
}

// lookupFunction is the name of the table accessor: lookup(table, key, column).
const lookupFunction = "lookup"

// IsReserved reports whether name is used by the formula language itself
// or collides with the transition complement marker.
func IsReserved(name string) bool {
	return builtin(name) || strings.EqualFold(name, ComplementMarker)
}

func builtin(name string) bool {
	if name == CycleVariable || name == lookupFunction {
		return true
	}
	_, ok := mathFunctions[name]
	return ok
}

// Formula is a compiled arithmetic expression over the cycle index,
// parameter values and lookup tables.
type Formula struct {
	Source  string
	Deps    []string
	program *vm.Program
	tables  map[string]*lookup.Table
}

type identCollector struct {
	idents  map[string]bool
	callees map[string]bool
}

func (c *identCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents[n.Value] = true
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.callees[id.Value] = true
		}
	}
}

// Dependencies returns the parameter names referenced by src, sorted.
func Dependencies(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	c := &identCollector{idents: map[string]bool{}, callees: map[string]bool{}}
	ast.Walk(&tree.Node, c)
	var deps []string
	for name := range c.idents {
		if c.callees[name] || builtin(name) {
			continue
		}
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps, nil
}

// CompileFormula parses and type-checks src. tables are the lookup tables
// the formula may reference by name.
func CompileFormula(src string, tables map[string]*lookup.Table) (*Formula, error) {
	deps, err := Dependencies(src)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	f := &Formula{Source: src, Deps: deps, tables: tables}
	program, err := expr.Compile(src, expr.Env(f.env(params.NewSnapshot(0, nil), nil)), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	f.program = program
	return f, nil
}

// env builds the evaluation environment. Dependencies missing from the
// snapshot evaluate to zero; callers use it only for type checking.
func (f *Formula) env(s params.Snapshot, lookupErr *error) map[string]any {
	env := make(map[string]any, len(f.Deps)+len(mathFunctions)+2)
	for name, fn := range mathFunctions {
		env[name] = fn
	}
	env[CycleVariable] = float64(s.Cycle())
	for _, d := range f.Deps {
		v, err := s.Get(d)
		if err != nil {
			v = 0
		}
		env[d] = v
	}
	env[lookupFunction] = func(table string, key any, column string) float64 {
		v, err := f.lookup(table, key, column)
		if err != nil && lookupErr != nil && *lookupErr == nil {
			*lookupErr = err
		}
		return v
	}
	return env
}

func (f *Formula) lookup(table string, key any, column string) (float64, error) {
	t, ok := f.tables[table]
	if !ok {
		return 0, domain.NewModelError(domain.ErrKeyNotFound, table, "unknown lookup table", nil)
	}
	var k float64
	switch v := key.(type) {
	case float64:
		k = v
	case int:
		k = float64(v)
	default:
		return 0, fmt.Errorf("lookup %s: key must be numeric, got %T", table, key)
	}
	ik, err := params.IntegerKey(k)
	if err != nil {
		return 0, domain.NewModelError(domain.ErrKeyNotFound, table, err.Error(), nil)
	}
	return t.Lookup(ik, column)
}

// Eval evaluates the formula against a cycle snapshot.
func (f *Formula) Eval(s params.Snapshot) (float64, error) {
	for _, d := range f.Deps {
		if _, err := s.Get(d); err != nil {
			return 0, fmt.Errorf("formula %q: %w", f.Source, err)
		}
	}
	var lookupErr error
	out, err := expr.Run(f.program, f.env(s, &lookupErr))
	if lookupErr != nil {
		return 0, lookupErr
	}
	if err != nil {
		return 0, fmt.Errorf("formula %q: %w", f.Source, err)
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("formula %q: result %v is not a number", f.Source, out)
}
