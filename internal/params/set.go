package params

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/domain"
)

// Set is an immutable collection of parameters with a precomputed evaluation
// order. Building a Set validates the dependency graph, so a cyclic or
// dangling definition fails before any simulation starts.
type Set struct {
	params map[string]Parameter
	decl   []string // declaration order
	order  []string // topological order
}

// NewSet validates the parameters and orders them for evaluation.
func NewSet(parameters ...Parameter) (*Set, error) {
	s := &Set{params: make(map[string]Parameter, len(parameters))}
	for _, p := range parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter name cannot be empty")
		}
		if p.Eval == nil {
			return nil, fmt.Errorf("parameter %s has no formula", p.Name)
		}
		if _, dup := s.params[p.Name]; dup {
			return nil, fmt.Errorf("parameter %s defined more than once", p.Name)
		}
		s.params[p.Name] = p
		s.decl = append(s.decl, p.Name)
	}

	order, err := topologicalOrder(s.params, s.decl)
	if err != nil {
		return nil, err
	}
	s.order = order
	return s, nil
}

// topologicalOrder runs a depth-first search in declaration order so that the
// result is deterministic. A back edge means a cycle; the reported path
// starts and ends at the same parameter.
func topologicalOrder(params map[string]Parameter, decl []string) ([]string, error) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(params))
	order := make([]string, 0, len(params))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case inProgress:
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
					break
				}
			}
			path := append(append([]string(nil), stack[start:]...), name)
			return domain.NewModelError(domain.ErrCyclicParameterDependency, name, strings.Join(path, " -> "), nil)
		}

		state[name] = inProgress
		stack = append(stack, name)
		for _, dep := range params[name].DependsOn {
			if _, ok := params[dep]; !ok {
				return domain.NewModelError(domain.ErrUnknownParameter, dep, "required by "+name, nil)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range decl {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Names returns parameter names in evaluation order.
func (s *Set) Names() []string { return append([]string(nil), s.order...) }

// Len returns the number of parameters.
func (s *Set) Len() int { return len(s.order) }

// Has reports whether name is defined.
func (s *Set) Has(name string) bool {
	_, ok := s.params[name]
	return ok
}

// Parameter returns the definition of name.
func (s *Set) Parameter(name string) (Parameter, bool) {
	p, ok := s.params[name]
	return p, ok
}

// Resolve evaluates every parameter for the given cycle. It keeps no state
// between calls.
func (s *Set) Resolve(cycle int) (Snapshot, error) {
	values := make(map[string]float64, len(s.order))
	snap := Snapshot{cycle: cycle, values: values}
	for _, name := range s.order {
		p := s.params[name]
		v, err := p.Eval(snap.restrictTo(name, p.DependsOn))
		if err != nil {
			return Snapshot{}, fmt.Errorf("cycle %d: parameter %s: %w", cycle, name, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Snapshot{}, fmt.Errorf("cycle %d: parameter %s evaluated to %g", cycle, name, v)
		}
		values[name] = v
	}
	return snap, nil
}

// Override returns a new Set where each named parameter is replaced by a
// constant. Unknown names are rejected.
func (s *Set) Override(values map[string]float64) (*Set, error) {
	if len(values) == 0 {
		return s, nil
	}
	replacements := make([]Parameter, 0, len(values))
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !s.Has(name) {
			return nil, domain.NewModelError(domain.ErrUnknownParameter, name, "cannot override", nil)
		}
		replacements = append(replacements, Constant(name, values[name]))
	}
	return s.With(replacements...)
}

// With returns a new Set where parameters with matching names are replaced
// and new names are appended.
func (s *Set) With(parameters ...Parameter) (*Set, error) {
	replaced := make(map[string]Parameter, len(parameters))
	for _, p := range parameters {
		replaced[p.Name] = p
	}
	merged := make([]Parameter, 0, len(s.decl)+len(parameters))
	for _, name := range s.decl {
		if p, ok := replaced[name]; ok {
			merged = append(merged, p)
			delete(replaced, name)
			continue
		}
		merged = append(merged, s.params[name])
	}
	for _, p := range parameters {
		if q, pending := replaced[p.Name]; pending {
			merged = append(merged, q)
			delete(replaced, p.Name)
		}
	}
	return NewSet(merged...)
}
