package params

import (
	"sort"

	"github.com/rgehrsitz/cohortsim/internal/domain"
)

// Snapshot is the immutable set of parameter values for one cycle. It is
// passed explicitly to every per-cycle computation.
type Snapshot struct {
	cycle  int
	values map[string]float64

	// visible restricts Get to a parameter's declared dependencies while it
	// is being resolved. nil means every value is visible.
	visible map[string]struct{}
	owner   string
}

// NewSnapshot builds a snapshot from literal values. Mostly useful in tests
// and for evaluating formulas outside a Set.
func NewSnapshot(cycle int, values map[string]float64) Snapshot {
	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Snapshot{cycle: cycle, values: cp}
}

// Cycle returns the cycle index the snapshot was resolved for.
func (s Snapshot) Cycle() int { return s.cycle }

// Get returns a resolved value.
func (s Snapshot) Get(name string) (float64, error) {
	if s.visible != nil {
		if _, ok := s.visible[name]; !ok {
			return 0, domain.NewModelError(domain.ErrUnknownParameter, name,
				"not a declared dependency of "+s.owner, nil)
		}
	}
	v, ok := s.values[name]
	if !ok {
		return 0, domain.NewModelError(domain.ErrUnknownParameter, name, "", nil)
	}
	return v, nil
}

// Has reports whether name is resolved in the snapshot.
func (s Snapshot) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the resolved parameter names, sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of all resolved values.
func (s Snapshot) Values() map[string]float64 {
	cp := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

func (s Snapshot) restrictTo(owner string, deps []string) Snapshot {
	visible := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		visible[d] = struct{}{}
	}
	return Snapshot{cycle: s.cycle, values: s.values, visible: visible, owner: owner}
}
