package params

import (
	"fmt"
	"math"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/lookup"
)

// EvalFunc computes a parameter value. The snapshot only exposes the cycle
// index and the parameter's declared dependencies.
type EvalFunc func(s Snapshot) (float64, error)

// Parameter is a named scalar resolved once per cycle.
type Parameter struct {
	Name        string
	DependsOn   []string
	Eval        EvalFunc
	Description string

	constant *float64
}

// ConstantValue returns the value of a parameter built with Constant.
func (p Parameter) ConstantValue() (float64, bool) {
	if p.constant == nil {
		return 0, false
	}
	return *p.constant, true
}

// Constant returns a parameter with a fixed value.
func Constant(name string, value float64) Parameter {
	v := value
	return Parameter{
		Name:     name,
		Eval:     func(Snapshot) (float64, error) { return v, nil },
		constant: &v,
	}
}

// CycleFunc returns a parameter computed from the cycle index alone.
func CycleFunc(name string, fn func(cycle int) float64) Parameter {
	return Parameter{
		Name: name,
		Eval: func(s Snapshot) (float64, error) { return fn(s.Cycle()), nil },
	}
}

// Derived returns a parameter computed from other parameters of the same cycle.
func Derived(name string, deps []string, fn EvalFunc) Parameter {
	return Parameter{
		Name:      name,
		DependsOn: append([]string(nil), deps...),
		Eval:      fn,
	}
}

// Age returns a parameter equal to the initial age plus the cycle index.
func Age(name, initial string) Parameter {
	return Derived(name, []string{initial}, func(s Snapshot) (float64, error) {
		start, err := s.Get(initial)
		if err != nil {
			return 0, err
		}
		return start + float64(s.Cycle()), nil
	})
}

// Lookup returns a parameter read from table at the integer value of keyParam.
func Lookup(name string, table *lookup.Table, column, keyParam string) Parameter {
	return Derived(name, []string{keyParam}, func(s Snapshot) (float64, error) {
		k, err := s.Get(keyParam)
		if err != nil {
			return 0, err
		}
		key, err := IntegerKey(k)
		if err != nil {
			return 0, domain.NewModelError(domain.ErrKeyNotFound, table.Name(), err.Error(), nil)
		}
		return table.Lookup(key, column)
	})
}

// IntegerKey converts a resolved value to a table key. Values that are not
// integral are rejected rather than rounded.
func IntegerKey(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("key %g is not finite", v)
	}
	r := math.Round(v)
	if math.Abs(v-r) > 1e-9 {
		return 0, fmt.Errorf("key %g is not an integer", v)
	}
	return int(r), nil
}
