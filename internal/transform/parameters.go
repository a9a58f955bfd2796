package transform

import (
	"fmt"
	"math"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
)

func requireParameter(name, transform string, base *params.Set) error {
	if base == nil {
		return NewTransformError(transform, "validate", "base parameter set cannot be nil", nil)
	}
	if !base.Has(name) {
		return NewTransformError(transform, "validate", fmt.Sprintf("parameter %s not found", name),
			domain.ErrUnknownParameter)
	}
	return nil
}

// SetParameter replaces a parameter by a constant.
type SetParameter struct {
	Parameter string
	Value     float64
}

func (sp *SetParameter) Name() string { return "set" }

func (sp *SetParameter) Description() string {
	return fmt.Sprintf("Set %s to %g", sp.Parameter, sp.Value)
}

func (sp *SetParameter) Validate(base *params.Set) error {
	if math.IsNaN(sp.Value) || math.IsInf(sp.Value, 0) {
		return NewTransformError(sp.Name(), "validate", "value must be finite", nil)
	}
	return requireParameter(sp.Parameter, sp.Name(), base)
}

func (sp *SetParameter) Apply(base *params.Set) (*params.Set, error) {
	return base.Override(map[string]float64{sp.Parameter: sp.Value})
}

// ScaleParameter multiplies a parameter by a factor every cycle. Formula
// parameters keep their dependencies; only the result is scaled.
type ScaleParameter struct {
	Parameter string
	Factor    float64
}

func (sp *ScaleParameter) Name() string { return "scale" }

func (sp *ScaleParameter) Description() string {
	return fmt.Sprintf("Scale %s by %g", sp.Parameter, sp.Factor)
}

func (sp *ScaleParameter) Validate(base *params.Set) error {
	if math.IsNaN(sp.Factor) || math.IsInf(sp.Factor, 0) {
		return NewTransformError(sp.Name(), "validate", "factor must be finite", nil)
	}
	return requireParameter(sp.Parameter, sp.Name(), base)
}

func (sp *ScaleParameter) Apply(base *params.Set) (*params.Set, error) {
	return rewrite(base, sp.Parameter, func(v float64) float64 { return v * sp.Factor })
}

// ShiftParameter adds a constant to a parameter every cycle.
type ShiftParameter struct {
	Parameter string
	Delta     float64
}

func (sp *ShiftParameter) Name() string { return "shift" }

func (sp *ShiftParameter) Description() string {
	return fmt.Sprintf("Shift %s by %+g", sp.Parameter, sp.Delta)
}

func (sp *ShiftParameter) Validate(base *params.Set) error {
	if math.IsNaN(sp.Delta) || math.IsInf(sp.Delta, 0) {
		return NewTransformError(sp.Name(), "validate", "delta must be finite", nil)
	}
	return requireParameter(sp.Parameter, sp.Name(), base)
}

func (sp *ShiftParameter) Apply(base *params.Set) (*params.Set, error) {
	return rewrite(base, sp.Parameter, func(v float64) float64 { return v + sp.Delta })
}

// rewrite replaces the named parameter by one applying fn to its value.
func rewrite(base *params.Set, name string, fn func(float64) float64) (*params.Set, error) {
	p, ok := base.Parameter(name)
	if !ok {
		return nil, domain.NewModelError(domain.ErrUnknownParameter, name, "cannot transform", nil)
	}
	if v, ok := p.ConstantValue(); ok {
		return base.With(params.Constant(name, fn(v)))
	}
	eval := p.Eval
	return base.With(params.Parameter{
		Name:        name,
		DependsOn:   p.DependsOn,
		Description: p.Description,
		Eval: func(s params.Snapshot) (float64, error) {
			v, err := eval(s)
			if err != nil {
				return 0, err
			}
			return fn(v), nil
		},
	})
}
