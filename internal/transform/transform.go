package transform

import (
	"fmt"

	"github.com/rgehrsitz/cohortsim/internal/params"
)

// ParameterTransform defines the interface for all parameter-set transformations.
// Transforms are composable operations that derive a new parameter set from a
// base set, enabling scenario comparison and what-if runs from the CLI.
type ParameterTransform interface {
	// Apply returns a new set; the base set is never modified.
	Apply(base *params.Set) (*params.Set, error)

	// Name returns a short identifier for this transform (e.g., "scale").
	Name() string

	// Description returns a human-readable description of what this transform does.
	Description() string

	// Validate checks if the transform can be applied to base without applying it.
	Validate(base *params.Set) error
}

// ApplyTransforms applies a sequence of transforms to a base set.
// Each transform receives the output of the previous one.
func ApplyTransforms(base *params.Set, transforms []ParameterTransform) (*params.Set, error) {
	if base == nil {
		return nil, fmt.Errorf("base parameter set cannot be nil")
	}

	current := base
	for i, transform := range transforms {
		if transform == nil {
			return nil, fmt.Errorf("transform at index %d is nil", i)
		}

		if err := transform.Validate(current); err != nil {
			return nil, fmt.Errorf("transform %s validation failed: %w", transform.Name(), err)
		}

		next, err := transform.Apply(current)
		if err != nil {
			return nil, fmt.Errorf("transform %s failed: %w", transform.Name(), err)
		}
		current = next
	}

	return current, nil
}

// TransformError represents an error that occurred during transformation.
type TransformError struct {
	TransformName string
	Operation     string
	Reason        string
	Err           error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform %s (%s): %s: %v", e.TransformName, e.Operation, e.Reason, e.Err)
	}
	return fmt.Sprintf("transform %s (%s): %s", e.TransformName, e.Operation, e.Reason)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewTransformError creates a new TransformError.
func NewTransformError(transformName, operation, reason string, err error) error {
	return &TransformError{
		TransformName: transformName,
		Operation:     operation,
		Reason:        reason,
		Err:           err,
	}
}
