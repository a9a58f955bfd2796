package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TransformRegistry provides a central registry for all available transforms.
// It enables creation of transforms from string parameters, useful for CLI
// flags and model-file scenarios.
type TransformRegistry struct {
	factories map[string]TransformFactory
}

// TransformFactory is a function that creates a transform from parameters.
type TransformFactory func(params map[string]string) (ParameterTransform, error)

// NewTransformRegistry creates a new registry with all built-in transforms registered.
func NewTransformRegistry() *TransformRegistry {
	registry := &TransformRegistry{
		factories: make(map[string]TransformFactory),
	}

	registry.Register("set", createSetParameter)
	registry.Register("scale", createScaleParameter)
	registry.Register("shift", createShiftParameter)

	return registry
}

// Register adds a transform factory to the registry.
func (r *TransformRegistry) Register(name string, factory TransformFactory) {
	r.factories[name] = factory
}

// Create creates a transform by name with the given parameters.
func (r *TransformRegistry) Create(name string, params map[string]string) (ParameterTransform, error) {
	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("unknown transform: %s", name)
	}

	return factory(params)
}

// List returns the names of all registered transforms in sorted order.
func (r *TransformRegistry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseTransformSpec parses a transform specification string.
// Format: "transform_name:param1=value1,param2=value2"
// Example: "scale:parameter=cost_alive,factor=1.2"
func (r *TransformRegistry) ParseTransformSpec(spec string) (ParameterTransform, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid transform spec format, expected 'name:params', got: %s", spec)
	}

	name := strings.TrimSpace(parts[0])
	paramsStr := strings.TrimSpace(parts[1])

	params := make(map[string]string)
	if paramsStr != "" {
		for _, paramPair := range strings.Split(paramsStr, ",") {
			kv := strings.SplitN(paramPair, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("invalid parameter format, expected 'key=value', got: %s", paramPair)
			}
			params[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}

	return r.Create(name, params)
}

// ParseTransformSpecs parses each spec in order.
func (r *TransformRegistry) ParseTransformSpecs(specs []string) ([]ParameterTransform, error) {
	out := make([]ParameterTransform, 0, len(specs))
	for _, s := range specs {
		t, err := r.ParseTransformSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Factory functions for each transform

func requireString(params map[string]string, transform, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%s requires '%s' parameter", transform, key)
	}
	return v, nil
}

func requireFloat(params map[string]string, transform, key string) (float64, error) {
	s, err := requireString(params, transform, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

func createSetParameter(params map[string]string) (ParameterTransform, error) {
	name, err := requireString(params, "set", "parameter")
	if err != nil {
		return nil, err
	}
	value, err := requireFloat(params, "set", "value")
	if err != nil {
		return nil, err
	}
	return &SetParameter{Parameter: name, Value: value}, nil
}

func createScaleParameter(params map[string]string) (ParameterTransform, error) {
	name, err := requireString(params, "scale", "parameter")
	if err != nil {
		return nil, err
	}
	factor, err := requireFloat(params, "scale", "factor")
	if err != nil {
		return nil, err
	}
	return &ScaleParameter{Parameter: name, Factor: factor}, nil
}

func createShiftParameter(params map[string]string) (ParameterTransform, error) {
	name, err := requireString(params, "shift", "parameter")
	if err != nil {
		return nil, err
	}
	delta, err := requireFloat(params, "shift", "delta")
	if err != nil {
		return nil, err
	}
	return &ShiftParameter{Parameter: name, Delta: delta}, nil
}
