package transform

import (
	"errors"
	"testing"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
)

// Helper function to create a basic test parameter set
func createTestSet(t *testing.T) *params.Set {
	t.Helper()
	set, err := params.NewSet(
		params.Constant("cost_alive", 100),
		params.Constant("start_age", 60),
		params.Age("age", "start_age"),
	)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func resolve(t *testing.T, set *params.Set, cycle int, name string) float64 {
	t.Helper()
	snap, err := set.Resolve(cycle)
	if err != nil {
		t.Fatalf("Resolve(%d): %v", cycle, err)
	}
	v, err := snap.Get(name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	return v
}

func TestApplyTransforms_NilSet(t *testing.T) {
	_, err := ApplyTransforms(nil, []ParameterTransform{&SetParameter{Parameter: "cost_alive", Value: 1}})
	if err == nil {
		t.Error("Expected error for nil set, got nil")
	}
}

func TestApplyTransforms_EmptyTransforms(t *testing.T) {
	base := createTestSet(t)
	result, err := ApplyTransforms(base, nil)
	if err != nil {
		t.Fatalf("Expected no error for empty transforms, got: %v", err)
	}
	if got := resolve(t, result, 0, "cost_alive"); got != 100 {
		t.Errorf("Expected cost_alive 100, got %g", got)
	}
}

func TestApplyTransforms_Sequence(t *testing.T) {
	base := createTestSet(t)
	result, err := ApplyTransforms(base, []ParameterTransform{
		&SetParameter{Parameter: "cost_alive", Value: 200},
		&ScaleParameter{Parameter: "cost_alive", Factor: 1.5},
		&ShiftParameter{Parameter: "cost_alive", Delta: -50},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if got := resolve(t, result, 0, "cost_alive"); got != 250 {
		t.Errorf("Expected cost_alive 250, got %g", got)
	}
	if got := resolve(t, base, 0, "cost_alive"); got != 100 {
		t.Errorf("Base set must not change, got %g", got)
	}
}

func TestScaleParameter_Formula(t *testing.T) {
	base := createTestSet(t)
	result, err := (&ScaleParameter{Parameter: "age", Factor: 2}).Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// age = (start_age + cycle) * 2
	if got := resolve(t, result, 3, "age"); got != 126 {
		t.Errorf("Expected scaled age 126, got %g", got)
	}
}

func TestTransforms_UnknownParameter(t *testing.T) {
	base := createTestSet(t)
	transforms := []ParameterTransform{
		&SetParameter{Parameter: "missing", Value: 1},
		&ScaleParameter{Parameter: "missing", Factor: 2},
		&ShiftParameter{Parameter: "missing", Delta: 1},
	}
	for _, tr := range transforms {
		t.Run(tr.Name(), func(t *testing.T) {
			_, err := ApplyTransforms(base, []ParameterTransform{tr})
			if err == nil {
				t.Fatal("Expected error for unknown parameter")
			}
			if !errors.Is(err, domain.ErrUnknownParameter) {
				t.Errorf("Expected ErrUnknownParameter, got %v", err)
			}
			var te *TransformError
			if !errors.As(err, &te) {
				t.Errorf("Expected TransformError, got %T", err)
			}
		})
	}
}

func TestTransformRegistry_ParseTransformSpec(t *testing.T) {
	r := NewTransformRegistry()

	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{"scale:parameter=cost_alive,factor=1.2", "Scale cost_alive by 1.2", false},
		{"set: parameter = cost_alive , value = 5", "Set cost_alive to 5", false},
		{"shift:parameter=cost_alive,delta=-10", "Shift cost_alive by -10", false},
		{"scale", "", true},
		{"scale:parameter=cost_alive", "", true},
		{"scale:parameter=cost_alive,factor=abc", "", true},
		{"scale:parameter", "", true},
		{"rotate:parameter=cost_alive", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			tr, err := r.ParseTransformSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTransformSpec: %v", err)
			}
			if tr.Description() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, tr.Description())
			}
		})
	}

	if got := r.List(); len(got) != 3 || got[0] != "scale" {
		t.Errorf("Unexpected registry list %v", got)
	}
}

func TestTemplateRegistry(t *testing.T) {
	registry := NewTemplateRegistry()
	CreateRangeTemplates(registry, "cost_alive", 20)

	tmpl, err := NewTemplate(NewTransformRegistry(), "Cheap", "half price", []string{"scale:parameter=cost_alive,factor=0.5"})
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	registry.Register(tmpl)

	if names := registry.List(); len(names) != 3 {
		t.Fatalf("Expected 3 templates, got %v", names)
	}

	base := createTestSet(t)
	for name, want := range map[string]float64{"cost_alive_low": 80, "cost_alive_high": 120, "CHEAP": 50} {
		tmpl, ok := registry.Get(name)
		if !ok {
			t.Fatalf("Template %s not found", name)
		}
		set, err := tmpl.Apply(base)
		if err != nil {
			t.Fatalf("Apply %s: %v", name, err)
		}
		if got := resolve(t, set, 0, "cost_alive"); got < want-1e-9 || got > want+1e-9 {
			t.Errorf("%s: expected %g, got %g", name, want, got)
		}
	}

	if _, err := NewTemplate(NewTransformRegistry(), "bad", "", []string{"nope"}); err == nil {
		t.Error("Expected error for invalid spec")
	}
}
