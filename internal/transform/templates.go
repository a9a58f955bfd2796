package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/params"
)

// TemplateRegistry manages named scenarios
type TemplateRegistry struct {
	templates map[string]Template
}

// Template represents a named collection of transforms
type Template struct {
	Name        string
	Description string
	Transforms  []ParameterTransform
}

// Apply runs the template's transforms against base.
func (t Template) Apply(base *params.Set) (*params.Set, error) {
	return ApplyTransforms(base, t.Transforms)
}

// NewTemplateRegistry creates an empty template registry
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]Template),
	}
}

// Register adds a template to the registry
func (tr *TemplateRegistry) Register(t Template) {
	tr.templates[strings.ToLower(t.Name)] = t
}

// Get retrieves a template by name (case-insensitive)
func (tr *TemplateRegistry) Get(name string) (Template, bool) {
	t, ok := tr.templates[strings.ToLower(name)]
	return t, ok
}

// List returns all registered template names in sorted order
func (tr *TemplateRegistry) List() []string {
	names := make([]string, 0, len(tr.templates))
	for name := range tr.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTemplate builds a template from transform spec strings.
func NewTemplate(r *TransformRegistry, name, description string, specs []string) (Template, error) {
	if name == "" {
		return Template{}, fmt.Errorf("template name is required")
	}
	transforms, err := r.ParseTransformSpecs(specs)
	if err != nil {
		return Template{}, fmt.Errorf("template %s: %w", name, err)
	}
	return Template{Name: name, Description: description, Transforms: transforms}, nil
}

// CreateRangeTemplates registers "<parameter>_low" and "<parameter>_high"
// templates scaling the parameter down and up by pct percent.
func CreateRangeTemplates(registry *TemplateRegistry, parameter string, pct float64) {
	f := pct / 100
	registry.Register(Template{
		Name:        parameter + "_low",
		Description: fmt.Sprintf("%s reduced by %g%%", parameter, pct),
		Transforms:  []ParameterTransform{&ScaleParameter{Parameter: parameter, Factor: 1 - f}},
	})
	registry.Register(Template{
		Name:        parameter + "_high",
		Description: fmt.Sprintf("%s increased by %g%%", parameter, pct),
		Transforms:  []ParameterTransform{&ScaleParameter{Parameter: parameter, Factor: 1 + f}},
	})
}
