package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/lookup"
	"github.com/rgehrsitz/cohortsim/internal/matrix"
	"github.com/rgehrsitz/cohortsim/internal/params"
	"github.com/rgehrsitz/cohortsim/internal/psa"
	"github.com/rgehrsitz/cohortsim/internal/strategy"
	"github.com/rgehrsitz/cohortsim/internal/transform"
	"gopkg.in/yaml.v3"
)

// ComplementMarker in a transition cell means "one minus the rest of the row".
const ComplementMarker = "C"

// InputParser handles parsing of model files
type InputParser struct {
	Registry *transform.TransformRegistry
}

// NewInputParser creates a new input parser
func NewInputParser() *InputParser {
	return &InputParser{Registry: transform.NewTransformRegistry()}
}

// LoadFromFile loads a model from a YAML file
func (ip *InputParser) LoadFromFile(filename string) (*Model, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ip.Parse(data, filepath.Dir(filename))
}

// Parse decodes and validates a model; baseDir resolves relative paths.
func (ip *InputParser) Parse(data []byte, baseDir string) (*Model, error) {
	var model Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	model.BaseDir = baseDir
	applyDefaults(&model)

	if err := ip.ValidateConfiguration(&model); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &model, nil
}

func applyDefaults(m *Model) {
	if m.Settings.Method == "" {
		m.Settings.Method = string(domain.MethodEnd)
	}
	if m.PSA.Lambda.Points == 0 {
		m.PSA.Lambda.Points = 21
	}
	if m.PSA.Lambda.Max == 0 {
		m.PSA.Lambda.Max = 100000
	}
}

// ValidateConfiguration validates the structure of a model. Formula
// compilation and dependency checks happen in Compile.
func (ip *InputParser) ValidateConfiguration(m *Model) error {
	if err := ip.validateSettings(&m.Settings); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	if err := ip.validateParameters(m.Parameters); err != nil {
		return fmt.Errorf("parameters validation failed: %w", err)
	}
	if len(m.Strategies) == 0 {
		return fmt.Errorf("no strategies provided")
	}
	seen := make(map[string]bool)
	for i := range m.Strategies {
		s := &m.Strategies[i]
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		seen[s.Name] = true
		if err := ip.validateStrategy(s); err != nil {
			return fmt.Errorf("strategy %d (%s) validation failed: %w", i, s.Name, err)
		}
	}
	if err := ip.validatePSA(&m.PSA, m.Parameters); err != nil {
		return fmt.Errorf("psa validation failed: %w", err)
	}
	for i, sc := range m.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		if _, err := ip.Registry.ParseTransformSpecs(sc.Transforms); err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}
	for i, v := range m.Sensitivity {
		if _, ok := declared(m.Parameters, v.Parameter); !ok {
			return fmt.Errorf("sensitivity %d references unknown parameter %q", i, v.Parameter)
		}
	}
	return nil
}

func (ip *InputParser) validateSettings(s *Settings) error {
	if s.Cycles <= 0 {
		return fmt.Errorf("cycles must be positive")
	}
	if !domain.Method(s.Method).Valid() {
		return fmt.Errorf("method must be 'end', 'beginning' or 'life-table', got %q", s.Method)
	}
	if !s.Discount.Valid() {
		return fmt.Errorf("discount rates must be between 0 and 1")
	}
	if len(s.InitialPopulation) == 0 && s.InitialPopulationFile == "" {
		return fmt.Errorf("initial_population or initial_population_file is required")
	}
	if len(s.InitialPopulation) > 0 && s.InitialPopulationFile != "" {
		return fmt.Errorf("specify either initial_population or initial_population_file, not both")
	}
	return nil
}

func (ip *InputParser) validateParameters(ps []ParameterSpec) error {
	seen := make(map[string]bool, len(ps))
	for i, p := range ps {
		if p.Name == "" {
			return fmt.Errorf("parameter %d: name is required", i)
		}
		if IsReserved(p.Name) {
			return fmt.Errorf("parameter %s: name is reserved", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		if (p.Value == nil) == (p.Formula == "") {
			return fmt.Errorf("parameter %s: specify exactly one of value or formula", p.Name)
		}
	}
	return nil
}

func (ip *InputParser) validateStrategy(s *StrategySpec) error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if len(s.States) == 0 {
		return fmt.Errorf("at least one state is required")
	}
	states := make(map[string]bool, len(s.States))
	for _, st := range s.States {
		if st.Name == "" {
			return fmt.Errorf("state name is required")
		}
		if states[st.Name] {
			return fmt.Errorf("duplicate state %s", st.Name)
		}
		states[st.Name] = true
	}
	for from, row := range s.Transitions {
		if !states[from] {
			return fmt.Errorf("transition row references unknown state: %s", from)
		}
		for to := range row {
			if !states[to] {
				return fmt.Errorf("transition %s -> %s references unknown state: %s", from, to, to)
			}
		}
	}
	for _, st := range s.States {
		if _, ok := s.Transitions[st.Name]; !ok {
			return fmt.Errorf("state %s has no transition row", st.Name)
		}
	}
	return nil
}

func (ip *InputParser) validatePSA(p *PSASettings, ps []ParameterSpec) error {
	if p.Draws < 0 {
		return fmt.Errorf("draws cannot be negative")
	}
	if p.Lambda.Points < 1 || p.Lambda.Max < p.Lambda.Min || p.Lambda.Min < 0 {
		return fmt.Errorf("invalid lambda grid [%g, %g] with %d points", p.Lambda.Min, p.Lambda.Max, p.Lambda.Points)
	}
	if p.Lambda.Log && p.Lambda.Min <= 0 {
		return fmt.Errorf("log-scale lambda grid needs a positive minimum")
	}
	for _, d := range p.Distributions {
		spec, ok := declared(ps, d.Parameter)
		if !ok {
			return fmt.Errorf("distribution for unknown parameter %q", d.Parameter)
		}
		// A sampled value would replace the formula outright.
		if spec.Value == nil {
			return fmt.Errorf("distribution for parameter %s: formula parameters cannot be sampled", d.Parameter)
		}
		if _, err := psa.NewSampler(d.Family, d.Args); err != nil {
			return fmt.Errorf("distribution for parameter %s: %w", d.Parameter, err)
		}
	}
	return nil
}

func declared(ps []ParameterSpec, name string) (ParameterSpec, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// CompiledModel is a model ready to simulate.
type CompiledModel struct {
	Model      *Model
	Tables     map[string]*lookup.Table
	Parameters *params.Set
	Strategies []*strategy.Strategy
	Initial    domain.CohortVector
	Options    calculation.Options
	Templates  *transform.TemplateRegistry
	Variations []calculation.Variation
}

// PSAConfig returns the PSA engine settings of the model.
func (cm *CompiledModel) PSAConfig() psa.Config {
	return psa.Config{
		Seed:            cm.Model.PSA.Seed,
		Workers:         cm.Model.PSA.Workers,
		ContinueOnError: cm.Model.PSA.ContinueOnError,
	}
}

// LambdaGrid returns the willingness-to-pay grid of the model.
func (cm *CompiledModel) LambdaGrid() ([]float64, error) {
	l := cm.Model.PSA.Lambda
	return psa.LambdaGrid(l.Min, l.Max, l.Points, l.Log)
}

func (m *Model) path(p string) string {
	if filepath.IsAbs(p) || m.BaseDir == "" {
		return p
	}
	return filepath.Join(m.BaseDir, p)
}

// Compile loads tables, compiles formulas and builds the simulation inputs.
func (ip *InputParser) Compile(m *Model) (*CompiledModel, error) {
	cm := &CompiledModel{
		Model:     m,
		Tables:    make(map[string]*lookup.Table, len(m.Tables)),
		Templates: transform.NewTemplateRegistry(),
		Options: calculation.Options{
			Cycles:   m.Settings.Cycles,
			Method:   domain.Method(m.Settings.Method),
			Discount: m.Settings.Discount,
		},
	}

	for _, ts := range m.Tables {
		t, err := loadTable(m.path(ts.File), ts)
		if err != nil {
			return nil, err
		}
		cm.Tables[ts.Name] = t
	}

	parameters := make([]params.Parameter, 0, len(m.Parameters))
	for _, ps := range m.Parameters {
		var p params.Parameter
		if ps.Value != nil {
			p = params.Constant(ps.Name, *ps.Value)
		} else {
			f, err := CompileFormula(ps.Formula, cm.Tables)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", ps.Name, err)
			}
			p = params.Derived(ps.Name, f.Deps, f.Eval)
		}
		p.Description = ps.Description
		parameters = append(parameters, p)
	}
	set, err := params.NewSet(parameters...)
	if err != nil {
		return nil, err
	}
	cm.Parameters = set

	for _, ss := range m.Strategies {
		s, err := ip.compileStrategy(ss, cm)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", ss.Name, err)
		}
		cm.Strategies = append(cm.Strategies, s)
	}

	if cm.Initial, err = ip.initialPopulation(m, cm.Strategies[0]); err != nil {
		return nil, err
	}

	for _, sc := range m.Scenarios {
		tmpl, err := transform.NewTemplate(ip.Registry, sc.Name, sc.Description, sc.Transforms)
		if err != nil {
			return nil, err
		}
		cm.Templates.Register(tmpl)
	}

	for _, v := range m.Sensitivity {
		cm.Variations = append(cm.Variations, calculation.Variation{Parameter: v.Parameter, Low: v.Low, High: v.High})
	}

	return cm, nil
}

func loadTable(path string, ts TableSpec) (*lookup.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", ts.Name, err)
	}
	defer f.Close()
	key := ts.Key
	if key == "" {
		key = "age"
	}
	return lookup.LoadCSV(ts.Name, f, key)
}

func (ip *InputParser) compileValue(src string, cm *CompiledModel) (func(params.Snapshot) (float64, error), error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	f, err := CompileFormula(src, cm.Tables)
	if err != nil {
		return nil, err
	}
	for _, d := range f.Deps {
		if !cm.Parameters.Has(d) {
			return nil, domain.NewModelError(domain.ErrUnknownParameter, d,
				fmt.Sprintf("referenced by formula %q", src), nil)
		}
	}
	return f.Eval, nil
}

func (ip *InputParser) compileStrategy(ss StrategySpec, cm *CompiledModel) (*strategy.Strategy, error) {
	s := &strategy.Strategy{Name: ss.Name, Description: ss.Description}
	for _, st := range ss.States {
		s.Transition.States = append(s.Transition.States, st.Name)
		cost, err := ip.compileValue(st.Cost, cm)
		if err != nil {
			return nil, fmt.Errorf("state %s cost: %w", st.Name, err)
		}
		utility, err := ip.compileValue(st.Utility, cm)
		if err != nil {
			return nil, fmt.Errorf("state %s utility: %w", st.Name, err)
		}
		s.States = append(s.States, strategy.State{
			Name:        st.Name,
			Cost:        cost,
			Utility:     utility,
			Description: st.Description,
		})
	}

	// Rows and entries follow state declaration order so that row sums are
	// accumulated in the same order on every run.
	for _, from := range s.Transition.States {
		cells := ss.Transitions[from]
		row := matrix.Row{From: from}
		for _, to := range s.Transition.States {
			src, ok := cells[to]
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(src), ComplementMarker) {
				row.Entries = append(row.Entries, matrix.Complement(to))
				continue
			}
			f, err := ip.compileValue(src, cm)
			if err != nil {
				return nil, fmt.Errorf("transition %s -> %s: %w", from, to, err)
			}
			if f == nil {
				return nil, fmt.Errorf("transition %s -> %s: empty formula", from, to)
			}
			row.Entries = append(row.Entries, matrix.Value(to, f))
		}
		s.Transition.Rows = append(s.Transition.Rows, row)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := s.Transition.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (ip *InputParser) initialPopulation(m *Model, first *strategy.Strategy) (domain.CohortVector, error) {
	var vec domain.CohortVector
	if m.Settings.InitialPopulationFile != "" {
		f, err := os.Open(m.path(m.Settings.InitialPopulationFile))
		if err != nil {
			return domain.CohortVector{}, fmt.Errorf("initial population: %w", err)
		}
		defer f.Close()
		if vec, err = LoadInitialPopulation(f, m.Settings.InitialPopulationRow); err != nil {
			return domain.CohortVector{}, fmt.Errorf("initial population: %w", err)
		}
	} else {
		var err error
		if vec, err = domain.CohortFromMap(first.StateNames(), m.Settings.InitialPopulation); err != nil {
			return domain.CohortVector{}, fmt.Errorf("initial population: %w", err)
		}
	}
	if err := vec.Validate(); err != nil {
		return domain.CohortVector{}, fmt.Errorf("initial population: %w", err)
	}
	return vec, nil
}

// LoadModel parses and compiles a model file in one step.
func LoadModel(filename string) (*CompiledModel, error) {
	ip := NewInputParser()
	m, err := ip.LoadFromFile(filename)
	if err != nil {
		return nil, err
	}
	return ip.Compile(m)
}
