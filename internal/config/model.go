package config

import (
	"github.com/rgehrsitz/cohortsim/internal/discount"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

// Model is the YAML model file.
type Model struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Settings    Settings        `yaml:"settings"`
	PSA         PSASettings     `yaml:"psa"`
	Tables      []TableSpec     `yaml:"tables"`
	Parameters  []ParameterSpec `yaml:"parameters"`
	Strategies  []StrategySpec  `yaml:"strategies"`
	Scenarios   []ScenarioSpec  `yaml:"scenarios"`
	Sensitivity []VariationSpec `yaml:"sensitivity"`

	// BaseDir resolves relative file paths; set by the parser.
	BaseDir string `yaml:"-"`
}

// Settings holds the deterministic run settings.
type Settings struct {
	Cycles                int                `yaml:"cycles"`
	Method                string             `yaml:"method"`
	Discount              discount.Rates     `yaml:"discount"`
	InitialPopulation     map[string]float64 `yaml:"initial_population"`
	InitialPopulationFile string             `yaml:"initial_population_file"`
	InitialPopulationRow  int                `yaml:"initial_population_row"`
	WillingnessToPay      *float64           `yaml:"willingness_to_pay"`
}

// PSASettings configures probabilistic sensitivity analysis.
type PSASettings struct {
	Draws           int            `yaml:"draws"`
	Seed            uint64         `yaml:"seed"`
	Workers         int            `yaml:"workers"`
	ContinueOnError bool           `yaml:"continue_on_error"`
	Lambda          LambdaSettings `yaml:"lambda"`
	Distributions   []psa.Spec     `yaml:"distributions"`
}

// LambdaSettings is the willingness-to-pay grid for acceptability curves.
type LambdaSettings struct {
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Points int     `yaml:"points"`
	Log    bool    `yaml:"log"`
}

// TableSpec names a CSV lookup table.
type TableSpec struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Key  string `yaml:"key"`
}

// ParameterSpec declares a parameter as a constant value or a formula.
type ParameterSpec struct {
	Name        string   `yaml:"name"`
	Value       *float64 `yaml:"value"`
	Formula     string   `yaml:"formula"`
	Description string   `yaml:"description"`
}

// StateSpec declares a health state with cost and utility formulas. Empty
// formulas are zero.
type StateSpec struct {
	Name        string `yaml:"name"`
	Cost        string `yaml:"cost"`
	Utility     string `yaml:"utility"`
	Description string `yaml:"description"`
}

// StrategySpec declares a strategy. Transitions map from-state to to-state
// to a formula, or to "C" for the complement.
type StrategySpec struct {
	Name        string                       `yaml:"name"`
	Description string                       `yaml:"description"`
	States      []StateSpec                  `yaml:"states"`
	Transitions map[string]map[string]string `yaml:"transitions"`
}

// ScenarioSpec is a named list of parameter transforms.
type ScenarioSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Transforms  []string `yaml:"transforms"`
}

// VariationSpec is one row of a one-way sensitivity analysis.
type VariationSpec struct {
	Parameter string  `yaml:"parameter"`
	Low       float64 `yaml:"low"`
	High      float64 `yaml:"high"`
}
