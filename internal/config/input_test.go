package config

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/psa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalModel = `
name: two-state
settings:
  cycles: 3
  initial_population: {alive: 1000, dead: 0}
parameters:
  - {name: p_death, value: 0.1}
  - {name: cost_alive, value: 100}
strategies:
  - name: base
    states:
      - {name: alive, cost: cost_alive, utility: "1"}
      - {name: dead}
    transitions:
      alive: {alive: C, dead: p_death}
      dead: {dead: 1}
`

func parseMinimal(t *testing.T) *Model {
	t.Helper()
	m, err := NewInputParser().Parse([]byte(minimalModel), "")
	require.NoError(t, err)
	return m
}

func TestInputParser_Parse_Defaults(t *testing.T) {
	m := parseMinimal(t)
	assert.Equal(t, "two-state", m.Name)
	assert.Equal(t, "end", m.Settings.Method)
	assert.Equal(t, 21, m.PSA.Lambda.Points)
	assert.Equal(t, 100000.0, m.PSA.Lambda.Max)
	assert.Equal(t, "1", m.Strategies[0].Transitions["dead"]["dead"], "numeric cells decode as formula text")
}

func TestInputParser_Compile_Minimal(t *testing.T) {
	ip := NewInputParser()
	cm, err := ip.Compile(parseMinimal(t))
	require.NoError(t, err)

	result, err := calculation.NewCalculationEngine().Run(context.Background(),
		cm.Parameters, cm.Strategies[0], cm.Initial, cm.Options)
	require.NoError(t, err)

	counts := result.Counts()
	for i, want := range []float64{1000, 900, 810, 729} {
		alive, _ := counts[i].Get("alive")
		assert.InDelta(t, want, alive, 1e-9, "cycle %d", i)
	}
	assert.InDelta(t, 100000+90000+81000, result.Totals().Cost, 1e-6)
}

func TestInputParser_ValidateConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
		errMsg string
	}{
		{"zero cycles", func(m *Model) { m.Settings.Cycles = 0 }, "cycles must be positive"},
		{"bad method", func(m *Model) { m.Settings.Method = "middle" }, "method must be"},
		{"bad discount", func(m *Model) { m.Settings.Discount.Cost = 1.5 }, "discount rates"},
		{"no population", func(m *Model) { m.Settings.InitialPopulation = nil }, "initial_population"},
		{"both populations", func(m *Model) { m.Settings.InitialPopulationFile = "pop.csv" }, "not both"},
		{"reserved name", func(m *Model) { m.Parameters[0].Name = "cycle" }, "reserved"},
		{"duplicate parameter", func(m *Model) { m.Parameters[1].Name = "p_death" }, "duplicate parameter"},
		{"value and formula", func(m *Model) { m.Parameters[0].Formula = "0.2" }, "exactly one"},
		{"no strategies", func(m *Model) { m.Strategies = nil }, "no strategies"},
		{"duplicate strategy", func(m *Model) { m.Strategies = append(m.Strategies, m.Strategies[0]) }, "duplicate strategy"},
		{"unknown row", func(m *Model) { m.Strategies[0].Transitions["ghost"] = map[string]string{"dead": "1"} }, "unknown state: ghost"},
		{"unknown target", func(m *Model) { m.Strategies[0].Transitions["dead"]["ghost"] = "0" }, "unknown state: ghost"},
		{"missing row", func(m *Model) { delete(m.Strategies[0].Transitions, "dead") }, "no transition row"},
		{"negative draws", func(m *Model) { m.PSA.Draws = -1 }, "draws cannot be negative"},
		{"log grid from zero", func(m *Model) { m.PSA.Lambda.Log = true }, "positive minimum"},
		{"bad scenario", func(m *Model) {
			m.Scenarios = []ScenarioSpec{{Name: "x", Transforms: []string{"warp:parameter=p_death"}}}
		}, "unknown transform"},
		{"unknown sensitivity parameter", func(m *Model) {
			m.Sensitivity = []VariationSpec{{Parameter: "nope", Low: 0, High: 1}}
		}, "unknown parameter"},
		{"complement marker as parameter name", func(m *Model) { m.Parameters[1].Name = "C" }, "reserved"},
		{"distribution on formula parameter", func(m *Model) {
			m.Parameters = append(m.Parameters, ParameterSpec{Name: "p_half", Formula: "p_death / 2"})
			m.PSA.Distributions = []psa.Spec{{Parameter: "p_half", Family: "beta", Args: map[string]float64{"mean": 0.05, "sd": 0.01}}}
		}, "formula parameters cannot be sampled"},
		{"unknown distribution family", func(m *Model) {
			m.PSA.Distributions = []psa.Spec{{Parameter: "p_death", Family: "weibull", Args: map[string]float64{"shape": 1}}}
		}, "unknown distribution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parseMinimal(t)
			tt.mutate(m)
			err := NewInputParser().ValidateConfiguration(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInputParser_ValidateConfiguration_BadDistributionArgs(t *testing.T) {
	m := parseMinimal(t)
	m.PSA.Distributions = []psa.Spec{
		{Parameter: "cost_alive", Family: "gamma", Args: map[string]float64{"mean": 1701, "sd": -170}},
	}
	err := NewInputParser().ValidateConfiguration(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidDistributionParameters), "got %v", err)
	assert.Contains(t, err.Error(), "cost_alive")
}

func TestInputParser_Parse_LowercaseComplementParameter(t *testing.T) {
	src := `
name: shadowed
settings:
  cycles: 2
  initial_population: {alive: 100, dead: 0}
parameters:
  - {name: c, value: 0.3}
strategies:
  - name: base
    states:
      - {name: alive}
      - {name: dead}
    transitions:
      alive: {alive: "0.1", dead: c}
      dead: {dead: 1}
`
	_, err := NewInputParser().Parse([]byte(src), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter c: name is reserved")
}

func TestInputParser_Compile_Errors(t *testing.T) {
	t.Run("cyclic parameters", func(t *testing.T) {
		m := parseMinimal(t)
		m.Parameters = append(m.Parameters,
			ParameterSpec{Name: "a", Formula: "b + 1"},
			ParameterSpec{Name: "b", Formula: "a * 2"})
		_, err := NewInputParser().Compile(m)
		assert.True(t, errors.Is(err, domain.ErrCyclicParameterDependency), "got %v", err)
	})

	t.Run("unknown parameter in transition", func(t *testing.T) {
		m := parseMinimal(t)
		m.Strategies[0].Transitions["alive"]["dead"] = "p_dying"
		_, err := NewInputParser().Compile(m)
		assert.True(t, errors.Is(err, domain.ErrUnknownParameter), "got %v", err)
	})

	t.Run("two complements", func(t *testing.T) {
		m := parseMinimal(t)
		m.Strategies[0].Transitions["alive"]["dead"] = "C"
		_, err := NewInputParser().Compile(m)
		assert.True(t, errors.Is(err, domain.ErrInvalidComplementCount), "got %v", err)
	})

	t.Run("invalid formula", func(t *testing.T) {
		m := parseMinimal(t)
		m.Strategies[0].States[0].Cost = "cost_alive +"
		_, err := NewInputParser().Compile(m)
		assert.Error(t, err)
	})

	t.Run("population state missing", func(t *testing.T) {
		m := parseMinimal(t)
		delete(m.Settings.InitialPopulation, "dead")
		_, err := NewInputParser().Compile(m)
		assert.True(t, errors.Is(err, domain.ErrInvalidInitialPopulation), "got %v", err)
	})
}

func TestLoadModel(t *testing.T) {
	cm, err := LoadModel("testdata/model.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Three-state test model", cm.Model.Name)
	assert.Len(t, cm.Strategies, 2)
	assert.Equal(t, domain.MethodLifeTable, cm.Options.Method)
	assert.Equal(t, 0.03, cm.Options.Discount.Cost)
	assert.Contains(t, cm.Tables, "mortality")
	assert.Equal(t, []string{"cheap_drug"}, cm.Templates.List())
	require.Len(t, cm.Variations, 1)
	assert.Equal(t, calculation.Variation{Parameter: "rr_treat", Low: 0.3, High: 0.7}, cm.Variations[0])

	snap, err := cm.Parameters.Resolve(2)
	require.NoError(t, err)
	age, _ := snap.Get("age")
	assert.Equal(t, 62.0, age)
	pDie, _ := snap.Get("p_die")
	assert.Equal(t, 0.012, pDie)

	cfg := cm.PSAConfig()
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 2, cfg.Workers)

	grid, err := cm.LambdaGrid()
	require.NoError(t, err)
	assert.Len(t, grid, 11)
	assert.InDelta(t, 10000, grid[1], 1e-9)

	results, err := calculation.NewCalculationEngine().RunStrategies(context.Background(),
		cm.Parameters, cm.Strategies, cm.Initial, cm.Options)
	require.NoError(t, err)
	for _, r := range results {
		last, _ := r.CountsAt(r.Cycles())
		assert.InDelta(t, 1000, last.Total(), 1e-9)
	}
	assert.Greater(t, results[1].Totals().Utility, results[0].Totals().Utility,
		"treatment keeps more people healthy")
	assert.False(t, math.IsNaN(results[1].Totals().Cost))
}

func TestLoadModel_PopulationFile(t *testing.T) {
	ip := NewInputParser()
	m, err := ip.LoadFromFile("testdata/model.yaml")
	require.NoError(t, err)

	m.Settings.InitialPopulation = nil
	m.Settings.InitialPopulationFile = "population.csv"
	m.Settings.InitialPopulationRow = 1
	cm, err := ip.Compile(m)
	require.NoError(t, err)
	sick, _ := cm.Initial.Get("sick")
	assert.Equal(t, 200.0, sick)
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := LoadModel("testdata/does_not_exist.yaml")
	assert.Error(t, err)
}
