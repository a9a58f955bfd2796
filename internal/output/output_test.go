package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/discount"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

func makeResult(t *testing.T, name string, cost, effect float64) *domain.SimulationResult {
	t.Helper()
	v0, err := domain.NewCohortVector([]string{"alive", "dead"}, []float64{1000, 0})
	require.NoError(t, err)
	v1, err := domain.NewCohortVector([]string{"alive", "dead"}, []float64{900, 100})
	require.NoError(t, err)
	return domain.NewSimulationResult(name, domain.MethodEnd,
		[]domain.CohortVector{v0, v1},
		[]domain.CycleValues{{Cycle: 0, Cost: cost, Utility: effect, RawCost: cost, RawUtility: effect}})
}

func createTestRun(t *testing.T) *psa.Run {
	t.Helper()
	outcomes := [][4]float64{
		{100, 1, 300, 2},
		{100, 1, 500, 2},
		{200, 1, 200, 1.5},
	}
	run := &psa.Run{Strategies: []string{"A", "B"}, Parameters: []string{"p_die"}, Seed: 7}
	for i, o := range outcomes {
		run.Draws = append(run.Draws, psa.Draw{
			Index:   i,
			Values:  map[string]float64{"p_die": 0.1 * float64(i+1)},
			Results: []*domain.SimulationResult{makeResult(t, "A", o[0], o[1]), makeResult(t, "B", o[2], o[3])},
		})
	}
	run.Draws = append(run.Draws, psa.Draw{Index: 3, Values: map[string]float64{"p_die": 0.9}, Err: errors.New("boom")})
	run.Failed = 1
	return run
}

func createTestReport(t *testing.T) *Report {
	t.Helper()
	r := NewReport("two-state", calculation.Options{Cycles: 1, Method: domain.MethodEnd, Discount: discount.Uniform(0.03)})
	r.Results = []*domain.SimulationResult{
		makeResult(t, "usual", 180, 1.8),
		makeResult(t, "treated", 570, 1.9),
	}
	p, err := NewPSAReport(createTestRun(t), []float64{0, 300, 1000})
	require.NoError(t, err)
	r.PSA = p
	r.Sensitivity = &calculation.SensitivityAnalysis{
		Base: []calculation.StrategyTotals{{Strategy: "usual", Cost: 180, Effect: 1.8}},
		Results: []calculation.SensitivityResult{{
			Parameter:    "p_die",
			Low:          0.05,
			High:         0.2,
			LowTotals:    []calculation.StrategyTotals{{Strategy: "usual", Cost: 150, Effect: 1.9}},
			HighTotals:   []calculation.StrategyTotals{{Strategy: "usual", Cost: 220, Effect: 1.6}},
			CostSpread:   70,
			EffectSpread: 0.3,
		}},
	}
	return r
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestFormatterFunc(t *testing.T) {
	called := false
	f := FormatterFunc{
		ID: "test-formatter",
		F: func(r *Report) ([]byte, error) {
			called = true
			return []byte("test output"), nil
		},
	}

	out, err := f.Format(&Report{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "test output", string(out))
	assert.Equal(t, "test-formatter", f.Name())
}

func TestWriteFormatted(t *testing.T) {
	dir := t.TempDir()
	r := &Report{RunID: "0123456789abcdef"}
	f := FormatterFunc{ID: "plain", F: func(*Report) ([]byte, error) { return []byte("content"), nil }}

	filename, err := WriteFormatted(f, r, dir, "txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cohortsim_plain_01234567.txt"), filename)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
}

func TestWriteFormatted_FormatterError(t *testing.T) {
	f := FormatterFunc{ID: "broken", F: func(*Report) ([]byte, error) { return nil, errors.New("formatter error") }}

	filename, err := WriteFormatted(f, &Report{}, t.TempDir(), "txt")
	assert.Error(t, err)
	assert.Empty(t, filename)
	assert.Contains(t, err.Error(), "formatter error")
}

func TestRegistry(t *testing.T) {
	names := AvailableFormatterNames()
	for _, want := range []string{"console", "csv", "values-csv", "json", "ceac-csv", "psa-csv", "tornado-csv", "xlsx"} {
		assert.Contains(t, names, want)
	}
	assert.Contains(t, AvailableFormatAliases(), "table")

	f := GetFormatterByName("TABLE")
	require.NotNil(t, f)
	assert.Equal(t, "console", f.Name())
	assert.Nil(t, GetFormatterByName("non-existent"))

	assert.Equal(t, "csv", Extension(GetFormatterByName("ceac")))
	assert.Equal(t, "json", Extension(GetFormatterByName("json")))
	assert.Equal(t, "xlsx", Extension(GetFormatterByName("excel")))
	assert.Equal(t, "txt", Extension(GetFormatterByName("console")))
}

func TestNewReport(t *testing.T) {
	r := NewReport("m", calculation.Options{Cycles: 10, Method: domain.MethodLifeTable, Discount: discount.Rates{Cost: 0.03, Effect: 0.015}})
	assert.Len(t, r.RunID, 36)
	assert.Equal(t, 10, r.Settings.Cycles)
	assert.Equal(t, domain.MethodLifeTable, r.Settings.Method)
	assert.Equal(t, 0.015, r.Settings.Discount.Effect)

	other := NewReport("m", calculation.Options{})
	assert.NotEqual(t, r.RunID, other.RunID)
}

func TestNewPSAReport(t *testing.T) {
	p, err := NewPSAReport(createTestRun(t), []float64{0, 300, 1000})
	require.NoError(t, err)

	assert.Equal(t, 4, p.Draws)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, uint64(7), p.Seed)
	require.Len(t, p.Summary, 2)

	require.Len(t, p.ICERs, 1)
	icer := p.ICERs[0]
	assert.Equal(t, "A", icer.Reference)
	assert.Equal(t, "B", icer.Comparator)
	require.NotNil(t, icer.ICER)
	assert.InDelta(t, 240, *icer.ICER, 1e-9)
	assert.Nil(t, icer.Pairs)

	require.Len(t, p.CEAC, 3)
	assert.Equal(t, []float64{1, 0}, p.CEAC[0].Probabilities)
	require.Len(t, p.EVPI, 3)

	_, err = NewPSAReport(nil, nil)
	assert.Error(t, err)

	noGrid, err := NewPSAReport(createTestRun(t), nil)
	require.NoError(t, err)
	assert.Empty(t, noGrid.CEAC)
	assert.Empty(t, noGrid.EVPI)
}

func TestCountsCSVFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := CountsCSVFormatter{}.Format(r)
	require.NoError(t, err)

	records := readCSV(t, out)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"run_id", "strategy", "cycle", "alive", "dead"}, records[0])
	assert.Equal(t, []string{r.RunID, "usual", "1", "900", "100"}, records[2])
	assert.Equal(t, "treated", records[3][1])

	_, err = CountsCSVFormatter{}.Format(&Report{})
	assert.Error(t, err)
}

func TestValuesCSVFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := ValuesCSVFormatter{}.Format(r)
	require.NoError(t, err)

	records := readCSV(t, out)
	require.Len(t, records, 3)
	assert.Equal(t, "cost", records[0][3])
	assert.Equal(t, []string{r.RunID, "treated", "0", "570", "1.9", "570", "1.9"}, records[2])
}

func TestCEACCSVFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := CEACCSVFormatter{}.Format(r)
	require.NoError(t, err)

	records := readCSV(t, out)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"run_id", "lambda", "A", "B", "evpi"}, records[0])
	assert.Equal(t, "0", records[1][1])
	assert.Equal(t, "1", records[1][2])
	assert.Equal(t, "0", records[1][3])

	_, err = CEACCSVFormatter{}.Format(&Report{})
	assert.Error(t, err)
}

func TestDrawsCSVFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := DrawsCSVFormatter{}.Format(r)
	require.NoError(t, err)

	records := readCSV(t, out)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"run_id", "draw", "status", "p_die", "A_cost", "A_effect", "B_cost", "B_effect", "error"}, records[0])
	assert.Equal(t, []string{r.RunID, "0", "ok", "0.1", "100", "1", "300", "2", ""}, records[1])
	assert.Equal(t, []string{r.RunID, "3", "failed", "0.9", "", "", "", "", "boom"}, records[4])
}

func TestTornadoCSVFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := TornadoCSVFormatter{}.Format(r)
	require.NoError(t, err)

	records := readCSV(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, []string{r.RunID, "p_die", "0.05", "0.2", "usual", "150", "220", "1.9", "1.6", "70", "0.3"}, records[1])

	_, err = TornadoCSVFormatter{}.Format(&Report{})
	assert.Error(t, err)
}

func TestJSONFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := JSONFormatter{}.Format(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, r.RunID, decoded["runId"])
	assert.Equal(t, "two-state", decoded["model"])

	psaSection, ok := decoded["psa"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, psaSection, "icers")
	assert.NotContains(t, psaSection, "Run")

	pretty, err := JSONFormatter{Pretty: true}.Format(r)
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n  \"runId\"")
}

func TestXLSXFormatter(t *testing.T) {
	r := createTestReport(t)
	data, err := XLSXFormatter{}.Format(r)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Run", "Totals", "Counts", "Values", "PSA", "CEAC", "Sensitivity"}, f.GetSheetList())

	run, err := f.GetRows("Run")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", r.RunID}, run[0])

	totals, err := f.GetRows("Totals")
	require.NoError(t, err)
	require.Len(t, totals, 3)
	assert.Equal(t, []string{"strategy", "cost", "effect"}, totals[0])
	assert.Equal(t, "treated", totals[2][0])
	assert.Equal(t, "570", totals[2][1])

	counts, err := f.GetRows("Counts")
	require.NoError(t, err)
	assert.Equal(t, []string{"strategy", "cycle", "alive", "dead"}, counts[0])
	assert.Len(t, counts, 1+2*2)

	ceac, err := f.GetRows("CEAC")
	require.NoError(t, err)
	assert.Equal(t, []string{"lambda", "A", "B", "evpi"}, ceac[0])
	assert.Len(t, ceac, 4)
}

func TestConsoleFormatter(t *testing.T) {
	r := createTestReport(t)
	out, err := ConsoleFormatter{}.Format(r)
	require.NoError(t, err)

	content := string(out)
	assert.Contains(t, content, "two-state")
	assert.Contains(t, content, "DISCOUNTED TOTALS")
	assert.Contains(t, content, "$570.00")
	assert.Contains(t, content, "PROBABILISTIC SENSITIVITY ANALYSIS")
	assert.Contains(t, content, "1 failed")
	assert.Contains(t, content, "ICER $240.00")
	assert.Contains(t, content, "ONE-WAY SENSITIVITY")
	assert.Contains(t, content, "p_die")
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$1234.50", FormatCurrency(1234.5))
	assert.Equal(t, "-$12.00", FormatCurrency(-12))
	assert.Equal(t, "$0.00", FormatCurrency(0))
	assert.Equal(t, "1.8000", FormatEffect(1.8))
}

func TestFormatICER(t *testing.T) {
	v := 240.0
	assert.Equal(t, "$240.00", FormatICER(psa.ICERResult{ICER: &v, Interpretation: psa.Ratio}))
	assert.Equal(t, "dominant", FormatICER(psa.ICERResult{ICER: &v, Interpretation: psa.Dominant}))
	assert.Equal(t, "undefined", FormatICER(psa.ICERResult{Interpretation: psa.Undefined}))
}

func TestCEACSample(t *testing.T) {
	points := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, []int{0, 5, 10}, ceacSample(points, 3))
	assert.Equal(t, []int{0, 1}, ceacSample([]int{0, 1}, 6))
}
