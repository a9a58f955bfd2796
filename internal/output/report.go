package output

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/discount"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

// RunSettings echoes the options a report was produced with.
type RunSettings struct {
	Cycles   int            `json:"cycles"`
	Method   domain.Method  `json:"method"`
	Discount discount.Rates `json:"discount"`
}

// Report gathers everything one invocation produced. Rows written by the CSV
// formatters carry RunID so files from several runs can be concatenated.
type Report struct {
	RunID       string                           `json:"runId"`
	Model       string                           `json:"model"`
	CreatedAt   time.Time                        `json:"createdAt"`
	Settings    RunSettings                      `json:"settings"`
	Results     []*domain.SimulationResult       `json:"results,omitempty"`
	PSA         *PSAReport                       `json:"psa,omitempty"`
	Sensitivity *calculation.SensitivityAnalysis `json:"sensitivity,omitempty"`
}

// NewReport starts a report with a fresh run id.
func NewReport(model string, opts calculation.Options) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Model:     model,
		CreatedAt: time.Now().UTC(),
		Settings: RunSettings{
			Cycles:   opts.Cycles,
			Method:   opts.Method,
			Discount: opts.Discount,
		},
	}
}

// PSAReport is the aggregated view of a PSA batch. ICERs compare every
// strategy against the first one.
type PSAReport struct {
	Seed       uint64                `json:"seed"`
	Draws      int                   `json:"draws"`
	Failed     int                   `json:"failed"`
	Strategies []string              `json:"strategies"`
	Summary    []psa.StrategySummary `json:"summary"`
	ICERs      []psa.ICERResult      `json:"icers,omitempty"`
	CEAC       []psa.CEACPoint       `json:"ceac,omitempty"`
	EVPI       []psa.EVPIPoint       `json:"evpi,omitempty"`

	Run *psa.Run `json:"-"`
}

// NewPSAReport aggregates a run. With no lambdas the CEAC and EVPI are left
// empty.
func NewPSAReport(run *psa.Run, lambdas []float64) (*PSAReport, error) {
	if run == nil {
		return nil, fmt.Errorf("no PSA run")
	}
	summary, err := run.Summary()
	if err != nil {
		return nil, fmt.Errorf("failed to summarize PSA run: %w", err)
	}
	rep := &PSAReport{
		Seed:       run.Seed,
		Draws:      len(run.Draws),
		Failed:     run.Failed,
		Strategies: append([]string(nil), run.Strategies...),
		Summary:    summary,
		Run:        run,
	}

	for _, name := range run.Strategies[1:] {
		icer, err := run.ICER(run.Strategies[0], name)
		if err != nil {
			return nil, fmt.Errorf("failed to compute ICER for %s: %w", name, err)
		}
		icer.Pairs = nil
		rep.ICERs = append(rep.ICERs, *icer)
	}

	if len(lambdas) > 0 {
		if rep.CEAC, err = run.CEAC(lambdas); err != nil {
			return nil, fmt.Errorf("failed to compute CEAC: %w", err)
		}
		if rep.EVPI, err = run.EVPI(lambdas); err != nil {
			return nil, fmt.Errorf("failed to compute EVPI: %w", err)
		}
	}
	return rep, nil
}

// FormatCurrency renders an amount as dollars with two decimals.
func FormatCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// FormatEffect renders an effect total with four decimals.
func FormatEffect(effect float64) string {
	return decimal.NewFromFloat(effect).StringFixed(4)
}

// FormatICER renders an ICER, or its interpretation when there is no ratio.
func FormatICER(r psa.ICERResult) string {
	if r.ICER == nil || r.Interpretation != psa.Ratio {
		return string(r.Interpretation)
	}
	return FormatCurrency(*r.ICER)
}
