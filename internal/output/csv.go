package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
)

func f64(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func writeCSV(build func(w *csv.Writer) error) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := build(w); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CountsCSVFormatter writes the cohort counts of every strategy and cycle,
// one column per state.
type CountsCSVFormatter struct{}

func (CountsCSVFormatter) Name() string { return "csv" }

func (CountsCSVFormatter) Format(r *Report) ([]byte, error) {
	if len(r.Results) == 0 {
		return nil, fmt.Errorf("report has no simulation results")
	}
	states := r.Results[0].Counts()[0].States
	return writeCSV(func(w *csv.Writer) error {
		if err := w.Write(append([]string{"run_id", "strategy", "cycle"}, states...)); err != nil {
			return err
		}
		for _, res := range r.Results {
			for t, v := range res.Counts() {
				if !slices.Equal(v.States, states) {
					return fmt.Errorf("strategy %s has states %v, expected %v", res.Strategy(), v.States, states)
				}
				row := make([]string, 0, 3+len(v.Counts))
				row = append(row, r.RunID, res.Strategy(), strconv.Itoa(t))
				for _, c := range v.Counts {
					row = append(row, f64(c))
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ValuesCSVFormatter writes per-cycle discounted and undiscounted values.
type ValuesCSVFormatter struct{}

func (ValuesCSVFormatter) Name() string { return "values-csv" }

func (ValuesCSVFormatter) Format(r *Report) ([]byte, error) {
	if len(r.Results) == 0 {
		return nil, fmt.Errorf("report has no simulation results")
	}
	return writeCSV(func(w *csv.Writer) error {
		header := []string{"run_id", "strategy", "cycle", "cost", "utility", "raw_cost", "raw_utility"}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, res := range r.Results {
			for _, cv := range res.Values() {
				row := []string{
					r.RunID, res.Strategy(), strconv.Itoa(cv.Cycle),
					f64(cv.Cost), f64(cv.Utility), f64(cv.RawCost), f64(cv.RawUtility),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CEACCSVFormatter writes the acceptability curve, one column per strategy.
type CEACCSVFormatter struct{}

func (CEACCSVFormatter) Name() string { return "ceac-csv" }

func (CEACCSVFormatter) Format(r *Report) ([]byte, error) {
	if r.PSA == nil || len(r.PSA.CEAC) == 0 {
		return nil, fmt.Errorf("report has no acceptability curve")
	}
	return writeCSV(func(w *csv.Writer) error {
		header := append([]string{"run_id", "lambda"}, r.PSA.Strategies...)
		header = append(header, "evpi")
		if err := w.Write(header); err != nil {
			return err
		}
		for i, p := range r.PSA.CEAC {
			row := []string{r.RunID, f64(p.Lambda)}
			for _, prob := range p.Probabilities {
				row = append(row, f64(prob))
			}
			evpi := ""
			if i < len(r.PSA.EVPI) {
				evpi = f64(r.PSA.EVPI[i].EVPI)
			}
			if err := w.Write(append(row, evpi)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DrawsCSVFormatter writes every PSA draw with its sampled values and the
// totals of each strategy. Failed draws keep their sampled values and error.
type DrawsCSVFormatter struct{}

func (DrawsCSVFormatter) Name() string { return "psa-csv" }

func (DrawsCSVFormatter) Format(r *Report) ([]byte, error) {
	if r.PSA == nil || r.PSA.Run == nil {
		return nil, fmt.Errorf("report has no PSA draws")
	}
	run := r.PSA.Run
	return writeCSV(func(w *csv.Writer) error {
		header := []string{"run_id", "draw", "status"}
		header = append(header, run.Parameters...)
		for _, s := range run.Strategies {
			header = append(header, s+"_cost", s+"_effect")
		}
		header = append(header, "error")
		if err := w.Write(header); err != nil {
			return err
		}
		for _, d := range run.Draws {
			status, msg := "ok", ""
			if d.Failed() {
				status, msg = "failed", d.Err.Error()
			}
			row := []string{r.RunID, strconv.Itoa(d.Index), status}
			for _, p := range run.Parameters {
				v, ok := d.Values[p]
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, f64(v))
			}
			for k := range run.Strategies {
				if d.Failed() || k >= len(d.Results) {
					row = append(row, "", "")
					continue
				}
				t := d.Results[k].Totals()
				row = append(row, f64(t.Cost), f64(t.Utility))
			}
			if err := w.Write(append(row, msg)); err != nil {
				return err
			}
		}
		return nil
	})
}

// TornadoCSVFormatter writes a one-way sensitivity analysis in tornado order.
type TornadoCSVFormatter struct{}

func (TornadoCSVFormatter) Name() string { return "tornado-csv" }

func (TornadoCSVFormatter) Format(r *Report) ([]byte, error) {
	if r.Sensitivity == nil {
		return nil, fmt.Errorf("report has no sensitivity analysis")
	}
	return writeCSV(func(w *csv.Writer) error {
		header := []string{
			"run_id", "parameter", "low", "high", "strategy",
			"low_cost", "high_cost", "low_effect", "high_effect", "cost_spread", "effect_spread",
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, res := range r.Sensitivity.Results {
			for i, lo := range res.LowTotals {
				hi := res.HighTotals[i]
				row := []string{
					r.RunID, res.Parameter, f64(res.Low), f64(res.High), lo.Strategy,
					f64(lo.Cost), f64(hi.Cost), f64(lo.Effect), f64(hi.Effect),
					f64(res.CostSpread), f64(res.EffectSpread),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
