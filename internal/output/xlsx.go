package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXFormatter writes the report as a workbook with one sheet per section.
type XLSXFormatter struct{}

func (XLSXFormatter) Name() string { return "xlsx" }

func (XLSXFormatter) Format(r *Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Run"); err != nil {
		return nil, err
	}
	w := &sheetWriter{f: f, sheet: "Run"}
	w.row("run_id", r.RunID)
	w.row("model", r.Model)
	w.row("created_at", r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	w.row("cycles", r.Settings.Cycles)
	w.row("method", string(r.Settings.Method))
	w.row("cost_discount", r.Settings.Discount.Cost)
	w.row("effect_discount", r.Settings.Discount.Effect)

	if len(r.Results) > 0 {
		w = w.next("Totals")
		w.row("strategy", "cost", "effect")
		for _, res := range r.Results {
			t := res.Totals()
			w.row(res.Strategy(), t.Cost, t.Utility)
		}

		w = w.next("Counts")
		states := r.Results[0].Counts()[0].States
		header := []any{"strategy", "cycle"}
		for _, s := range states {
			header = append(header, s)
		}
		w.row(header...)
		for _, res := range r.Results {
			for t, v := range res.Counts() {
				cells := []any{res.Strategy(), t}
				for _, c := range v.Counts {
					cells = append(cells, c)
				}
				w.row(cells...)
			}
		}

		w = w.next("Values")
		w.row("strategy", "cycle", "cost", "utility", "raw_cost", "raw_utility")
		for _, res := range r.Results {
			for _, v := range res.Values() {
				w.row(res.Strategy(), v.Cycle, v.Cost, v.Utility, v.RawCost, v.RawUtility)
			}
		}
	}

	if p := r.PSA; p != nil {
		w = w.next("PSA")
		w.row("seed", p.Seed, "draws", p.Draws, "failed", p.Failed)
		w.row()
		w.row("strategy", "cost_mean", "cost_sd", "cost_p2_5", "cost_median", "cost_p97_5",
			"effect_mean", "effect_sd", "effect_p2_5", "effect_median", "effect_p97_5")
		for _, s := range p.Summary {
			w.row(s.Strategy, s.Cost.Mean, s.Cost.SD, s.Cost.Lower, s.Cost.Median, s.Cost.Upper,
				s.Effect.Mean, s.Effect.SD, s.Effect.Lower, s.Effect.Median, s.Effect.Upper)
		}
		w.row()
		w.row("reference", "comparator", "incremental_cost", "incremental_effect", "icer", "interpretation")
		for _, ic := range p.ICERs {
			var icer any = ""
			if ic.ICER != nil {
				icer = *ic.ICER
			}
			w.row(ic.Reference, ic.Comparator, ic.IncrementalCost, ic.IncrementalEffect, icer, string(ic.Interpretation))
		}

		if len(p.CEAC) > 0 {
			w = w.next("CEAC")
			header := []any{"lambda"}
			for _, s := range p.Strategies {
				header = append(header, s)
			}
			w.row(append(header, "evpi")...)
			for i, pt := range p.CEAC {
				cells := []any{pt.Lambda}
				for _, prob := range pt.Probabilities {
					cells = append(cells, prob)
				}
				if i < len(p.EVPI) {
					cells = append(cells, p.EVPI[i].EVPI)
				}
				w.row(cells...)
			}
		}
	}

	if sa := r.Sensitivity; sa != nil {
		w = w.next("Sensitivity")
		w.row("parameter", "low", "high", "strategy", "low_cost", "high_cost", "low_effect", "high_effect")
		for _, res := range sa.Results {
			for i, lt := range res.LowTotals {
				ht := res.HighTotals[i]
				w.row(res.Parameter, res.Low, res.High, lt.Strategy, lt.Cost, ht.Cost, lt.Effect, ht.Effect)
			}
		}
	}
	if w.err != nil {
		return nil, fmt.Errorf("failed to build workbook: %w", w.err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter appends rows to one sheet and keeps the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	line  int
	err   error
}

func (w *sheetWriter) next(sheet string) *sheetWriter {
	nw := &sheetWriter{f: w.f, sheet: sheet, err: w.err}
	if nw.err == nil {
		_, nw.err = w.f.NewSheet(sheet)
	}
	return nw
}

func (w *sheetWriter) row(cells ...any) {
	w.line++
	if w.err != nil || len(cells) == 0 {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.line)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(w.sheet, cell, &cells)
}
