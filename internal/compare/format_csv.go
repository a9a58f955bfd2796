package compare

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// CSVFormatter formats comparison results as CSV
type CSVFormatter struct{}

// Format generates CSV output for one or more comparison sets
func (cf *CSVFormatter) Format(compSets ...*ComparisonSet) (string, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)

	header := []string{
		"Scenario",
		"Strategy",
		"Cost",
		"Effect",
		"Versus",
		"Incremental Cost",
		"Incremental Effect",
		"ICER",
		"Dominance",
	}
	if err := writer.Write(header); err != nil {
		return "", err
	}

	for _, cs := range compSets {
		for _, r := range cs.Results {
			if err := writer.Write(cf.formatRow(cs.Scenario, r)); err != nil {
				return "", err
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// formatRow formats a comparison result as a CSV row
func (cf *CSVFormatter) formatRow(scenario string, r ComparisonResult) []string {
	icer := ""
	if r.ICER != nil && r.OnFrontier() {
		icer = r.ICER.StringFixed(2)
	}
	incCost, incEffect := "", ""
	if r.Versus != "" {
		incCost = r.IncrementalCost.StringFixed(2)
		incEffect = formatFloat(r.IncrementalEffect)
	}
	return []string{
		scenario,
		r.Strategy,
		r.Cost.StringFixed(2),
		formatFloat(r.Effect),
		r.Versus,
		incCost,
		incEffect,
		icer,
		string(r.Dominance),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
