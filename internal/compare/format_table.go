package compare

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TableFormatter formats comparison results as a console table
type TableFormatter struct{}

// Format generates a formatted table comparing strategies
func (tf *TableFormatter) Format(compSet *ComparisonSet) string {
	var sb strings.Builder

	sb.WriteString("COST-EFFECTIVENESS COMPARISON\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	if compSet.Scenario != "" {
		sb.WriteString(fmt.Sprintf("Scenario: %s\n", compSet.Scenario))
	}
	sb.WriteString(fmt.Sprintf("Reference Strategy: %s\n", compSet.Reference))
	if compSet.ConfigPath != "" {
		sb.WriteString(fmt.Sprintf("Configuration: %s\n", compSet.ConfigPath))
	}
	sb.WriteString("\n")

	nameWidth := 22
	numWidth := 14

	sb.WriteString(fmt.Sprintf("%-*s %*s %*s %*s %*s\n",
		nameWidth, "Strategy",
		numWidth, "Cost",
		numWidth, "Effect",
		numWidth, "Incr. Cost",
		numWidth, "ICER"))
	sb.WriteString(strings.Repeat("-", 80) + "\n")

	for _, r := range compSet.Results {
		sb.WriteString(tf.formatRow(r, compSet.Reference, nameWidth, numWidth))
	}

	sb.WriteString(strings.Repeat("=", 80) + "\n")

	if len(compSet.Recommendations) > 0 {
		sb.WriteString("\nFINDINGS\n")
		sb.WriteString(strings.Repeat("-", 80) + "\n")
		for _, rec := range compSet.Recommendations {
			sb.WriteString(fmt.Sprintf("• %s\n", rec))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatRow formats a single strategy row
func (tf *TableFormatter) formatRow(r ComparisonResult, reference string, nameWidth, numWidth int) string {
	name := r.Strategy
	if name == reference {
		name += " (ref)"
	}

	incr := "-"
	if r.Versus != "" {
		incr = tf.deltaSymbol(r.IncrementalCost) + "$" + tf.formatDecimal(r.IncrementalCost.Abs())
	}

	icer := "-"
	switch {
	case r.Dominance == StrictlyDominated:
		icer = "dominated"
	case r.Dominance == ExtendedlyDominated:
		icer = "ext. dominated"
	case r.ICER != nil:
		icer = "$" + tf.formatDecimal(*r.ICER)
	}

	return fmt.Sprintf("%-*s %*s %*s %*s %*s\n",
		nameWidth, tf.truncate(name, nameWidth),
		numWidth, "$"+tf.formatDecimal(r.Cost),
		numWidth, fmt.Sprintf("%.4f", r.Effect),
		numWidth, incr,
		numWidth, icer)
}

// formatDecimal formats a decimal for display (in thousands)
func (tf *TableFormatter) formatDecimal(d decimal.Decimal) string {
	if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1000000)) {
		millions := d.Div(decimal.NewFromInt(1000000))
		return millions.StringFixed(2) + "M"
	} else if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		thousands := d.Div(decimal.NewFromInt(1000))
		return thousands.StringFixed(1) + "K"
	}
	return d.StringFixed(0)
}

// deltaSymbol returns a + or - symbol for deltas
func (tf *TableFormatter) deltaSymbol(delta decimal.Decimal) string {
	if delta.IsPositive() {
		return "+"
	} else if delta.IsNegative() {
		return "-"
	}
	return ""
}

// truncate truncates a string to maxLen
func (tf *TableFormatter) truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// FormatCompact creates a compact single-line summary of the frontier
func (tf *TableFormatter) FormatCompact(compSet *ComparisonSet) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Reference: %s", compSet.Reference))

	for _, r := range compSet.Results {
		if r.Versus == "" {
			continue
		}
		sb.WriteString(" | ")
		switch {
		case !r.OnFrontier():
			sb.WriteString(fmt.Sprintf("%s: %s", r.Strategy, r.Dominance))
		case r.ICER != nil:
			sb.WriteString(fmt.Sprintf("%s: $%s/unit", r.Strategy, tf.formatDecimal(*r.ICER)))
		default:
			sb.WriteString(fmt.Sprintf("%s: =", r.Strategy))
		}
	}

	return sb.String()
}
