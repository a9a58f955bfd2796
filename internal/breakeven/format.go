package breakeven

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TableFormatter formats threshold results as a console table
type TableFormatter struct{}

// Format generates a formatted table for one threshold result
func (tf *TableFormatter) Format(result *Result) string {
	var sb strings.Builder
	req := result.Request

	sb.WriteString("THRESHOLD ANALYSIS\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString(fmt.Sprintf("Parameter:           %s (%g to %g)\n", req.Parameter, req.Min, req.Max))
	sb.WriteString(fmt.Sprintf("Comparison:          %s vs %s\n", req.Comparator, req.Reference))
	sb.WriteString(fmt.Sprintf("Goal:                %s\n", tf.formatGoal(req)))
	sb.WriteString(fmt.Sprintf("Status:              %s\n", tf.formatStatus(result)))
	sb.WriteString(fmt.Sprintf("Iterations:          %d\n", result.Iterations))
	if result.ConvergenceInfo != "" {
		sb.WriteString(fmt.Sprintf("Convergence:         %s\n", result.ConvergenceInfo))
	}
	sb.WriteString("\n")

	if result.Threshold != nil {
		sb.WriteString(fmt.Sprintf("Threshold:           %s = %.6g\n", req.Parameter, *result.Threshold))
		if len(result.AtThreshold) == 2 {
			sb.WriteString(fmt.Sprintf("  %-18s cost %s  effect %s\n", req.Reference,
				tf.formatCurrency(result.AtThreshold[0].Cost), tf.formatEffect(result.AtThreshold[0].Utility)))
			sb.WriteString(fmt.Sprintf("  %-18s cost %s  effect %s\n", req.Comparator,
				tf.formatCurrency(result.AtThreshold[1].Cost), tf.formatEffect(result.AtThreshold[1].Utility)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("BOUNDS\n")
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	sb.WriteString(fmt.Sprintf("%-14s %16s %16s %16s\n", "Value", "Incr. Cost", "Incr. Effect", "Gap"))
	for _, p := range []Point{result.AtMin, result.AtMax} {
		sb.WriteString(tf.formatPoint(p))
	}
	return sb.String()
}

// FormatSweep renders sweep points as a table
func (tf *TableFormatter) FormatSweep(req Request, points []Point) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SWEEP: %s (%s vs %s, %s)\n", req.Parameter, req.Comparator, req.Reference, tf.formatGoal(req)))
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	sb.WriteString(fmt.Sprintf("%-14s %16s %16s %16s\n", "Value", "Incr. Cost", "Incr. Effect", "Gap"))
	for _, p := range points {
		sb.WriteString(tf.formatPoint(p))
	}
	return sb.String()
}

// FormatMulti renders several results followed by recommendations
func (tf *TableFormatter) FormatMulti(multi *MultiResult) string {
	var sb strings.Builder
	for i := range multi.Results {
		sb.WriteString(tf.Format(&multi.Results[i]))
		sb.WriteString("\n")
	}
	if len(multi.Recommendations) > 0 {
		sb.WriteString("RECOMMENDATIONS\n")
		sb.WriteString(strings.Repeat("-", 80) + "\n")
		for _, r := range multi.Recommendations {
			sb.WriteString("  * " + r + "\n")
		}
	}
	return sb.String()
}

func (tf *TableFormatter) formatPoint(p Point) string {
	return fmt.Sprintf("%-14.6g %16s %16s %16s\n", p.Value,
		tf.formatCurrency(p.IncrementalCost), tf.formatEffect(p.IncrementalEffect),
		decimal.NewFromFloat(p.Gap).StringFixed(2))
}

func (tf *TableFormatter) formatGoal(req Request) string {
	if req.Goal == GoalNetBenefit {
		return fmt.Sprintf("%s at %s per unit of effect", req.Goal, tf.formatCurrency(req.WillingnessToPay))
	}
	return string(req.Goal)
}

func (tf *TableFormatter) formatStatus(r *Result) string {
	switch {
	case r.Success:
		return "✓ Threshold found"
	case r.Bracketed:
		return "⚠ Not converged"
	}
	return "✗ No threshold in range"
}

func (tf *TableFormatter) formatCurrency(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

func (tf *TableFormatter) formatEffect(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

// JSONFormatter formats threshold results as JSON
type JSONFormatter struct {
	Pretty bool
}

// Format generates JSON for any result value of this package
func (jf *JSONFormatter) Format(v any) (string, error) {
	var data []byte
	var err error
	if jf.Pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal threshold result: %w", err)
	}
	return string(data), nil
}
