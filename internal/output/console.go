package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorDanger  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	warnStyle    = lipgloss.NewStyle().Foreground(colorDanger)
)

// ConsoleFormatter renders a human-readable summary of whatever the report
// holds: deterministic totals, PSA summary and sensitivity ranking.
type ConsoleFormatter struct{}

func (ConsoleFormatter) Name() string { return "console" }

func (ConsoleFormatter) Format(r *Report) ([]byte, error) {
	var sb strings.Builder

	title := "COHORT SIMULATION"
	if r.Model != "" {
		title += ": " + r.Model
	}
	sb.WriteString(titleStyle.Render(title) + "\n")
	sb.WriteString(fmt.Sprintf("Run %s | %d cycles | method %s | discount cost %g effect %g\n\n",
		r.RunID, r.Settings.Cycles, r.Settings.Method, r.Settings.Discount.Cost, r.Settings.Discount.Effect))

	if len(r.Results) > 0 {
		writeTotals(&sb, r)
	}
	if r.PSA != nil {
		writePSA(&sb, r.PSA)
	}
	if r.Sensitivity != nil {
		writeTornado(&sb, r)
	}
	return []byte(sb.String()), nil
}

func row(cells ...string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...) + "\n"
}

func cell(width int, s string) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}

func rcell(width int, s string) string {
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Right).Render(s)
}

func writeTotals(sb *strings.Builder, r *Report) {
	sb.WriteString(sectionStyle.Render("DISCOUNTED TOTALS") + "\n")
	sb.WriteString(headerStyle.Render(row(cell(24, "Strategy"), rcell(18, "Cost"), rcell(14, "Effect"))))
	for _, res := range r.Results {
		t := res.Totals()
		sb.WriteString(row(cell(24, res.Strategy()), rcell(18, FormatCurrency(t.Cost)), rcell(14, FormatEffect(t.Utility))))
	}
	sb.WriteString("\n")
}

func writePSA(sb *strings.Builder, p *PSAReport) {
	sb.WriteString(sectionStyle.Render("PROBABILISTIC SENSITIVITY ANALYSIS") + "\n")
	sb.WriteString(fmt.Sprintf("Seed %d | %d draws", p.Seed, p.Draws))
	if p.Failed > 0 {
		sb.WriteString(warnStyle.Render(fmt.Sprintf(" | %d failed", p.Failed)))
	}
	sb.WriteString("\n")

	sb.WriteString(headerStyle.Render(row(
		cell(20, "Strategy"), rcell(16, "Mean cost"), rcell(30, "95% interval"),
		rcell(12, "Mean effect"), rcell(22, "95% interval"))))
	for _, s := range p.Summary {
		sb.WriteString(row(
			cell(20, s.Strategy),
			rcell(16, FormatCurrency(s.Cost.Mean)),
			rcell(30, FormatCurrency(s.Cost.Lower)+" - "+FormatCurrency(s.Cost.Upper)),
			rcell(12, FormatEffect(s.Effect.Mean)),
			rcell(22, FormatEffect(s.Effect.Lower)+" - "+FormatEffect(s.Effect.Upper)),
		))
	}

	if len(p.ICERs) > 0 {
		sb.WriteString("\n")
		for _, icer := range p.ICERs {
			sb.WriteString(fmt.Sprintf("%s vs %s: incremental cost %s, incremental effect %s, ICER %s\n",
				icer.Comparator, icer.Reference,
				FormatCurrency(icer.IncrementalCost), FormatEffect(icer.IncrementalEffect), FormatICER(icer)))
		}
	}

	if len(p.CEAC) > 0 {
		sb.WriteString("\n" + headerStyle.Render("Probability cost-effective") + "\n")
		header := []string{rcell(14, "WTP")}
		for _, s := range p.Strategies {
			header = append(header, rcell(14, s))
		}
		sb.WriteString(headerStyle.Render(row(header...)))
		for _, pt := range ceacSample(p.CEAC, 6) {
			cells := []string{rcell(14, FormatCurrency(pt.Lambda))}
			for _, prob := range pt.Probabilities {
				cells = append(cells, rcell(14, fmt.Sprintf("%.1f%%", prob*100)))
			}
			sb.WriteString(row(cells...))
		}
	}
	sb.WriteString("\n")
}

// ceacSample picks at most n evenly spaced points, always including both ends.
func ceacSample[T any](points []T, n int) []T {
	if len(points) <= n || n < 2 {
		return points
	}
	out := make([]T, 0, n)
	step := float64(len(points)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, points[int(float64(i)*step+0.5)])
	}
	return out
}

func writeTornado(sb *strings.Builder, r *Report) {
	sb.WriteString(sectionStyle.Render("ONE-WAY SENSITIVITY") + "\n")
	sb.WriteString(headerStyle.Render(row(
		cell(22, "Parameter"), rcell(12, "Low"), rcell(12, "High"),
		rcell(18, "Cost spread"), rcell(14, "Effect spread"))))
	for _, res := range r.Sensitivity.Results {
		sb.WriteString(row(
			cell(22, res.Parameter),
			rcell(12, fmt.Sprintf("%g", res.Low)),
			rcell(12, fmt.Sprintf("%g", res.High)),
			rcell(18, FormatCurrency(res.CostSpread)),
			rcell(14, FormatEffect(res.EffectSpread)),
		))
	}
	sb.WriteString("\n")
}
