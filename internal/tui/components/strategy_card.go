package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/psa"
	"github.com/rgehrsitz/cohortsim/internal/tui/tuistyles"
)

// StrategyCard shows one strategy's PSA outcome and, for non-reference
// strategies, its ICER against the reference.
type StrategyCard struct {
	Summary psa.StrategySummary
	ICER    *psa.ICERResult
	Width   int
}

// NewStrategyCard creates a card with the default width.
func NewStrategyCard(summary psa.StrategySummary) *StrategyCard {
	return &StrategyCard{Summary: summary, Width: 34}
}

// WithICER attaches the comparison against the reference strategy.
func (c *StrategyCard) WithICER(icer psa.ICERResult) *StrategyCard {
	c.ICER = &icer
	return c
}

// Render returns the bordered card.
func (c *StrategyCard) Render() string {
	var b strings.Builder
	b.WriteString(tuistyles.MetricValueStyle.Render(c.Summary.Strategy) + "\n")
	b.WriteString(tuistyles.MetricLabelStyle.Render("cost   ") +
		output.FormatCurrency(c.Summary.Cost.Mean) + "\n")
	b.WriteString(tuistyles.MetricLabelStyle.Render("       ") +
		tuistyles.SubtitleStyle.Render(fmt.Sprintf("%s - %s",
			output.FormatCurrency(c.Summary.Cost.Lower), output.FormatCurrency(c.Summary.Cost.Upper))) + "\n")
	b.WriteString(tuistyles.MetricLabelStyle.Render("effect ") +
		output.FormatEffect(c.Summary.Effect.Mean))

	if c.ICER != nil {
		// More effect for less money reads as an improvement.
		better := c.ICER.Interpretation == psa.Dominant ||
			(c.ICER.Interpretation == psa.Ratio && c.ICER.IncrementalEffect > 0)
		b.WriteString("\n" + tuistyles.MetricTrendStyle(better).Render(
			fmt.Sprintf("%s ICER %s", tuistyles.TrendIndicator(better), output.FormatICER(*c.ICER))))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tuistyles.ColorBorder).
		Padding(0, 1).
		Width(c.Width).
		Render(b.String())
}

// CardGrid lays cards out in rows of the given width.
func CardGrid(cards []*StrategyCard, columns int) string {
	if len(cards) == 0 {
		return ""
	}
	if columns < 1 {
		columns = 1
	}
	var rows, current []string
	for i, card := range cards {
		current = append(current, card.Render())
		if (i+1)%columns == 0 || i == len(cards)-1 {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, current...))
			current = nil
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// SummaryCards builds one card per strategy, attaching the ICERs of
// everything after the reference.
func SummaryCards(rep *output.PSAReport) []*StrategyCard {
	icers := make(map[string]psa.ICERResult, len(rep.ICERs))
	for _, icer := range rep.ICERs {
		icers[icer.Comparator] = icer
	}
	cards := make([]*StrategyCard, 0, len(rep.Summary))
	for _, s := range rep.Summary {
		card := NewStrategyCard(s)
		if icer, ok := icers[s.Strategy]; ok {
			card.WithICER(icer)
		}
		cards = append(cards, card)
	}
	return cards
}
