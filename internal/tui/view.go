package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rgehrsitz/cohortsim/internal/tui/components"
)

// View renders progress while the batch runs and the strategy cards after.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title) + "\n")

	switch {
	case m.err != nil:
		b.WriteString(ErrorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.finished && m.report != nil:
		columns := max(m.width/36, 1)
		b.WriteString(components.CardGrid(components.SummaryCards(m.report), columns) + "\n")
		b.WriteString(SubtitleStyle.Render(fmt.Sprintf("%d draws, %d failed, %s",
			m.report.Draws, m.report.Failed, time.Since(m.started).Round(time.Millisecond))) + "\n")
		return b.String()
	case m.canceled:
		b.WriteString(SubtitleStyle.Render("Canceling...") + "\n")
	default:
		b.WriteString(m.spinner.View() + " " + m.bar.ViewAs(m.Percent()) + "\n")
		status := fmt.Sprintf("%d/%d draws", m.done, m.total)
		if m.failed > 0 {
			status += ErrorStyle.Render(fmt.Sprintf("  %d failed", m.failed))
		}
		b.WriteString(SubtitleStyle.Render(status) + "\n")
		if m.lastErr != nil {
			b.WriteString(SubtitleStyle.Render("last error: "+m.lastErr.Error()) + "\n")
		}
	}

	b.WriteString(HelpStyle.Render(keys.Quit.Help().Key+" "+keys.Quit.Help().Desc) + "\n")
	return b.String()
}
