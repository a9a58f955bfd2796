// Package tui shows the progress of a PSA batch in the terminal and a
// summary once it finishes.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "cancel")),
}

// Model is the state of a running batch.
type Model struct {
	title string
	total int

	done    int
	failed  int
	lastErr error

	bar     progress.Model
	spinner spinner.Model
	width   int
	started time.Time

	report   *output.PSAReport
	err      error
	finished bool
	canceled bool

	cancel context.CancelFunc
}

// NewModel creates the model for a batch of total draws. cancel is called
// when the user quits before the batch ends.
func NewModel(title string, total int, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		title:   title,
		total:   total,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		spinner: s,
		width:   80,
		started: time.Now(),
		cancel:  cancel,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Report returns the finished batch, if any.
func (m Model) Report() *output.PSAReport { return m.report }

// Err returns the batch error, or context.Canceled when the user quit.
func (m Model) Err() error {
	if m.err == nil && m.canceled {
		return context.Canceled
	}
	return m.err
}

// Percent is the share of draws completed.
func (m Model) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// Work runs a batch, reporting each draw through onDraw.
type Work func(ctx context.Context, onDraw func(psa.Progress)) (*output.PSAReport, error)

// Run drives work under a bubbletea program and returns its outcome.
// Quitting the program cancels the work's context.
func Run(ctx context.Context, title string, total int, work Work, opts ...tea.ProgramOption) (*output.PSAReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, total, cancel), opts...)
	go func() {
		rep, err := work(ctx, func(pr psa.Progress) { p.Send(DrawMsg{Progress: pr}) })
		p.Send(DoneMsg{Report: rep, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress display: %w", err)
	}
	m := final.(Model)
	return m.Report(), m.Err()
}
