package tui

import (
	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

// DrawMsg reports one completed PSA draw.
type DrawMsg struct {
	Progress psa.Progress
}

// DoneMsg signals the batch has finished, successfully or not.
type DoneMsg struct {
	Report *output.PSAReport
	Err    error
}
