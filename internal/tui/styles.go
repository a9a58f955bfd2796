package tui

import "github.com/rgehrsitz/cohortsim/internal/tui/tuistyles"

// Re-export styles from tuistyles to avoid import cycles
var (
	TitleStyle    = tuistyles.TitleStyle
	SubtitleStyle = tuistyles.SubtitleStyle
	ErrorStyle    = tuistyles.ErrorStyle
	HelpStyle     = tuistyles.HelpStyle
)
