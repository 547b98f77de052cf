package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModeStyled renders with lipgloss colors and borders.
	ModeStyled OutputMode = iota

	// ModePlain uses plain text output.
	ModePlain

	// ModeJSON prints machine readable JSON.
	ModeJSON
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModeStyled:
		return "styled"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	getenv    func(string) string
	isTTY     func() bool
}

// NewDetector creates a new output mode detector.
func NewDetector() *Detector {
	return &Detector{
		getenv: os.Getenv,
		isTTY: func() bool {
			return term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables styled output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}
	if d.getenv("QGRID_OUTPUT") == "json" {
		return ModeJSON
	}
	if d.noColor || d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return ModePlain
	}
	if d.getenv("CI") != "" || d.getenv("GITHUB_ACTIONS") != "" {
		return ModePlain
	}
	if !d.isTTY() {
		return ModePlain
	}
	return ModeStyled
}
