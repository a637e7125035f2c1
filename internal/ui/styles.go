package ui

import (
	"fmt"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent   = 74  // blue
	colorMuted    = 245 // medium gray
	colorOK       = 71  // green
	colorWarn     = 178 // amber
	colorCritical = 167 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderUrgency colors an urgency label by severity.
func RenderUrgency(u model.Urgency) string {
	switch u {
	case model.UrgencyCritical, model.UrgencyHigh:
		return paint(colorCritical, string(u))
	case model.UrgencyMedium:
		return paint(colorWarn, string(u))
	case model.UrgencyLow:
		return paint(colorMuted, string(u))
	}
	return string(u)
}

// RenderVerified renders a verified marker, or a muted placeholder.
func RenderVerified(v bool) string {
	if v {
		return RenderOK("✓")
	}
	return RenderMuted("·")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
