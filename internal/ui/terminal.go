// Package ui holds terminal helpers shared by the miyah commands.
package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor returns true when ANSI colors should be used on stdout.
func ShouldUseColor() bool {
	return shouldUseColor(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// shouldUseColor respects NO_COLOR, CLICOLOR_FORCE and CLICOLOR before
// falling back to TTY detection.
func shouldUseColor(getenv func(string) string, isTTY bool) bool {
	// https://no-color.org: any non-empty value disables color.
	if getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" {
		return false
	}
	return isTTY
}

// TerminalWidth returns the width of stdout, or fallback when stdout is not
// a terminal.
func TerminalWidth(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
