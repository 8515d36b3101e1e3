// Package ui renders sessiond CLI output for terminals.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent  = 74  // blue
	colorCanon   = 114 // green
	colorGuessed = 179 // amber
	colorMuted   = 245 // medium gray
	colorError   = 167 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color. Used for session ids.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderError returns s in the error (red) color.
func RenderError(s string) string { return paint(colorError, s) }

// RenderBoundary formats a session boundary timestamp, marking guessed
// boundaries with a trailing "?".
func RenderBoundary(ts uint64, canon bool) string {
	if canon {
		return paint(colorCanon, fmt.Sprintf("%d", ts))
	}
	return paint(colorGuessed, fmt.Sprintf("%d?", ts))
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// ForceColor enables color output globally.
func ForceColor() {
	noColor = false
}
