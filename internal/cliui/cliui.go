// Package cliui renders snekrpc-cli output, adapted from the teacher's
// lipgloss-based status printer (go-mizu-mizu blueprints/bi/cli/ui.go)
// down to the handful of message kinds a metadata-driven RPC CLI needs.
package cliui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerColor = lipgloss.Color("#509EE3")
	okColor     = lipgloss.Color("#88BF4D")
	errColor    = lipgloss.Color("#EF8C8C")
	mutedColor  = lipgloss.Color("#949AAB")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(headerColor)
	okStyle     = lipgloss.NewStyle().Foreground(okColor)
	errStyle    = lipgloss.NewStyle().Foreground(errColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	keyStyle    = lipgloss.NewStyle().Foreground(mutedColor).Width(16)
)

// Header prints a styled section header to stderr.
func Header(text string) {
	fmt.Fprintln(os.Stderr, headerStyle.Render(text))
}

// KV prints one key/value line.
func KV(key string, value any) {
	fmt.Fprintf(os.Stderr, "  %s %v\n", keyStyle.Render(key+":"), value)
}

// OK prints a success line.
func OK(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", okStyle.Render("[ok]"), msg)
}

// Error prints a failure line.
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errStyle.Render("[error]"), msg)
}

// Muted prints a de-emphasized line.
func Muted(msg string) {
	fmt.Fprintln(os.Stderr, mutedStyle.Render(msg))
}
