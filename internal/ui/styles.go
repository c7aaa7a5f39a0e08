// Package ui holds terminal output styling shared by the CLI commands.
// Styling is disabled automatically when stdout is not a terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	colorEnabled = detectColor()
)

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func render(s lipgloss.Style, text string) string {
	if !colorEnabled {
		return text
	}
	return s.Render(text)
}

// RenderPass styles success markers.
func RenderPass(text string) string { return render(passStyle, text) }

// RenderWarn styles warnings.
func RenderWarn(text string) string { return render(warnStyle, text) }

// RenderErr styles errors.
func RenderErr(text string) string { return render(errStyle, text) }

// RenderAccent styles informational highlights.
func RenderAccent(text string) string { return render(accentStyle, text) }

// RenderDim styles secondary detail.
func RenderDim(text string) string { return render(dimStyle, text) }

// RenderHeader styles section headers.
func RenderHeader(text string) string { return render(headerStyle, text) }

// Interactive reports whether both stdin and stdout are terminals, which
// interactive prompts require.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
