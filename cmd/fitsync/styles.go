package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	// Brand
	colorPrimary      = lipgloss.Color("#F97316") // Ember orange, headings and spinner
	colorPrimaryLight = lipgloss.Color("#FB923C") // Field labels

	// Neutral
	colorText  = lipgloss.Color("#F5F5F4") // Values
	colorMuted = lipgloss.Color("240")     // Secondary text

	// State
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B") // Queued or offline
	colorError   = lipgloss.Color("#EF4444")
)

// Styles
var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimaryLight).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(colorText)
)

// Icons
const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconInfo    = "●"
)

// testIsTTYOverride forces isTTY in tests. Nil means real detection.
var (
	testIsTTYOverride *bool
	testIsTTYMutex    sync.RWMutex
)

// isTTY returns true if stdout is a terminal
func isTTY() bool {
	testIsTTYMutex.RLock()
	override := testIsTTYOverride
	testIsTTYMutex.RUnlock()
	if override != nil {
		return *override
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printStyled prints an icon and message. Colors are applied only on a terminal.
func printStyled(w io.Writer, icon string, style lipgloss.Style, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
	} else {
		fmt.Fprintf(w, "%s %s\n", icon, msg)
	}
}

// printSuccess prints a success message with a green check mark
func printSuccess(w io.Writer, format string, args ...any) {
	printStyled(w, iconSuccess, successStyle, format, args...)
}

// printError prints an error message with a red cross
func printError(w io.Writer, format string, args ...any) {
	printStyled(w, iconError, errorStyle, format, args...)
}

// printWarning prints a warning in amber, used for queued and offline notices
func printWarning(w io.Writer, format string, args ...any) {
	printStyled(w, iconWarning, warningStyle, format, args...)
}

// printInfo prints an info message with an orange dot
func printInfo(w io.Writer, format string, args ...any) {
	printStyled(w, iconInfo, infoStyle, format, args...)
}

// printMuted prints muted/secondary text
func printMuted(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintln(w, mutedStyle.Render(msg))
	} else {
		fmt.Fprintln(w, msg)
	}
}

// printField prints an aligned "label: value" line.
func printField(w io.Writer, label string, format string, args ...any) {
	label = fmt.Sprintf("%-20s", label+":")
	value := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	} else {
		fmt.Fprintf(w, "%s %s\n", label, value)
	}
}

// renderMarkdown renders workout notes with glamour on terminals.
func renderMarkdown(content string) string {
	if !isTTY() || !hasMarkdown(content) {
		return content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

// hasMarkdown checks if content contains markdown-like syntax.
// Ordered from most specific to least to reduce false positives.
func hasMarkdown(content string) bool {
	markers := []string{
		"```",    // fenced block
		"## ",    // heading
		"# ",     // heading
		"**",     // bold
		"1. ",    // numbered list
		"- ",     // bullet
		"* ",     // bullet
		"](http", // link
		"`",      // inline code, most prone to false positives
	}
	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
