package display

import "github.com/fatih/color"

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	SectionBreak   = "━"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolEscalated = "⚑"
	SymbolPending = "○"
	SymbolRunning = "◐"
)

// Gutter markers distinguishing controller narration from the
// assistant's own chat turns in the scrolling transcript.
const (
	GutterSprint    = "▌"
	GutterAssistant = "·"
	GutterDot       = " "
)

// IndentAssistant is the indentation applied to assistant turn output.
const IndentAssistant = "  "

// Theme holds all color functions for consistent styling.
type Theme struct {
	// Sprint Controller narration (prominent)
	SprintBorder func(a ...interface{}) string
	SprintLabel  func(a ...interface{}) string
	SprintText   func(a ...interface{}) string

	// Assistant chat turns (subdued)
	AssistantTimestamp func(a ...interface{}) string
	AssistantText      func(a ...interface{}) string

	// Status indicators
	Success   func(a ...interface{}) string
	Error     func(a ...interface{}) string
	Warning   func(a ...interface{}) string
	Info      func(a ...interface{}) string
	Escalated func(a ...interface{}) string

	// Structural elements
	Bold      func(a ...interface{}) string
	Dim       func(a ...interface{}) string
	Separator func(a ...interface{}) string
}

// DefaultTheme creates the default color theme.
func DefaultTheme() *Theme {
	return &Theme{
		SprintBorder: color.New(color.FgCyan).SprintFunc(),
		SprintLabel:  color.New(color.FgCyan, color.Bold).SprintFunc(),
		SprintText:   color.New(color.FgWhite).SprintFunc(),

		AssistantTimestamp: color.New(color.FgHiBlack).SprintFunc(),
		AssistantText:      color.New(color.FgWhite).SprintFunc(),

		Success:   color.New(color.FgGreen).SprintFunc(),
		Error:     color.New(color.FgRed).SprintFunc(),
		Warning:   color.New(color.FgYellow).SprintFunc(),
		Info:      color.New(color.FgCyan).SprintFunc(),
		Escalated: color.New(color.FgMagenta, color.Bold).SprintFunc(),

		Bold:      color.New(color.Bold).SprintFunc(),
		Dim:       color.New(color.FgHiBlack).SprintFunc(),
		Separator: color.New(color.FgCyan).SprintFunc(),
	}
}

// NoColorTheme creates a theme without colors (for --no-color flag or
// non-TTY output).
func NoColorTheme() *Theme {
	identity := func(a ...interface{}) string {
		if len(a) == 0 {
			return ""
		}
		return a[0].(string)
	}
	return &Theme{
		SprintBorder:       identity,
		SprintLabel:        identity,
		SprintText:         identity,
		AssistantTimestamp: identity,
		AssistantText:      identity,
		Success:            identity,
		Error:              identity,
		Warning:            identity,
		Info:               identity,
		Escalated:          identity,
		Bold:               identity,
		Dim:                identity,
		Separator:          identity,
	}
}
