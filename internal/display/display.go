// Package display provides unified terminal output for the CODOR CLI.
// It visually separates Sprint Controller narration from the assistant's
// own chat turns, the way the teacher's display package separated its
// orchestration output from the driven CLI's output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Display handles all CLI output with visual hierarchy.
type Display struct {
	theme     *Theme
	termWidth int
	noColor   bool
}

// New creates a Display with color enabled.
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with the given --no-color setting.
func NewWithOptions(noColor bool) *Display {
	d := &Display{
		termWidth: getTerminalWidth(),
		noColor:   noColor,
	}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120
	}
	return width
}

// Sprint prints a boxed message for Sprint Controller narration.
func (d *Display) Sprint(lines ...string) {
	d.SprintBox("CODOR", lines...)
}

// SprintBox prints a boxed message with a custom title.
func (d *Display) SprintBox(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := len(title) + 4 // "─ TITLE "
	remainingWidth := width - titleLen
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Println(d.theme.SprintBorder(topLine))

	for _, line := range lines {
		paddedLine := d.padRight(line, width-2)
		fmt.Println(d.theme.SprintBorder(BoxVertical) + " " + d.theme.SprintText(paddedLine) + " " + d.theme.SprintBorder(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Println(d.theme.SprintBorder(bottomLine))
}

// Status prints a single-line status message (no box).
func (d *Display) Status(symbol, message string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n", d.theme.SprintBorder(timestamp), symbol, d.theme.SprintText(message))
}

// Success prints a success message, e.g. a task sealing.
func (d *Display) Success(message string) {
	d.Status(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message.
func (d *Display) Error(message string) {
	d.Status(d.theme.Error(SymbolError), message)
}

// Warning prints a warning, e.g. a non-blocking validation finding or a
// flaky-test flag.
func (d *Display) Warning(message string) {
	d.Status(d.theme.Warning(SymbolWarning), message)
}

// Info prints a labeled informational line.
func (d *Display) Info(label, message string) {
	d.Status(d.theme.Info(label+":"), message)
}

// Escalated prints an escalation notice: pauses the sprint and solicits
// a developer decision among retry/skip/stop/manual-fix, per spec.md §7.
func (d *Display) Escalated(taskID, reason string) {
	d.Status(d.theme.Escalated(SymbolEscalated), fmt.Sprintf("task %s escalated: %s", taskID, reason))
	fmt.Println(d.theme.Dim("   choose: [r]etry  [s]kip  sto[p]  manual-fix"))
}

// wrapText wraps text to the given width, capped at 5 lines.
func (d *Display) wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}

	text = strings.TrimSpace(text)
	if len(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var currentLine strings.Builder

	for _, word := range words {
		if currentLine.Len()+len(word)+1 > maxWidth {
			if currentLine.Len() > 0 {
				lines = append(lines, currentLine.String())
				currentLine.Reset()
			}
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	if len(lines) > 5 {
		lines = lines[:5]
		if len(lines[4]) > maxWidth-3 {
			lines[4] = lines[4][:maxWidth-3]
		}
		lines[4] = lines[4] + "..."
	}

	return lines
}

// AssistantTurn prints one reply from the chat channel, indented and
// timestamped to distinguish it from Sprint Controller narration.
func (d *Display) AssistantTurn(text string) {
	timestamp := time.Now().Format("[15:04:05]")
	gutter := d.theme.AssistantTimestamp(GutterAssistant)

	lines := d.wrapText(text, d.termWidth-20)
	for i, line := range lines {
		if i == 0 {
			fmt.Printf("  %s %s %s\n", gutter, d.theme.Dim(timestamp), d.theme.AssistantText(line))
		} else {
			fmt.Printf("  %s %s%s\n", d.theme.AssistantTimestamp(GutterDot), strings.Repeat(" ", 10), d.theme.AssistantText(line))
		}
	}
}

// TaskStart prints the banner marking the beginning of a task.
func (d *Display) TaskStart(taskID, title string) {
	banner := fmt.Sprintf(">>> %s: %s <<<", taskID, title)
	fmt.Printf("\n%s%s\n\n", IndentAssistant, d.theme.SprintLabel(banner))
}

// SectionBreak prints a horizontal separator for sprint boundaries.
func (d *Display) SectionBreak() {
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}

// SprintHeader prints the sprint start banner.
func (d *Display) SprintHeader(sprintID string, taskCount int) {
	d.SectionBreak()
	fmt.Println(d.theme.Bold(fmt.Sprintf("=== Sprint %s: %d tasks ===", sprintID, taskCount)))
	d.SectionBreak()
}

// SprintComplete prints the sprint completion message.
func (d *Display) SprintComplete(verified int) {
	fmt.Printf("\n%s Sprint complete: %d tasks verified.\n", d.theme.Success(SymbolSuccess), verified)
}

// SprintPaused prints the sprint pause message issued on escalation.
func (d *Display) SprintPaused(taskID string) {
	fmt.Printf("\n%s Sprint paused at %s awaiting a developer decision.\n", d.theme.Escalated(SymbolEscalated), taskID)
	fmt.Println("Run 'codor status' for attempt history, or 'codor retry-task'/'codor skip-task'.")
}

// Attempt prints one attempt's outcome summary.
func (d *Display) Attempt(taskID string, number int, success bool, duration time.Duration) {
	symbol := d.theme.Success(SymbolSuccess)
	if !success {
		symbol = d.theme.Error(SymbolError)
	}
	d.Status(symbol, fmt.Sprintf("%s attempt %d (%s)", taskID, number, duration.Round(time.Second)))
}

// Theme returns the current theme for external use.
func (d *Display) Theme() *Theme {
	return d.theme
}

func (d *Display) padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Truncate truncates text to max length with an ellipsis.
func Truncate(s string, max int) string {
	s = CleanText(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// CleanText removes newlines and collapses repeated spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
