// Package output formats command-line output for the tracker CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/marcus/tracker/internal/models"
)

// Stderr and Stdout are the writers used by the helpers below. Tests swap
// them out.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

var (
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
)

// Error prints a red error line to stderr.
func Error(format string, args ...interface{}) {
	red.Fprintf(Stderr, "✗ Error: "+format+"\n", args...)
}

// Warning prints a yellow warning line to stderr.
func Warning(format string, args ...interface{}) {
	yellow.Fprintf(Stderr, "⚠ "+format+"\n", args...)
}

// Success prints a green confirmation line to stdout.
func Success(format string, args ...interface{}) {
	green.Fprintf(Stdout, "✓ "+format+"\n", args...)
}

// JSON writes v as indented JSON to stdout.
func JSON(v interface{}) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusOpen:       lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusResolved:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusClosed:     lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.StatusReopened:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
	priorityStyles = map[models.Priority]lipgloss.Style{
		models.PriorityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.PriorityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.PriorityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.PriorityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// FormatStatus renders a status as "[in_progress]" in its color.
func FormatStatus(s models.Status) string {
	text := "[" + string(s) + "]"
	if style, ok := statusStyles[s]; ok {
		return style.Render(text)
	}
	return text
}

// FormatPriority renders a priority label in its color.
func FormatPriority(p models.Priority) string {
	if style, ok := priorityStyles[p]; ok {
		return style.Render(p.Label())
	}
	return string(p)
}

// FormatTimeAgo returns a short relative time such as "5m ago".
func FormatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
