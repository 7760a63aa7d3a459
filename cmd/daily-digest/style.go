package main

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/codeGROOVE-dev/daily-digest/pkg/digest"
)

var (
	heading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	good    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warn    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	bad     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// preview renders markdown for the terminal, falling back to the raw text.
func preview(markdown string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		slog.Debug("Markdown preview unavailable", "error", err)
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		slog.Debug("Markdown preview failed", "error", err)
		return markdown
	}
	return out
}

func statusLine(out *digest.Outcome) string {
	switch out.Status {
	case digest.Delivered:
		return good.Render("✓ Report delivered") + fmt.Sprintf(" (run %s, %d events)", out.RunID, out.Snapshot.Total())
	case digest.DryRun:
		return good.Render("✓ Dry run complete") + " (nothing was posted)"
	case digest.NoActivity:
		return warn.Render("• No activity in the window") + " (nothing to send)"
	case digest.FormattingFailed:
		return bad.Render("✗ Report formatting failed") + fmt.Sprintf(": %v", out.Err)
	case digest.SourceFailed:
		return bad.Render("✗ A required source failed") + fmt.Sprintf(": %v", out.Err)
	case digest.DeliveryFailed:
		return bad.Render("✗ Report generated, not delivered") + fmt.Sprintf(": %v", out.Err)
	default:
		return out.Status.String()
	}
}
