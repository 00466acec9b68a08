package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"SeaIndexBridge/internal/domain"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
	Dim     lipgloss.Color
}

var defaultTheme = Theme{
	Primary: lipgloss.Color("#5fafff"),
	Good:    lipgloss.Color("#00d787"),
	Bad:     lipgloss.Color("#ff5f5f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Good  lipgloss.Style
	Bad   lipgloss.Style
	Dim   lipgloss.Style
	Box   lipgloss.Style
}

func newStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Width(12),
		Good:  lipgloss.NewStyle().Bold(true).Foreground(t.Good),
		Bad:   lipgloss.NewStyle().Bold(true).Foreground(t.Bad),
		Dim:   lipgloss.NewStyle().Foreground(t.Dim),
		Box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
	}
}

var styles = newStyles(defaultTheme)

// renderSummary formats a finished session for the terminal.
func renderSummary(snap domain.Snapshot) string {
	rows := [][2]string{}
	add := func(label, value string) {
		if value != "" {
			rows = append(rows, [2]string{label, value})
		}
	}

	name := snap.DisplayName
	if name == "" {
		name = snap.FileName
	}
	add("File", name)
	add("Subject", snap.Metadata[domain.KeySubjectID])
	add("Job", snap.JobID)

	phase := string(snap.Phase)
	switch snap.Phase {
	case domain.PhaseSucceeded:
		phase = styles.Good.Render(phase)
	case domain.PhaseFailed, domain.PhaseRejected, domain.PhaseMetadataFailed:
		phase = styles.Bad.Render(phase)
	}
	add("Phase", phase)

	if snap.Score != nil {
		add("SEA Index", styles.Good.Render(fmt.Sprintf("%g", *snap.Score)))
	}
	if w := snap.WriteOutcome; w != nil {
		v := string(w.Status)
		if w.Reason != "" {
			v += " " + styles.Dim.Render("("+w.Reason+")")
		}
		if w.ResourceID != "" {
			v += " " + styles.Dim.Render("Observation/"+w.ResourceID)
		}
		add("Record", v)
	}
	add("Error", snap.Error)

	lines := []string{styles.Title.Render("SEA analysis")}
	for _, r := range rows {
		lines = append(lines, styles.Label.Render(r[0])+r[1])
	}
	return styles.Box.Render(strings.Join(lines, "\n"))
}
