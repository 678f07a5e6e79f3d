package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/go-saliency/corpus"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle = lipgloss.NewStyle().Bold(true)
)

// renderSummary renders a title followed by one "key value" line per entry.
func renderSummary(title string, entries [][2]string) string {
	lines := []string{titleStyle.Render(title)}
	for _, e := range entries {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(e[0]), valueStyle.Render(e[1])))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func manifestSummary(m *corpus.Manifest) string {
	entries := [][2]string{
		{"run", m.RunID},
		{"strategy", m.Strategy},
		{"documents", strconv.Itoa(m.Documents)},
		{"instances", strconv.Itoa(m.Instances)},
		{"output", m.Output},
		{"format", m.Format},
	}
	if m.RandomOutput != "" {
		entries = append(entries,
			[2]string{"random", m.RandomOutput},
			[2]string{"random inst.", strconv.Itoa(m.RandomInstances)})
	}
	return renderSummary("Generated", entries)
}
