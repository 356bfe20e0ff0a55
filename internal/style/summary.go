package style

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stingray/zookeeper/internal/provision"
)

var (
	Primary = lipgloss.Color("#7C3AED")
	Green   = lipgloss.Color("#10B981")
	Dim     = lipgloss.Color("#6B7280")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Label = lipgloss.NewStyle().
		Foreground(Dim).
		Width(12)

	Value = lipgloss.NewStyle().Bold(true)

	Link = lipgloss.NewStyle().
		Foreground(Green).
		Underline(true)

	Hint = lipgloss.NewStyle().
		Foreground(Dim).
		Italic(true).
		MarginTop(1)

	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Green).
		Padding(1, 2)
)

// Summary renders a finished run as a card for interactive terminals.
func Summary(result provision.Result) string {
	rows := [][2]string{
		{"server", result.Server.UUID.String()},
		{"forward", fmt.Sprintf("%s:%d", result.Allocation.Address(), result.Allocation.Port)},
		{"route", fmt.Sprintf("%s%s", result.Viewer.Host, result.Server.RoutePath())},
		{"port", fmt.Sprintf("%d", result.Viewer.Port)},
	}

	lines := make([]string, 0, len(rows)+3)
	lines = append(lines, Title.Render("Game server published"))
	for _, row := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, Label.Render(row[0]), Value.Render(row[1])))
	}
	lines = append(lines, "", Link.Render(result.URL))
	lines = append(lines, Hint.Render("Wait for the server to finish installing before connecting."))

	return Card.Render(strings.Join(lines, "\n"))
}
