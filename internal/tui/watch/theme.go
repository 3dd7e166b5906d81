// Package watch is a live terminal monitor of gateway connections and
// channels, fed by the /events stream and /healthz.
package watch

import "github.com/charmbracelet/lipgloss"

const (
	colorGreen  = lipgloss.Color("#98C379")
	colorYellow = lipgloss.Color("#E5C07B")
	colorRed    = lipgloss.Color("#E06C75")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorGrey   = lipgloss.Color("#7F848E")
	colorDark   = lipgloss.Color("#3E4451")
	colorFrame  = lipgloss.Color("#874BFD")
)

// Theme holds every style the monitor renders with.
type Theme struct {
	Up      lipgloss.Style // healthy gateway and successful joins
	Bound   lipgloss.Style // bound topics and normal exits
	Down    lipgloss.Style
	Refused lipgloss.Style // rejected joins

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func NewDefaultTheme() Theme {
	return Theme{
		Up:      fg(colorGreen),
		Bound:   fg(colorBlue),
		Down:    fg(colorRed).Bold(true),
		Refused: fg(colorYellow),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFrame),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1),
		Header:    fg(colorBlue).Bold(true),
		Dim:       fg(colorGrey),
		Highlight: fg(colorYellow),

		TickerActive:   fg(colorGreen),
		TickerInactive: fg(colorDark),
	}
}
