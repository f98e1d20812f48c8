package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPrimary   = lipgloss.Color("12")  // bright blue
	colorSecondary = lipgloss.Color("10")  // bright green
	colorDim       = lipgloss.Color("240") // gray
	colorHighlight = lipgloss.Color("11")  // bright yellow
	colorBorder    = lipgloss.Color("238") // dark gray

	// Input area
	styleInput = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleInputPrompt = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	// List items
	styleListSelected = lipgloss.NewStyle().
				Foreground(colorHighlight).
				Bold(true)

	styleListNormal = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	styleListType = lipgloss.NewStyle().
			Width(typeWidth)

	// per classification; anything missing renders dim
	typeStyles = map[string]lipgloss.Style{
		"original":                     lipgloss.NewStyle().Foreground(colorPrimary),
		"continuation":                 lipgloss.NewStyle().Foreground(colorSecondary),
		"post_compaction_continuation": lipgloss.NewStyle().Foreground(colorSecondary).Bold(true),
		"multi_agent_workflow":         lipgloss.NewStyle().Foreground(colorHighlight),
		"sidechain":                    lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		"sdk_generated":                lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}

	// Panels
	stylePanelBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorBorder)

	styleActiveBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary)

	// Status bar
	styleStatusBar = lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(0, 1)
)
