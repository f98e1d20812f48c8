package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/ai-session-graph/internal/search"
)

const (
	// linesPerItem is the number of terminal lines each result occupies.
	linesPerItem = 2
	typeWidth    = 9
)

// shortTypes keeps the type column narrow.
var shortTypes = map[string]string{
	"original":                     "original",
	"continuation":                 "cont",
	"post_compaction_continuation": "compact",
	"multi_agent_workflow":         "multi",
	"sidechain":                    "side",
	"sdk_generated":                "sdk",
	"snapshot":                     "snapshot",
	"completion_marker":            "marker",
	"unknown":                      "unknown",
}

// renderList renders the left panel: search results list with scrolling.
func (m model) renderList(width, height int) string {
	if len(m.results) == 0 {
		empty := lipgloss.NewStyle().
			Foreground(colorDim).
			Width(width).
			Height(height).
			Align(lipgloss.Center, lipgloss.Center).
			Render("No results")
		return empty
	}

	var lines []string
	for i, r := range m.results {
		if i < m.listOffset {
			continue
		}
		if len(lines)+linesPerItem > height {
			break
		}
		rows := formatResultLine(r, width, i == m.cursor)
		lines = append(lines, rows...)
	}

	// Pad remaining lines
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}

	return strings.Join(lines, "\n")
}

// formatResultLine formats a single session as two lines:
//
//	line 1: [>] type  date  title
//	line 2:    snippet or chain position (dimmed)
func formatResultLine(r search.Result, width int, selected bool) []string {
	name, ok := shortTypes[r.Type]
	if !ok {
		name = r.Type
	}
	style, ok := typeStyles[r.Type]
	if !ok {
		style = lipgloss.NewStyle().Foreground(colorDim)
	}
	typ := styleListType.Render(style.Render(name))

	// Extract short date from UpdatedAt (e.g. "2026-01-27" -> "01-27")
	date := r.UpdatedAt
	if len(date) >= 10 {
		date = date[5:10] // MM-DD
	}

	title := strings.ReplaceAll(r.Title, "\n", " ")
	if title == "" {
		title = r.SessionKey
	}
	titleMax := width - 2 - typeWidth - 6 - 2 // prefix + type + date + padding
	if titleMax < 0 {
		titleMax = 0
	}
	if runewidth.StringWidth(title) > titleMax {
		title = runewidth.Truncate(title, titleMax, "")
	}

	var line1 string
	if selected {
		line1 = styleListSelected.Render("> ") + fmt.Sprintf("%s %s %s", typ, date, styleListSelected.Render(title))
	} else {
		line1 = "  " + fmt.Sprintf("%s %s %s", typ, date, styleListNormal.Render(title))
	}

	detail := r.Snippet
	if r.ChainID != "" {
		detail = fmt.Sprintf("chain %s #%d  %s", shortID(r.ChainID), r.ChainPos, r.SessionKey)
	} else if detail == "" || detail == r.Title {
		detail = r.SessionKey
	}
	detail = strings.ReplaceAll(detail, "\n", " ")
	detail = strings.ReplaceAll(detail, "\t", " ")
	detail = strings.ReplaceAll(detail, ">>>", "")
	detail = strings.ReplaceAll(detail, "<<<", "")
	detailMax := width - 4 // indent
	if detailMax < 0 {
		detailMax = 0
	}
	if runewidth.StringWidth(detail) > detailMax {
		detail = runewidth.Truncate(detail, detailMax, "")
	}
	line2 := "    " + lipgloss.NewStyle().Foreground(colorDim).Render(detail)

	return []string{line1, line2}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// adjustListScroll keeps the cursor visible within the list viewport.
func (m *model) adjustListScroll(listHeight int) {
	visibleItems := listHeight / linesPerItem
	if visibleItems < 1 {
		visibleItems = 1
	}
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+visibleItems {
		m.listOffset = m.cursor - visibleItems + 1
	}
}
