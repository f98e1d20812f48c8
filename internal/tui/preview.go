package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/render"
	"github.com/Zuo-Peng/ai-session-graph/internal/search"
)

// previewRenderedMsg is sent when an async preview render completes.
type previewRenderedMsg struct {
	sessionKey string
	content    string
	hitLine    int
	err        error
}

// loadPreviewCmd returns a tea.Cmd that renders the session preview async.
func loadPreviewCmd(db *index.DB, r search.Result, query string, width int, parseOpts parse.Options) tea.Cmd {
	return func() tea.Msg {
		content, hitLine, err := render.SessionFromIndex(db, r.SessionKey, parseOpts, render.Options{
			Context: -1,
			Width:   width,
			Query:   query,
		})
		return previewRenderedMsg{
			sessionKey: r.SessionKey,
			content:    content,
			hitLine:    hitLine,
			err:        err,
		}
	}
}

// newViewport creates a new viewport model with the given dimensions.
func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.Style = stylePanelBorder
	return vp
}
