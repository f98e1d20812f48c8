package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Zuo-Peng/ai-session-graph/internal/classify"
	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/open"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/search"
)

const refilterDelay = 200 * time.Millisecond

// resultsMsg carries the rows fetched for one set of filters.
type resultsMsg struct {
	opts    search.Options
	results []search.Result
	err     error
}

// refilterMsg fires once typing has paused.
type refilterMsg struct {
	query string
}

type model struct {
	db         *index.DB
	opts       search.Options // active filters, Query mirrors the input
	parseOpts  parse.Options
	results    []search.Result
	cursor     int
	listOffset int
	input      textinput.Model
	preview    viewport.Model
	previewKey string // session key of the rendered preview
	width      int
	height     int
	ready      bool
	quitting   bool
	chosen     *search.Result
}

func newModel(db *index.DB, query string, opts search.Options, parseOpts parse.Options) model {
	ti := textinput.New()
	ti.Placeholder = "Filter sessions..."
	ti.Focus()
	ti.SetValue(query)
	ti.Prompt = "> "
	ti.PromptStyle = styleInputPrompt
	ti.TextStyle = styleInput
	ti.CharLimit = 256

	opts.Query = query
	return model{
		db:        db,
		opts:      opts,
		parseOpts: parseOpts,
		input:     ti,
		preview:   viewport.New(0, 0),
	}
}

// Run starts the session browser and blocks until it exits. With an
// empty query it lists sessions by update time. If the user selects a
// session, its resume command is copied to the clipboard.
func Run(db *index.DB, query string, opts search.Options, parseOpts parse.Options) error {
	p := tea.NewProgram(newModel(db, query, opts, parseOpts), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if fm := final.(model); fm.chosen != nil {
		return copyResume(db, fm.chosen.SessionKey, parseOpts)
	}
	return nil
}

// copyResume copies the resume command of sessionKey, prefixed with a cd
// into its working directory when the log records one.
func copyResume(db *index.DB, sessionKey string, parseOpts parse.Options) error {
	session, err := db.GetSession(sessionKey)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", sessionKey)
	}

	fullCmd := open.ResumeCommand(session.Row.SessionID)
	if cwd := workingDir(parse.ParseFile(session.FilePath, parseOpts)); cwd != "" {
		fullCmd = fmt.Sprintf("cd %s && %s", cwd, fullCmd)
	}

	if err := clipboard.WriteAll(fullCmd); err != nil {
		fmt.Printf("%s\n", fullCmd)
		return nil
	}
	fmt.Printf("Copied to clipboard: %s\n", fullCmd)
	return nil
}

func workingDir(f *parse.File) string {
	for _, r := range f.Records {
		if r.Cwd != "" && !r.IsParallelThread {
			return r.Cwd
		}
	}
	return ""
}

// nextType steps the type filter through every classification and back
// to no filter.
func nextType(cur string) string {
	if cur == "" {
		return string(classify.Types[0])
	}
	for i, t := range classify.Types {
		if string(t) == cur && i+1 < len(classify.Types) {
			return string(classify.Types[i+1])
		}
	}
	return ""
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetch())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.preview = newViewport(m.previewWidth(), m.panelHeight())
		m.previewKey = "" // width changed, render again
		return m, m.loadCurrentPreview()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case refilterMsg:
		if msg.query != m.opts.Query {
			return m, nil
		}
		return m, m.fetch()

	case resultsMsg:
		return m.applyResults(msg)

	case previewRenderedMsg:
		return m.applyPreview(msg), nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	half := m.panelHeight() / 2
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Enter):
		r, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.chosen = &r
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		return m.move(-1)

	case key.Matches(msg, keys.Down):
		return m.move(1)

	case key.Matches(msg, keys.ToggleAll):
		m.opts.All = !m.opts.All
		return m, m.fetch()

	case key.Matches(msg, keys.CycleType):
		m.opts.Type = nextType(m.opts.Type)
		return m, m.fetch()

	case key.Matches(msg, keys.Chain):
		return m.toggleChain()

	case key.Matches(msg, keys.PreviewUp):
		m.preview.LineUp(half)
		return m, nil

	case key.Matches(msg, keys.PreviewDn):
		m.preview.LineDown(half)
		return m, nil

	case key.Matches(msg, keys.PageUp):
		m.preview.LineUp(m.panelHeight())
		return m, nil

	case key.Matches(msg, keys.PageDown):
		m.preview.LineDown(m.panelHeight())
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	q := m.input.Value()
	if q == m.opts.Query {
		return m, cmd
	}
	m.opts.Query = q
	return m, tea.Batch(cmd, tea.Tick(refilterDelay, func(time.Time) tea.Msg {
		return refilterMsg{query: q}
	}))
}

func (m model) selected() (search.Result, bool) {
	if m.cursor < 0 || m.cursor >= len(m.results) {
		return search.Result{}, false
	}
	return m.results[m.cursor], true
}

func (m model) move(delta int) (tea.Model, tea.Cmd) {
	next := m.cursor + delta
	if next < 0 || next >= len(m.results) {
		return m, nil
	}
	m.cursor = next
	m.adjustListScroll(m.panelHeight())
	return m, m.loadCurrentPreview()
}

// toggleChain narrows the list to the chain of the selected session, or
// lifts that filter again.
func (m model) toggleChain() (tea.Model, tea.Cmd) {
	if m.opts.Chain != "" {
		m.opts.Chain = ""
		return m, m.fetch()
	}
	r, ok := m.selected()
	if !ok || r.ChainID == "" {
		return m, nil
	}
	m.opts.Chain = r.ChainID
	return m, m.fetch()
}

func (m model) applyResults(msg resultsMsg) (tea.Model, tea.Cmd) {
	if msg.opts != m.opts {
		return m, nil // filters moved on since the fetch
	}
	m.cursor, m.listOffset, m.previewKey = 0, 0, ""
	if msg.err != nil {
		m.results = nil
		m.preview.SetContent("Error: " + msg.err.Error())
		return m, nil
	}
	m.results = msg.results
	if len(m.results) == 0 {
		m.preview.SetContent("")
		return m, nil
	}
	return m, m.loadCurrentPreview()
}

func (m model) applyPreview(msg previewRenderedMsg) model {
	r, ok := m.selected()
	if !ok || r.SessionKey != msg.sessionKey || msg.sessionKey == m.previewKey {
		return m
	}
	if msg.err != nil {
		m.preview.SetContent("Preview error: " + msg.err.Error())
	} else {
		m.preview.SetContent(msg.content)
		if msg.hitLine > 0 {
			m.preview.SetYOffset(msg.hitLine)
		} else {
			m.preview.GotoTop()
		}
	}
	m.previewKey = msg.sessionKey
	return m
}

func (m model) View() string {
	if m.quitting || !m.ready {
		return ""
	}
	listW, previewW, panelH := m.listWidth(), m.previewWidth(), m.panelHeight()

	listPanel := stylePanelBorder.Width(listW).Height(panelH).Render(m.renderList(listW, panelH))
	m.preview.Width = previewW
	m.preview.Height = panelH
	previewPanel := styleActiveBorder.Width(previewW).Height(panelH).Render(m.preview.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		m.input.View(),
		lipgloss.JoinHorizontal(lipgloss.Top, listPanel, previewPanel),
		m.statusBar(),
	)
}

// 40/60 split minus borders
func (m model) listWidth() int {
	if m.width <= 0 {
		return 40
	}
	return max(m.width*40/100-4, 20)
}

func (m model) previewWidth() int {
	if m.width <= 0 {
		return 60
	}
	return max(m.width*60/100-4, 20)
}

// input row, status bar and two border rows per panel
func (m model) panelHeight() int {
	if m.height <= 0 {
		return 20
	}
	return max(m.height-6, 5)
}

func (m model) statusBar() string {
	parts := []string{fmt.Sprintf("%d sessions", len(m.results))}
	if m.opts.Type != "" {
		parts = append(parts, "type "+m.opts.Type)
	}
	if m.opts.Chain != "" {
		parts = append(parts, "chain "+shortID(m.opts.Chain))
	}
	if m.opts.All {
		parts = append(parts, "showing hidden")
	} else {
		parts = append(parts, "hiding snapshots/markers")
	}
	parts = append(parts, "tab type", "C-a hidden", "C-l chain", "C-u/C-d preview", "enter copy resume cmd", "esc quit")
	return styleStatusBar.Render(strings.Join(parts, " | "))
}

func (m model) fetch() tea.Cmd {
	db, opts := m.db, m.opts
	return func() tea.Msg {
		results, err := search.Search(db, opts)
		return resultsMsg{opts: opts, results: results, err: err}
	}
}

func (m model) loadCurrentPreview() tea.Cmd {
	r, ok := m.selected()
	if !ok || r.SessionKey == m.previewKey {
		return nil
	}
	return loadPreviewCmd(m.db, r, m.opts.Query, m.previewWidth(), m.parseOpts)
}
