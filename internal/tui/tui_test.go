package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/ai-session-graph/internal/classify"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/search"
)

func TestNextType(t *testing.T) {
	seen := map[string]bool{}
	cur := ""
	for range classify.Types {
		cur = nextType(cur)
		require.NotEmpty(t, cur)
		seen[cur] = true
	}
	assert.Len(t, seen, len(classify.Types))
	assert.Empty(t, nextType(cur))
	assert.Empty(t, nextType("bogus"))
}

func TestHandleKey_Filters(t *testing.T) {
	m := newModel(nil, "", search.Options{}, parse.Options{})
	m.results = []search.Result{{SessionKey: "app/a", ChainID: "c1"}, {SessionKey: "app/b"}}

	next, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, string(classify.Types[0]), m.opts.Type)
	assert.NotNil(t, cmd)

	next, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlA})
	m = next.(model)
	assert.True(t, m.opts.All)

	next, cmd = m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = next.(model)
	assert.Equal(t, "c1", m.opts.Chain)
	assert.NotNil(t, cmd)

	next, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = next.(model)
	assert.Empty(t, m.opts.Chain)

	// no chain on the second row
	m.cursor = 1
	next, cmd = m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, next.(model).opts.Chain)
	assert.Nil(t, cmd)
}

func TestApplyResults_DropsStale(t *testing.T) {
	m := newModel(nil, "parser", search.Options{}, parse.Options{})
	m.results = []search.Result{{SessionKey: "app/old"}}

	stale := m.opts
	stale.Query = "pars"
	next, _ := m.applyResults(resultsMsg{opts: stale, results: []search.Result{{SessionKey: "app/x"}}})
	assert.Equal(t, "app/old", next.(model).results[0].SessionKey)

	next, _ = m.applyResults(resultsMsg{opts: m.opts, results: []search.Result{{SessionKey: "app/new"}}})
	got := next.(model)
	require.Len(t, got.results, 1)
	assert.Equal(t, "app/new", got.results[0].SessionKey)
	assert.Equal(t, 0, got.cursor)
}

func TestApplyPreview_IgnoresOtherSessions(t *testing.T) {
	m := newModel(nil, "", search.Options{}, parse.Options{})
	m.results = []search.Result{{SessionKey: "app/a"}}

	m = m.applyPreview(previewRenderedMsg{sessionKey: "app/z", content: "zzz"})
	assert.Empty(t, m.previewKey)

	m = m.applyPreview(previewRenderedMsg{sessionKey: "app/a", content: "aaa"})
	assert.Equal(t, "app/a", m.previewKey)
}
