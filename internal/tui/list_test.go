package tui

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/search"
)

func TestFormatResultLine(t *testing.T) {
	r := search.Result{
		SessionKey: "app/s1",
		Type:       "post_compaction_continuation",
		Title:      "continue the migration of the billing tables to the new schema",
		UpdatedAt:  "2025-03-14T09:00:00Z",
		ChainID:    "0f1e2d3c-aaaa-bbbb-cccc-000000000000",
		ChainPos:   2,
	}
	lines := formatResultLine(r, 40, true)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "03-14")
	assert.Contains(t, lines[0], "compact")
	assert.Contains(t, lines[1], "chain 0f1e2d3c #2")

	r.ChainID = ""
	r.Snippet = "the >>>billing<<< tables"
	lines = formatResultLine(r, 40, false)
	assert.Contains(t, lines[1], "the billing tables")
	assert.LessOrEqual(t, runewidth.StringWidth(stripStyles(lines[1])), 40)
}

// stripStyles drops ANSI sequences lipgloss may have written.
func stripStyles(s string) string {
	var b strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case r == '\033':
			skip = true
		case skip && r == 'm':
			skip = false
		case !skip:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestAdjustListScroll(t *testing.T) {
	m := model{results: make([]search.Result, 30)}
	m.cursor = 12
	m.adjustListScroll(10) // five visible items
	assert.Equal(t, 8, m.listOffset)

	m.cursor = 3
	m.adjustListScroll(10)
	assert.Equal(t, 3, m.listOffset)
}

func TestWorkingDir(t *testing.T) {
	f := &parse.File{Records: []parse.Record{
		{Cwd: "/tmp/agent", IsParallelThread: true},
		{},
		{Cwd: "/home/me/app"},
	}}
	assert.Equal(t, "/home/me/app", workingDir(f))
	assert.Empty(t, workingDir(&parse.File{}))
}
