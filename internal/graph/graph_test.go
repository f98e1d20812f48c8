package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	tj "github.com/Zuo-Peng/ai-session-graph/internal/testjsonl"
)

func build(t *testing.T, lines ...tj.Line) *Session {
	t.Helper()
	f := parse.ParseReader(strings.NewReader(tj.Join(lines...)), parse.Options{})
	f.Path = "/p/s.jsonl"
	return Build(f, "p", "p/s")
}

func issuesOf(s *Session, kind parse.IssueKind) []parse.Issue {
	var out []parse.Issue
	for _, is := range s.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

func TestBuild_Tree(t *testing.T) {
	s := build(t,
		tj.User("u1", "", "s1", tj.At(0), "start"),
		tj.Assistant("a1", "u1", "s1", tj.At(1), "ok"),
		tj.User("u2", "a1", "s1", tj.At(2), "more"),
		tj.Assistant("a2", "a1", "s1", tj.At(3), "branch"),
	)
	require.Len(t, s.Nodes, 4)
	require.Len(t, s.Roots, 1)
	assert.Equal(t, "u1", s.Roots[0].ID)

	a1 := s.Lookup("a1")
	require.NotNil(t, a1)
	require.Len(t, a1.Children, 2)
	assert.Equal(t, "u2", a1.Children[0].ID)
	assert.Equal(t, "a2", a1.Children[1].ID)

	assert.Equal(t, "s1", s.ID)
	assert.True(t, s.Created.Equal(tj.Base))
	assert.True(t, s.Updated.Equal(tj.Base.Add(3e9)))
	assert.Empty(t, s.Issues)
}

func TestBuild_OrphanedParentBecomesRoot(t *testing.T) {
	s := build(t,
		tj.User("u1", "elsewhere", "s1", tj.At(0), "x"),
		tj.Assistant("a1", "u1", "s1", tj.At(1), "y"),
	)
	require.Len(t, s.Roots, 1)
	assert.Equal(t, "u1", s.Roots[0].ID)
	assert.Nil(t, s.Lookup("u1").Parent)
	assert.Len(t, issuesOf(s, parse.IssueStructural), 1)
}

func TestBuild_BreaksCycles(t *testing.T) {
	s := build(t,
		tj.User("a", "c", "s1", tj.At(0), "x"),
		tj.Assistant("b", "a", "s1", tj.At(1), "y"),
		tj.User("c", "b", "s1", tj.At(2), "z"),
		tj.User("self", "self", "s1", tj.At(3), "w"),
	)
	assert.Len(t, s.Roots, 2)
	assert.Len(t, issuesOf(s, parse.IssueStructural), 2)

	// every ancestor walk terminates
	for _, n := range s.Nodes {
		steps := 0
		for p := n.Parent; p != nil; p = p.Parent {
			steps++
			require.Less(t, steps, len(s.Nodes))
		}
	}
}

func TestBuild_DuplicateIDFirstWins(t *testing.T) {
	s := build(t,
		tj.User("u1", "", "s1", tj.At(0), "first"),
		tj.User("u1", "", "s1", tj.At(1), "second"),
		tj.Assistant("a1", "u1", "s1", tj.At(2), "reply"),
	)
	assert.Len(t, s.Nodes, 3)
	assert.Equal(t, "first", s.Lookup("u1").Payload)
	assert.Equal(t, s.Nodes[0], s.Lookup("a1").Parent)
	assert.Len(t, issuesOf(s, parse.IssueStructural), 1)
}

func TestBuild_CompactionForest(t *testing.T) {
	s := build(t,
		tj.User("u1", "", "s1", tj.At(0), "start"),
		tj.Assistant("a1", "u1", "s1", tj.At(1), "ok"),
		tj.CompactBoundary("c1", "a1", "s1", tj.At(2)),
		tj.User("u2", "c1", "s1", tj.At(3), "summary of before").With("isCompactSummary", true),
	)
	require.Len(t, s.Roots, 2)
	assert.Equal(t, "c1", s.Roots[1].ID)
	assert.Nil(t, s.Lookup("c1").Parent)
	assert.Equal(t, []CompactionMarker{{From: "c1", To: "a1", Line: 3}}, s.Markers)
	assert.Empty(t, s.ContinuationRef())
}

func TestSession_ContinuationRef(t *testing.T) {
	s := build(t,
		tj.Summary("Earlier work", "x-last"),
		tj.User("u1", "", "s2", tj.At(0), "go on"),
	)
	assert.Equal(t, "x-last", s.ContinuationRef())

	s = build(t,
		tj.CompactBoundary("c1", "prev-leaf", "s2", tj.At(0)),
		tj.User("u1", "c1", "s2", tj.At(1), "go on"),
	)
	assert.Equal(t, "prev-leaf", s.ContinuationRef())
}

func TestSession_LeadingSkipsHousekeeping(t *testing.T) {
	s := build(t,
		tj.Line{"type": "file-history-snapshot", "messageId": "m1"},
		tj.User("u1", "", "s1", tj.At(0), "hi"),
	)
	require.NotNil(t, s.Leading())
	assert.Equal(t, "u1", s.Leading().ID)
}

func TestSession_EmptyFile(t *testing.T) {
	f := &parse.File{Path: "/p/abc.jsonl", Issues: []parse.Issue{{Kind: parse.IssueParse, Message: "open"}}}
	s := Build(f, "p", "p/abc")
	assert.Empty(t, s.Nodes)
	assert.Equal(t, "abc", s.ID)
	assert.True(t, s.HasParseErrors())
	assert.False(t, s.AllParallel())
	assert.Nil(t, s.Leading())
}

func TestSession_HousekeepingIsNotMainThread(t *testing.T) {
	s := build(t,
		tj.FileHistorySnapshot("m1"),
		tj.User("a1", "", "sE", tj.At(0), "subtask").Sidechain(),
		tj.Assistant("a2", "a1", "sE", tj.At(1), "done").Sidechain(),
	)
	assert.True(t, s.AllParallel())
	assert.False(t, s.HasMainThread())
	assert.False(t, s.DeclaresMain("sE"))
	assert.Equal(t, "sE", s.ID)

	only := build(t, tj.FileHistorySnapshot("m1"))
	assert.False(t, only.AllParallel())
	assert.False(t, only.HasMainThread())
}

func TestSession_DominantIDPrefersMainThread(t *testing.T) {
	s := build(t,
		tj.User("x1", "", "other", tj.At(0), "a").Sidechain(),
		tj.User("x2", "x1", "other", tj.At(1), "b").Sidechain(),
		tj.User("m1", "", "main", tj.At(2), "c"),
	)
	assert.Equal(t, "main", s.ID)
	assert.False(t, s.AllParallel())
	assert.True(t, s.HasMainThread())
}

func TestSession_CommandOnly(t *testing.T) {
	s := build(t,
		tj.User("u1", "", "s", tj.At(0), "<command-name>/clear</command-name>"),
		tj.User("u2", "u1", "s", tj.At(1), "caveat").With("isMeta", true),
	)
	assert.True(t, s.CommandOnly())

	s = build(t,
		tj.User("u1", "", "s", tj.At(0), "<command-name>/clear</command-name>"),
		tj.Assistant("a1", "u1", "s", tj.At(1), "cleared"),
	)
	assert.False(t, s.CommandOnly())
}

func TestIndex_Lookups(t *testing.T) {
	a := build(t, tj.User("n1", "", "sa", tj.At(0), "x"))
	a.Key = "p/b"
	b := build(t, tj.User("n1", "", "sb", tj.At(0), "y"), tj.User("n2", "n1", "sa", tj.At(1), "z").Sidechain())
	b.Key = "p/a"

	ix := NewIndex([]*Session{a, b})
	assert.Equal(t, []*Session{b, a}, ix.Sessions)
	assert.Equal(t, []*Session{b, a}, ix.WithNode("n1"))
	assert.Equal(t, []*Session{b, a}, ix.Thread("sa"))
	assert.Equal(t, a, ix.Get("p/b"))
	assert.Nil(t, ix.Get("p/zzz"))
}
