package link

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	tj "github.com/Zuo-Peng/ai-session-graph/internal/testjsonl"
)

func session(key string, lines ...tj.Line) *graph.Session {
	f := parse.ParseReader(strings.NewReader(tj.Join(lines...)), parse.Options{})
	f.Path = "/proj/" + key + ".jsonl"
	return graph.Build(f, "proj", key)
}

func TestResolve_PostCompaction(t *testing.T) {
	d := session("d",
		tj.User("d1", "", "sd", tj.At(0), "start"),
		tj.Assistant("d2", "d1", "sd", tj.At(10), "work"),
		tj.CompactBoundary("X", "d2", "sd", tj.At(20)),
	)
	c := session("c",
		tj.Summary("Work so far", "X"),
		tj.User("c1", "", "sc", tj.At(30), "continue"),
	)
	r := Resolve(graph.NewIndex([]*graph.Session{c, d}), "proj")

	l := r.Links["c"]
	require.NotNil(t, l)
	assert.Equal(t, "d", l.Predecessor)
	assert.True(t, l.Compaction)
	assert.False(t, l.Orphaned)
	assert.Equal(t, 1.0, l.Confidence)

	require.Len(t, r.Chains, 1)
	assert.Equal(t, []string{"d", "c"}, r.Chains[0].Sessions)
	assert.Equal(t, 1, r.ChainOf["c"].Position)
	assert.Equal(t, 0, r.ChainOf["d"].Position)
	assert.True(t, r.HasSuccessor("d"))
	assert.False(t, r.HasSuccessor("c"))
}

func TestResolve_Orphaned(t *testing.T) {
	c := session("c",
		tj.Summary("Lost context", "missing"),
		tj.User("c1", "", "sc", tj.At(30), "continue"),
	)
	r := Resolve(graph.NewIndex([]*graph.Session{c}), "proj")

	l := r.Links["c"]
	require.NotNil(t, l)
	assert.True(t, l.Orphaned)
	assert.Equal(t, OrphanedConfidence, l.Confidence)
	require.Len(t, r.Chains, 1)
	assert.True(t, r.Chains[0].Orphaned)
	assert.Equal(t, []string{"c"}, r.Chains[0].Sessions)
}

func TestResolve_IgnoresLaterSessions(t *testing.T) {
	later := session("later", tj.User("X", "", "sl", tj.At(100), "late"))
	c := session("c",
		tj.Summary("s", "X"),
		tj.User("c1", "", "sc", tj.At(30), "continue"),
	)
	r := Resolve(graph.NewIndex([]*graph.Session{c, later}), "proj")
	assert.True(t, r.Links["c"].Orphaned)
}

func TestResolve_AmbiguityPicksNearest(t *testing.T) {
	far := session("far", tj.User("X", "", "s1", tj.At(0), "a"), tj.Assistant("f2", "X", "s1", tj.At(5), "b"))
	near := session("near", tj.User("X", "", "s2", tj.At(10), "a"), tj.Assistant("n2", "X", "s2", tj.At(25), "b"))
	c := session("c", tj.Summary("s", "X"), tj.User("c1", "", "sc", tj.At(30), "go"))

	r := Resolve(graph.NewIndex([]*graph.Session{far, near, c}), "proj")
	l := r.Links["c"]
	assert.Equal(t, "near", l.Predecessor)
	assert.Equal(t, 2, l.Candidates)
	assert.Equal(t, 0.5, l.Confidence)
	require.Len(t, r.Issues["c"], 1)
	assert.Equal(t, parse.IssueLinkAmbiguity, r.Issues["c"][0].Kind)
	assert.False(t, l.Compaction)
}

func TestResolve_ForkKeepsEarliestSuccessor(t *testing.T) {
	p := session("p", tj.User("p1", "", "sp", tj.At(0), "a"), tj.Assistant("X", "p1", "sp", tj.At(5), "b"))
	s1 := session("s1", tj.Summary("s", "X"), tj.User("a1", "", "sa", tj.At(20), "go"))
	s2 := session("s2", tj.Summary("s", "X"), tj.User("b1", "", "sb", tj.At(40), "go"))

	r := Resolve(graph.NewIndex([]*graph.Session{p, s1, s2}), "proj")
	require.Len(t, r.Chains, 2)
	assert.Equal(t, []string{"p", "s1"}, r.ChainOf["s1"].Chain.Sessions)
	fork := r.ChainOf["s2"].Chain
	assert.Equal(t, []string{"s2"}, fork.Sessions)
	assert.Equal(t, "p", fork.ForkedFrom)
	assert.NotEqual(t, r.ChainOf["s1"].Chain.ID, fork.ID)
}

func TestResolve_DropsCycles(t *testing.T) {
	// timestamps absent: both sessions are candidates of each other
	a := session("a", tj.Summary("s", "B1"), tj.User("A1", "", "sa", "", "x"))
	b := session("b", tj.Summary("s", "A1"), tj.User("B1", "", "sb", "", "y"))

	r := Resolve(graph.NewIndex([]*graph.Session{a, b}), "proj")
	seen := make(map[string]int)
	for _, c := range r.Chains {
		for _, k := range c.Sessions {
			seen[k]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)

	dropped := 0
	for _, l := range r.Links {
		if l.Orphaned {
			dropped++
		}
	}
	assert.Equal(t, 1, dropped)
}

func TestResolve_SameSessionCompactionIsNotALink(t *testing.T) {
	s := session("s",
		tj.User("u1", "", "s", tj.At(0), "x"),
		tj.CompactBoundary("c1", "u1", "s", tj.At(5)),
	)
	r := Resolve(graph.NewIndex([]*graph.Session{s}), "proj")
	assert.Empty(t, r.Links)
	assert.Empty(t, r.Chains)
}

func TestResolve_ContextHistoryLowersConfidence(t *testing.T) {
	d := session("d", tj.User("d1", "", "sd", tj.At(0), "start"))
	e := session("e", tj.User("e1", "", "se", tj.At(5), "other"))
	c := session("c",
		tj.Summary("Started", "d1"),
		tj.Summary("Other thread", "e1"),
		tj.Summary("Older still", "gone"),
		tj.User("c1", "", "sc", tj.At(30), "continue"),
	)
	two := session("two",
		tj.Summary("Other thread", "e1"),
		tj.Summary("Started", "d1"),
		tj.User("t1", "", "st", tj.At(40), "again"),
	)
	r := Resolve(graph.NewIndex([]*graph.Session{c, d, e, two}), "proj")

	l := r.Links["c"]
	require.NotNil(t, l)
	assert.Equal(t, "d", l.Predecessor)
	assert.True(t, l.ContextHistory)
	assert.InDelta(t, 0.7, l.Confidence, 1e-9)

	assert.Equal(t, "e", r.Links["two"].Predecessor)
	assert.False(t, r.Links["two"].ContextHistory)
	assert.Equal(t, 1.0, r.Links["two"].Confidence)
}

func TestChainIDDeterministic(t *testing.T) {
	assert.Equal(t, chainID("p", "k"), chainID("p", "k"))
	assert.NotEqual(t, chainID("p", "k"), chainID("q", "k"))
}
