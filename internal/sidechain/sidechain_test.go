package sidechain

import (
	"fmt"
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

func agent(key, sid string, ts int, prefix string) *graph.Session {
	return session(key,
		tj.User(prefix+"1", "", sid, tj.At(ts), "subtask").Sidechain(),
		tj.Assistant(prefix+"2", prefix+"1", sid, tj.At(ts+1), "done").Sidechain(),
	)
}

func TestAssociate_BindsDistinctTriggers(t *testing.T) {
	main := session("main",
		tj.User("u1", "", "E", tj.At(0), "plan"),
		tj.Task("d1", "u1", "E", tj.At(10), "t1"),
		tj.TaskResult("r1", "d1", "E", tj.At(30), "t1"),
		tj.Task("d2", "r1", "E", tj.At(40), "t2", "t3"),
	)
	a1 := agent("agent-a", "E", 11, "a")
	a2 := agent("agent-b", "E", 41, "b")
	a3 := agent("agent-c", "E", 42, "c")

	r := Associate(graph.NewIndex([]*graph.Session{main, a1, a2, a3}))
	require.Len(t, r.Groups, 3)
	assert.Len(t, r.ByOwner["main"], 3)

	byKey := map[string]*Group{}
	for _, g := range r.Groups {
		byKey[g.Session] = g
	}
	assert.Equal(t, "d1", byKey["agent-a"].Trigger)
	assert.Equal(t, "d2", byKey["agent-b"].Trigger)
	assert.Equal(t, "d2", byKey["agent-c"].Trigger)
	for _, g := range r.Groups {
		assert.False(t, g.Unbound)
		assert.Equal(t, "main", g.Owner)
	}
	assert.Empty(t, r.Issues)
	assert.Equal(t, 1.0, r.Confidence("agent-a"))
}

func TestAssociate_CapacityExhaustedLeavesUnbound(t *testing.T) {
	main := session("main",
		tj.User("u1", "", "E", tj.At(0), "plan"),
		tj.Task("d1", "u1", "E", tj.At(10), "t1"),
	)
	a1 := agent("agent-a", "E", 11, "a")
	a2 := agent("agent-b", "E", 12, "b")

	r := Associate(graph.NewIndex([]*graph.Session{main, a1, a2}))
	require.Len(t, r.Groups, 2)
	assert.Equal(t, "d1", r.Groups[0].Trigger)
	assert.True(t, r.Groups[1].Unbound)
	assert.Equal(t, "main", r.Groups[1].Owner)
	require.Len(t, r.Issues["agent-b"], 1)
	assert.Equal(t, parse.IssueUnboundSidechain, r.Issues["agent-b"][0].Kind)
	assert.Equal(t, 0.5, r.Confidence("agent-b"))
}

func TestAssociate_NoPrecedingDelegation(t *testing.T) {
	main := session("main",
		tj.User("u1", "", "E", tj.At(0), "plan"),
		tj.Task("d1", "u1", "E", tj.At(100), "t1"),
	)
	a1 := agent("agent-a", "E", 50, "a")

	r := Associate(graph.NewIndex([]*graph.Session{main, a1}))
	require.Len(t, r.Groups, 1)
	assert.True(t, r.Groups[0].Unbound)
	assert.Len(t, r.Groups[0].Nodes, 2)
}

func TestAssociate_NoOwner(t *testing.T) {
	a1 := agent("agent-a", "ghost", 5, "a")
	r := Associate(graph.NewIndex([]*graph.Session{a1}))
	require.Len(t, r.Groups, 1)
	assert.Empty(t, r.Groups[0].Owner)
	assert.True(t, r.Groups[0].Unbound)
	assert.Equal(t, 0.3, r.Confidence("agent-a"))
}

func TestAssociate_HousekeepingDoesNotMakeAnOwner(t *testing.T) {
	main := session("main",
		tj.User("u1", "", "E", tj.At(0), "plan"),
		tj.Task("d1", "u1", "E", tj.At(10), "t1").Agent("Explore", "map the package"),
	)
	a1 := session("agent-a",
		tj.FileHistorySnapshot("m1"),
		tj.User("a1", "", "E", tj.At(11), "subtask").Sidechain(),
		tj.Assistant("a2", "a1", "E", tj.At(12), "done").Sidechain(),
	)

	r := Associate(graph.NewIndex([]*graph.Session{a1, main}))
	require.Len(t, r.Groups, 1)
	g := r.Groups[0]
	assert.Equal(t, "main", g.Owner)
	assert.Equal(t, "d1", g.Trigger)
	assert.Equal(t, "Explore", g.AgentType)
	assert.Equal(t, "map the package", g.Description)
	assert.Empty(t, r.ByOwner["agent-a"])
	assert.Equal(t, 1.0, r.Confidence("agent-a"))
}

func TestAssociate_InlineGroupsUseLineOrder(t *testing.T) {
	main := session("main",
		tj.User("u1", "", "E", "", "plan"),
		tj.Task("d1", "u1", "E", "", "t1"),
		tj.User("s1", "", "E", "", "sub one").Sidechain(),
		tj.Assistant("s2", "s1", "E", "", "ok").Sidechain(),
		tj.Task("d2", "d1", "E", "", "t2"),
		tj.User("x1", "", "E", "", "sub two").Sidechain(),
	)
	r := Associate(graph.NewIndex([]*graph.Session{main}))
	require.Len(t, r.Groups, 2)
	assert.Equal(t, "main#s1", r.Groups[0].ID)
	assert.Equal(t, "d1", r.Groups[0].Trigger)
	assert.Len(t, r.Groups[0].Nodes, 2)
	assert.Equal(t, "main#x1", r.Groups[1].ID)
	assert.Equal(t, "d2", r.Groups[1].Trigger)
}

func TestAssociate_ManyGroups(t *testing.T) {
	lines := []tj.Line{tj.User("u0", "", "E", tj.At(0), "fan out")}
	sessions := []*graph.Session{}
	parent := "u0"
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("d%d", i)
		lines = append(lines, tj.Task(id, parent, "E", tj.At(10*(i+1)), "t"+id))
		parent = id
		sessions = append(sessions, agent(fmt.Sprintf("agent-%d", i), "E", 10*(i+1)+1, fmt.Sprintf("g%d-", i)))
	}
	sessions = append(sessions, session("main", lines...))

	r := Associate(graph.NewIndex(sessions))
	require.Len(t, r.ByOwner["main"], 6)
	triggers := map[string]bool{}
	for _, g := range r.ByOwner["main"] {
		require.False(t, g.Unbound)
		triggers[g.Trigger] = true
	}
	assert.Len(t, triggers, 6)
}
