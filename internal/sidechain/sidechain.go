// Package sidechain groups parallel-thread nodes and binds each group to
// the delegation node that spawned it.
package sidechain

import (
	"fmt"
	"sort"
	"time"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

type Group struct {
	ID        string
	Session   string // key of the session holding the nodes
	SessionID string // declared sessionId shared by the nodes
	Nodes     []*graph.Node
	Earliest  time.Time
	FirstLine int

	Owner       string // key of the main-thread session, empty if none
	Trigger     string // delegation node id in the owner
	TriggerLine int
	AgentType   string // of the invocation the group answers
	Description string
	Unbound     bool
}

type Result struct {
	Groups    []*Group
	ByOwner   map[string][]*Group
	BySession map[string][]*Group
	Issues    map[string][]parse.Issue
}

// Associate groups every parallel-thread node in ix and binds the groups
// to delegation nodes of their owning sessions.
func Associate(ix *graph.Index) *Result {
	r := &Result{
		ByOwner:   make(map[string][]*Group),
		BySession: make(map[string][]*Group),
		Issues:    make(map[string][]parse.Issue),
	}
	for _, s := range ix.Sessions {
		r.Groups = append(r.Groups, collect(s)...)
	}
	sort.SliceStable(r.Groups, func(i, j int) bool {
		a, b := r.Groups[i], r.Groups[j]
		if a.Earliest.IsZero() != b.Earliest.IsZero() {
			return !a.Earliest.IsZero()
		}
		if !a.Earliest.Equal(b.Earliest) {
			return a.Earliest.Before(b.Earliest)
		}
		if a.Session != b.Session {
			return a.Session < b.Session
		}
		return a.FirstLine < b.FirstLine
	})

	claimed := make(map[*graph.Node]int)
	triggers := make(map[string][]*graph.Node)
	for _, g := range r.Groups {
		owner := findOwner(ix, g)
		if owner != nil {
			g.Owner = owner.Key
			if _, ok := triggers[owner.Key]; !ok {
				triggers[owner.Key] = delegations(owner)
			}
			if d := pick(triggers[owner.Key], claimed, g, owner.Key); d != nil {
				inv := d.Delegations[claimed[d]]
				claimed[d]++
				g.Trigger = d.ID
				g.TriggerLine = d.Line
				g.AgentType = inv.AgentType
				g.Description = inv.Description
			}
			r.ByOwner[owner.Key] = append(r.ByOwner[owner.Key], g)
		}
		r.BySession[g.Session] = append(r.BySession[g.Session], g)

		if g.Trigger != "" {
			continue
		}
		g.Unbound = true
		msg := "no delegation node precedes this group"
		if owner == nil {
			msg = fmt.Sprintf("no main-thread session %s in project", g.SessionID)
		}
		r.Issues[g.Session] = append(r.Issues[g.Session], parse.Issue{
			Kind:    parse.IssueUnboundSidechain,
			Line:    g.FirstLine,
			NodeID:  g.Nodes[0].ID,
			Message: msg,
		})
	}
	return r
}

// collect splits the parallel-thread nodes of s by their top-most
// parallel-thread ancestor.
func collect(s *graph.Session) []*Group {
	var groups []*Group
	byTop := make(map[*graph.Node]*Group)
	for _, n := range s.Nodes {
		if !n.IsParallelThread {
			continue
		}
		top := n
		for top.Parent != nil && top.Parent.IsParallelThread {
			top = top.Parent
		}
		g, ok := byTop[top]
		if !ok {
			id := top.ID
			if id == "" {
				id = fmt.Sprintf("L%d", top.Line)
			}
			sid := top.SessionID
			if sid == "" {
				sid = s.ID
			}
			g = &Group{ID: s.Key + "#" + id, Session: s.Key, SessionID: sid, FirstLine: n.Line}
			byTop[top] = g
			groups = append(groups, g)
		}
		g.Nodes = append(g.Nodes, n)
		if ts := n.Timestamp; !ts.IsZero() && (g.Earliest.IsZero() || ts.Before(g.Earliest)) {
			g.Earliest = ts
		}
	}
	return groups
}

func findOwner(ix *graph.Index, g *Group) *graph.Session {
	var first *graph.Session
	for _, s := range ix.Thread(g.SessionID) {
		if s.ID != g.SessionID || !s.DeclaresMain(g.SessionID) {
			continue
		}
		if s.Key == g.Session {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

// delegations returns the main-thread delegation nodes of s ordered by
// timestamp, then physical line.
func delegations(s *graph.Session) []*graph.Node {
	var out []*graph.Node
	for _, n := range s.Nodes {
		if n.Kind == parse.KindDelegation && !n.IsParallelThread {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Line < b.Line
	})
	return out
}

// pick selects the latest delegation node preceding g that still has
// unclaimed invocations.
func pick(cands []*graph.Node, claimed map[*graph.Node]int, g *Group, owner string) *graph.Node {
	for i := len(cands) - 1; i >= 0; i-- {
		d := cands[i]
		if claimed[d] >= len(d.Delegations) {
			continue
		}
		if precedes(d, g, owner) {
			return d
		}
	}
	return nil
}

func precedes(d *graph.Node, g *Group, owner string) bool {
	if !d.Timestamp.IsZero() && !g.Earliest.IsZero() {
		return !d.Timestamp.After(g.Earliest)
	}
	return owner == g.Session && d.Line < g.FirstLine
}

// Confidence grades a session made only of parallel-thread nodes: fully
// bound, owned but unbound, or without any owner.
func (r *Result) Confidence(key string) float64 {
	groups := r.BySession[key]
	if len(groups) == 0 {
		return 0.3
	}
	conf := 1.0
	for _, g := range groups {
		switch {
		case g.Owner == "":
			return 0.3
		case g.Unbound:
			conf = 0.5
		}
	}
	return conf
}
