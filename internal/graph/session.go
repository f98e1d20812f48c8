// Package graph assembles normalized records into per-session forests.
//
// Structural parentage comes only from parentId references that resolve
// inside the same session. Record ids are not globally unique, so a
// reference that cannot be resolved locally makes the node a root rather
// than a dangling cross-session edge.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

type Node struct {
	parse.Record
	Index    int // position in Session.Nodes
	Parent   *Node
	Children []*Node
}

// CompactionMarker links a node to an earlier node of the same session
// through logicalParentId. It is never structural parentage.
type CompactionMarker struct {
	From string
	To   string
	Line int
}

type Session struct {
	Key     string // project-qualified file key, unique across a run
	Project string
	Path    string
	ID      string // declared sessionId
	Nodes   []*Node
	Roots   []*Node
	Markers []CompactionMarker
	Issues  []parse.Issue
	Created time.Time
	Updated time.Time

	byID map[string]*Node
}

// Build places the records of one file into a forest.
func Build(file *parse.File, project, key string) *Session {
	s := &Session{
		Key:     key,
		Project: project,
		Path:    file.Path,
		byID:    make(map[string]*Node, len(file.Records)),
	}
	s.Issues = append(s.Issues, file.Issues...)

	for i, rec := range file.Records {
		n := &Node{Record: rec, Index: i}
		s.Nodes = append(s.Nodes, n)
		if rec.ID == "" {
			continue
		}
		if first, dup := s.byID[rec.ID]; dup {
			s.structural(n, fmt.Sprintf("duplicate id, first seen on line %d", first.Line))
			continue
		}
		s.byID[rec.ID] = n
	}

	for _, n := range s.Nodes {
		if n.ParentID == "" {
			continue
		}
		p, ok := s.byID[n.ParentID]
		switch {
		case !ok:
			s.structural(n, fmt.Sprintf("parent %s not in session; treated as root", n.ParentID))
		case p == n:
			s.structural(n, "node is its own parent; treated as root")
		default:
			n.Parent = p
		}
	}
	s.breakCycles()

	for _, n := range s.Nodes {
		if n.Parent == nil {
			s.Roots = append(s.Roots, n)
		} else {
			n.Parent.Children = append(n.Parent.Children, n)
		}
	}

	for _, n := range s.Nodes {
		if n.LogicalParentID == "" {
			continue
		}
		if to, ok := s.byID[n.LogicalParentID]; ok && to != n {
			s.Markers = append(s.Markers, CompactionMarker{From: n.ID, To: to.ID, Line: n.Line})
		}
	}

	for _, n := range s.Nodes {
		if n.Timestamp.IsZero() {
			continue
		}
		if s.Created.IsZero() || n.Timestamp.Before(s.Created) {
			s.Created = n.Timestamp
		}
		if n.Timestamp.After(s.Updated) {
			s.Updated = n.Timestamp
		}
	}
	s.ID = dominantSessionID(s.Nodes, file.Path)
	return s
}

func (s *Session) structural(n *Node, msg string) {
	s.Issues = append(s.Issues, parse.Issue{
		Kind: parse.IssueStructural, Line: n.Line, NodeID: n.ID, Message: msg,
	})
}

const (
	unvisited uint8 = iota
	onPath
	done
)

// breakCycles walks every ancestor chain once. The parent edge that
// would revisit a node already on the current path is removed and the
// node becomes a root.
func (s *Session) breakCycles() {
	state := make([]uint8, len(s.Nodes))
	for _, start := range s.Nodes {
		if state[start.Index] != unvisited {
			continue
		}
		var path []*Node
		for n := start; n != nil && state[n.Index] == unvisited; n = n.Parent {
			state[n.Index] = onPath
			path = append(path, n)
			if p := n.Parent; p != nil && state[p.Index] == onPath {
				s.structural(n, fmt.Sprintf("cycle through parent %s; detached as root", p.ID))
				n.Parent = nil
				break
			}
		}
		for _, n := range path {
			state[n.Index] = done
		}
	}
}

// dominantSessionID picks the most frequent declared sessionId, preferring
// main-thread records, falling back to the file stem.
func dominantSessionID(nodes []*Node, path string) string {
	pick := func(main bool) string {
		counts := make(map[string]int)
		var order []string
		for _, n := range nodes {
			if n.SessionID == "" || (main && !n.MainThread()) {
				continue
			}
			if counts[n.SessionID] == 0 {
				order = append(order, n.SessionID)
			}
			counts[n.SessionID]++
		}
		best := ""
		for _, id := range order {
			if counts[id] > counts[best] {
				best = id
			}
		}
		return best
	}
	if id := pick(true); id != "" {
		return id
	}
	if id := pick(false); id != "" {
		return id
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (s *Session) Lookup(id string) *Node {
	if id == "" {
		return nil
	}
	return s.byID[id]
}

// Leading returns the first node that is not id-less housekeeping.
func (s *Session) Leading() *Node {
	for _, n := range s.Nodes {
		if !n.Housekeeping() {
			return n
		}
	}
	return nil
}

// OpeningSummaries counts the summary records that open the session.
func (s *Session) OpeningSummaries() int {
	n := 0
	for _, node := range s.Nodes {
		switch {
		case node.Kind == parse.KindTerminalSummary:
			n++
		case node.Housekeeping():
		default:
			return n
		}
	}
	return n
}

func (s *Session) Last() *Node {
	if len(s.Nodes) == 0 {
		return nil
	}
	return s.Nodes[len(s.Nodes)-1]
}

// ContinuationRef is the node id the leading node declares this session
// continues from. References that resolve inside the session are
// same-session compaction markers and do not count.
func (s *Session) ContinuationRef() string {
	lead := s.Leading()
	if lead == nil {
		return ""
	}
	if lead.ContinuesFrom != "" && s.Lookup(lead.ContinuesFrom) == nil {
		return lead.ContinuesFrom
	}
	if lead.LogicalParentID != "" && s.Lookup(lead.LogicalParentID) == nil {
		return lead.LogicalParentID
	}
	return ""
}

func (s *Session) HasParseErrors() bool {
	for _, is := range s.Issues {
		if is.Kind == parse.IssueParse {
			return true
		}
	}
	return false
}

// Housekeeping reports an id-less meta record such as a file history
// snapshot. It belongs to neither thread.
func (n *Node) Housekeeping() bool {
	return n.Kind == parse.KindMeta && n.ID == "" && n.LogicalParentID == "" && n.ContinuesFrom == ""
}

// MainThread reports a conversation node outside any parallel thread.
func (n *Node) MainThread() bool {
	return !n.IsParallelThread && !n.Housekeeping()
}

// AllParallel reports whether the session holds parallel-thread nodes and
// nothing else besides housekeeping.
func (s *Session) AllParallel() bool {
	parallel := false
	for _, n := range s.Nodes {
		if n.MainThread() {
			return false
		}
		if n.IsParallelThread {
			parallel = true
		}
	}
	return parallel
}

func (s *Session) HasMainThread() bool {
	for _, n := range s.Nodes {
		if n.MainThread() {
			return true
		}
	}
	return false
}

// DeclaresMain reports whether a main-thread node of s declares sessionID.
func (s *Session) DeclaresMain(sessionID string) bool {
	for _, n := range s.Nodes {
		if n.MainThread() && n.SessionID == sessionID {
			return true
		}
	}
	return false
}

// IDs returns the sorted distinct node ids.
func (s *Session) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CommandOnly reports a session with no assistant output whose user
// turns are all meta records or slash-command invocations.
func (s *Session) CommandOnly() bool {
	users := 0
	for _, n := range s.Nodes {
		switch n.Role {
		case "assistant":
			return false
		case "user":
			users++
			if n.IsMeta {
				continue
			}
			if !strings.Contains(n.Payload, "<command-name>") && !strings.Contains(n.Payload, "<local-command-stdout>") {
				return false
			}
		}
	}
	return users > 0
}
