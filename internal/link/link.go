// Package link resolves declared continuation references between
// sessions of one project into chains.
package link

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

const (
	OrphanedConfidence = 0.5
	minAmbiguous       = 0.3
	maxAmbiguous       = 0.9

	// a file opening with more summaries than this replays context
	// history rather than continuing one predecessor
	contextHistorySummaries = 2
	contextHistoryPenalty   = 0.3
)

// Link is the resolved continuation edge of one session.
type Link struct {
	Session     string // successor key
	Ref         string // declared node id
	Predecessor string // empty when orphaned
	Orphaned    bool
	Compaction  bool
	Candidates  int
	Confidence  float64

	// ContextHistory is set when the session opens with a run of
	// summaries; the first one still names the predecessor.
	ContextHistory bool
}

type Chain struct {
	ID         string
	Sessions   []string // keys in order
	Orphaned   bool     // head declared a reference that did not resolve
	ForkedFrom string   // predecessor key when this chain branches off another
}

type Position struct {
	Chain    *Chain
	Position int
}

type Result struct {
	Links   map[string]*Link
	Chains  []*Chain
	ChainOf map[string]Position
	Issues  map[string][]parse.Issue

	succ map[string]bool
}

// HasSuccessor reports whether some chain continues after key.
func (r *Result) HasSuccessor(key string) bool { return r.succ[key] }

// Resolve links every session of ix that declares a continuation
// reference. Only sessions inside ix are ever considered.
func Resolve(ix *graph.Index, project string) *Result {
	r := &Result{
		Links:   make(map[string]*Link),
		ChainOf: make(map[string]Position),
		Issues:  make(map[string][]parse.Issue),
		succ:    make(map[string]bool),
	}

	for _, s := range ix.Sessions {
		ref := s.ContinuationRef()
		if ref == "" {
			continue
		}
		l := r.resolveOne(ix, s, ref)
		if s.OpeningSummaries() > contextHistorySummaries {
			l.ContextHistory = true
			l.Confidence = max(l.Confidence-contextHistoryPenalty, minAmbiguous)
		}
		r.Links[s.Key] = l
	}

	r.buildChains(ix, project)
	return r
}

func (r *Result) resolveOne(ix *graph.Index, s *graph.Session, ref string) *Link {
	l := &Link{Session: s.Key, Ref: ref}

	var cands []*graph.Session
	for _, c := range ix.WithNode(ref) {
		if c == s {
			continue
		}
		if !c.Created.IsZero() && !s.Created.IsZero() && c.Created.After(s.Created) {
			continue
		}
		cands = append(cands, c)
	}
	l.Candidates = len(cands)

	if len(cands) == 0 {
		l.Orphaned = true
		l.Confidence = OrphanedConfidence
		return l
	}

	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := distance(s.Created, cands[i].Updated), distance(s.Created, cands[j].Updated)
		if di != dj {
			return di < dj
		}
		return cands[i].Key < cands[j].Key
	})
	pred := cands[0]
	l.Predecessor = pred.Key
	l.Confidence = 1.0

	if len(cands) > 1 {
		l.Confidence = clamp(1/float64(len(cands)), minAmbiguous, maxAmbiguous)
		keys := make([]string, len(cands))
		for i, c := range cands {
			keys[i] = c.Key
		}
		r.Issues[s.Key] = append(r.Issues[s.Key], parse.Issue{
			Kind:    parse.IssueLinkAmbiguity,
			NodeID:  ref,
			Message: fmt.Sprintf("%d candidate predecessors %v; chose %s", len(cands), keys, pred.Key),
		})
	}

	if x := pred.Lookup(ref); x != nil && x.Subtype == parse.SubtypeCompactionBoundary {
		l.Compaction = true
	}
	if last := pred.Last(); last != nil && last.Subtype == parse.SubtypeCompactionBoundary {
		l.Compaction = true
	}
	return l
}

// distance is the absolute gap between two instants. Unknown instants are
// the farthest possible.
func distance(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// buildChains turns resolved links into chains. Edges are admitted in
// creation order; an edge whose predecessor already descends from the
// successor would close a loop and is dropped.
func (r *Result) buildChains(ix *graph.Index, project string) {
	links := make([]*Link, 0, len(r.Links))
	for _, l := range r.Links {
		if l.Predecessor != "" {
			links = append(links, l)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return before(ix.Get(links[i].Session), ix.Get(links[j].Session))
	})

	prev := make(map[string]string)
	for _, l := range links {
		if reaches(prev, l.Predecessor, l.Session) {
			r.Issues[l.Session] = append(r.Issues[l.Session], parse.Issue{
				Kind:    parse.IssueStructural,
				NodeID:  l.Ref,
				Message: fmt.Sprintf("continuation from %s would form a cycle; dropped", l.Predecessor),
			})
			l.Predecessor = ""
			l.Orphaned = true
			l.Compaction = false
			l.Confidence = OrphanedConfidence
			continue
		}
		prev[l.Session] = l.Predecessor
	}

	// each predecessor keeps its earliest successor; the others fork
	next := make(map[string]string)
	forks := make(map[string]string)
	for _, l := range links {
		p, ok := prev[l.Session]
		if !ok {
			continue
		}
		if _, taken := next[p]; taken {
			forks[l.Session] = p
			continue
		}
		next[p] = l.Session
		r.succ[p] = true
	}

	for _, s := range ix.Sessions {
		_, hasPrev := prev[s.Key]
		_, isFork := forks[s.Key]
		l := r.Links[s.Key]
		head := (!hasPrev || isFork) && (next[s.Key] != "" || l != nil)
		if !head {
			continue
		}
		c := &Chain{
			ID:         chainID(project, s.Key),
			Orphaned:   l != nil && l.Orphaned,
			ForkedFrom: forks[s.Key],
		}
		for k := s.Key; k != ""; k = next[k] {
			r.ChainOf[k] = Position{Chain: c, Position: len(c.Sessions)}
			c.Sessions = append(c.Sessions, k)
		}
		r.Chains = append(r.Chains, c)
	}
	sort.Slice(r.Chains, func(i, j int) bool { return r.Chains[i].Sessions[0] < r.Chains[j].Sessions[0] })
}

func before(a, b *graph.Session) bool {
	switch {
	case a.Created.IsZero() != b.Created.IsZero():
		return !a.Created.IsZero()
	case !a.Created.Equal(b.Created):
		return a.Created.Before(b.Created)
	}
	return a.Key < b.Key
}

// reaches walks predecessors from k looking for target.
func reaches(prev map[string]string, k, target string) bool {
	for steps := 0; k != "" && steps <= len(prev); steps++ {
		if k == target {
			return true
		}
		k = prev[k]
	}
	return false
}

func chainID(project, head string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ais-chain:"+project+"/"+head)).String()
}
