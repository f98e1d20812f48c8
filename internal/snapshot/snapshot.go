// Package snapshot flags sessions that are partial saves of a larger
// sibling session.
package snapshot

import (
	"sort"
	"time"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
)

const (
	DefaultThreshold = 0.8
	DefaultAdjacency = 10 * time.Minute
)

type Options struct {
	Threshold float64
	Adjacency time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Adjacency < 0 {
		o.Adjacency = 0
	}
	return o
}

type Verdict struct {
	Snapshot    string // key of the partial save
	Of          string // key of the fuller session
	Containment float64
	size        int
}

// Detect compares every pair of sessions in ix whose time windows touch.
// The result maps a snapshot's key to its single best target.
func Detect(ix *graph.Index, opts Options) map[string]Verdict {
	opts = opts.withDefaults()

	type entry struct {
		s   *graph.Session
		ids []string
		set map[string]struct{}
	}
	var entries []entry
	for _, s := range ix.Sessions {
		ids := s.IDs()
		if len(ids) == 0 || s.Created.IsZero() {
			continue
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		entries = append(entries, entry{s: s, ids: ids, set: set})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].s.Created.Equal(entries[j].s.Created) {
			return entries[i].s.Created.Before(entries[j].s.Created)
		}
		return entries[i].s.Key < entries[j].s.Key
	})

	best := make(map[string]Verdict)
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			x, y := entries[i], entries[j]
			// sorted by start, so nothing further can be near x
			if y.s.Created.Sub(x.s.Updated) > opts.Adjacency {
				break
			}
			a, b := x, y
			if smaller(y.s, len(y.ids), x.s, len(x.ids)) {
				a, b = y, x
			}
			if a.s.Updated.After(b.s.Updated) {
				continue
			}
			shared := 0
			for _, id := range a.ids {
				if _, ok := b.set[id]; ok {
					shared++
				}
			}
			c := float64(shared) / float64(len(a.ids))
			if c < opts.Threshold {
				continue
			}
			v := Verdict{Snapshot: a.s.Key, Of: b.s.Key, Containment: c, size: len(b.ids)}
			if cur, ok := best[a.s.Key]; !ok || better(v, cur) {
				best[a.s.Key] = v
			}
		}
	}
	return best
}

// smaller reports whether a is the smaller session of the pair: fewer
// ids, then earlier last activity, then the greater key. It is a strict
// order, so a pair can only ever be judged in one direction.
func smaller(a *graph.Session, na int, b *graph.Session, nb int) bool {
	if na != nb {
		return na < nb
	}
	if !a.Updated.Equal(b.Updated) {
		return a.Updated.Before(b.Updated)
	}
	return a.Key > b.Key
}

func better(v, cur Verdict) bool {
	if v.Containment != cur.Containment {
		return v.Containment > cur.Containment
	}
	if v.size != cur.size {
		return v.size > cur.size
	}
	return v.Of < cur.Of
}
