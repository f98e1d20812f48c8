package graph

import "sort"

// Index is the read-only lookup structure over the sessions of one
// analysis unit (a project plus its aliases). It is built once after
// every file of the unit has been graphed and is never mutated
// afterwards, so phase-2 passes may share it freely.
type Index struct {
	Sessions []*Session // sorted by Key

	byKey    map[string]*Session
	byNodeID map[string][]*Session
	byThread map[string][]*Session
}

func NewIndex(sessions []*Session) *Index {
	sorted := make([]*Session, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	ix := &Index{
		Sessions: sorted,
		byKey:    make(map[string]*Session, len(sorted)),
		byNodeID: make(map[string][]*Session),
		byThread: make(map[string][]*Session),
	}
	for _, s := range sorted {
		ix.byKey[s.Key] = s
		for id := range s.byID {
			ix.byNodeID[id] = append(ix.byNodeID[id], s)
		}
		seen := make(map[string]bool)
		for _, n := range s.Nodes {
			if n.SessionID != "" && !seen[n.SessionID] {
				seen[n.SessionID] = true
				ix.byThread[n.SessionID] = append(ix.byThread[n.SessionID], s)
			}
		}
		if s.ID != "" && !seen[s.ID] {
			ix.byThread[s.ID] = append(ix.byThread[s.ID], s)
		}
	}
	return ix
}

func (ix *Index) Get(key string) *Session { return ix.byKey[key] }

// WithNode returns the sessions holding a node with the given id, in key
// order.
func (ix *Index) WithNode(id string) []*Session { return ix.byNodeID[id] }

// Thread returns the sessions with at least one record declaring the
// given sessionId, in key order.
func (ix *Index) Thread(sessionID string) []*Session { return ix.byThread[sessionID] }
