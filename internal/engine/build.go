package engine

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Zuo-Peng/ai-session-graph/internal/classify"
	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/link"
	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/scan"
	"github.com/Zuo-Peng/ai-session-graph/internal/sidechain"
	"github.com/Zuo-Peng/ai-session-graph/internal/snapshot"
	"github.com/Zuo-Peng/ai-session-graph/internal/tasks"
)

const maxTitleRunes = 120

// builder turns the phase results of one unit into per-project manifests.
type builder struct {
	ix       *graph.Index
	links    *link.Result
	side     *sidechain.Result
	snaps    map[string]snapshot.Verdict
	sdk      map[string]classify.SDKSignals
	results  []classify.Result // parallel to ix.Sessions
	files    []scan.SessionFile
	todoDirs []string
	log      *zap.Logger
}

func (b *builder) manifests(u unit) []*manifest.Manifest {
	rel := make(map[string]string, len(b.files))
	for _, f := range b.files {
		rel[f.Key()] = f.Rel
	}

	byProject := make(map[string]*manifest.Manifest, len(u.projects))
	dirs := make(map[string]string, len(u.projects))
	for _, p := range u.projects {
		byProject[p.Name] = &manifest.Manifest{Project: p.Name}
		dirs[p.Name] = p.Dir
	}

	for i, s := range b.ix.Sessions {
		m := byProject[s.Project]
		if m == nil {
			continue
		}
		m.Sessions = append(m.Sessions, b.row(s, b.results[i], rel[s.Key], dirs[s.Project]))
		m.Edges = append(m.Edges, b.edges(s)...)
	}

	for _, c := range b.links.Chains {
		seen := make(map[string]bool)
		for _, k := range c.Sessions {
			s := b.ix.Get(k)
			if s == nil || seen[s.Project] {
				continue
			}
			seen[s.Project] = true
			if m := byProject[s.Project]; m != nil {
				m.Chains = append(m.Chains, manifest.Chain{
					ID:         c.ID,
					Sessions:   append([]string(nil), c.Sessions...),
					Orphaned:   c.Orphaned,
					ForkedFrom: c.ForkedFrom,
				})
			}
		}
	}

	out := make([]*manifest.Manifest, 0, len(u.projects))
	for _, p := range u.projects {
		m := byProject[p.Name]
		m.Normalize()
		out = append(out, m)
	}
	return out
}

func (b *builder) row(s *graph.Session, res classify.Result, rel, projectDir string) manifest.Row {
	r := manifest.Row{
		Session:          s.Key,
		SessionID:        s.ID,
		Path:             rel,
		Title:            title(s),
		Type:             string(res.Type),
		Confidence:       res.Confidence,
		DisplayByDefault: res.DisplayByDefault,
		SDKScore:         b.sdk[s.Key].Score,
		HasParseErrors:   s.HasParseErrors(),
		NodeCount:        len(s.Nodes),
		RootCount:        len(s.Roots),
		Created:          manifest.Timestamp(s.Created),
		Updated:          manifest.Timestamp(s.Updated),
		CommandOnly:      s.CommandOnly(),
	}

	if pos, ok := b.links.ChainOf[s.Key]; ok {
		r.Chain = &manifest.ChainRef{ID: pos.Chain.ID, Position: pos.Position}
	}
	if l := b.links.Links[s.Key]; l != nil {
		r.Orphaned = l.Orphaned
		r.ContextHistory = l.ContextHistory
	}
	if v, ok := b.snaps[s.Key]; ok {
		r.SnapshotOf = v.Of
		r.Containment = v.Containment
	}
	for _, g := range b.side.ByOwner[s.Key] {
		r.SidechainGroups = append(r.SidechainGroups, g.ID)
	}
	if s.AllParallel() {
		for _, g := range b.side.BySession[s.Key] {
			if g.Owner != "" {
				r.SidechainOf = g.Owner
				break
			}
		}
	}

	r.TaskInvocations, r.SubagentTypes = invocations(s)
	r.Errors = issueStrings(s.Issues, b.links.Issues[s.Key], b.side.Issues[s.Key])

	if s.HasMainThread() {
		dirs := append(append([]string(nil), b.todoDirs...), filepath.Join(projectDir, "todos"))
		sum, err := tasks.Lookup(dirs, s.ID)
		if err != nil {
			b.log.Warn("task list unreadable", zap.String("session", s.Key), zap.Error(err))
		}
		r.Tasks = sum
	}
	return r
}

func (b *builder) edges(s *graph.Session) []manifest.Edge {
	var out []manifest.Edge
	if l := b.links.Links[s.Key]; l != nil && l.Predecessor != "" {
		out = append(out, manifest.Edge{
			Kind:       manifest.EdgeContinuation,
			From:       l.Predecessor,
			To:         s.Key,
			Node:       l.Ref,
			Compaction: l.Compaction,
			Confidence: l.Confidence,
		})
	}
	for _, g := range b.side.BySession[s.Key] {
		if g.Owner == "" {
			continue
		}
		conf := 1.0
		if g.Unbound {
			conf = 0.5
		}
		out = append(out, manifest.Edge{
			Kind:        manifest.EdgeSidechain,
			From:        g.ID,
			To:          g.Owner,
			Node:        g.Trigger,
			Unbound:     g.Unbound,
			Confidence:  conf,
			AgentType:   g.AgentType,
			Description: g.Description,
		})
	}
	for _, mk := range s.Markers {
		out = append(out, manifest.Edge{
			Kind:   manifest.EdgeCompaction,
			From:   s.Key,
			To:     s.Key,
			Node:   mk.From,
			Target: mk.To,
		})
	}
	return out
}

// invocations counts the delegation calls made on the main thread and
// lists their distinct subagent types.
func invocations(s *graph.Session) (int, []string) {
	count := 0
	seen := make(map[string]bool)
	var types []string
	for _, n := range s.Nodes {
		if n.Kind != parse.KindDelegation || !n.MainThread() {
			continue
		}
		for _, inv := range n.Delegations {
			count++
			if inv.AgentType != "" && !seen[inv.AgentType] {
				seen[inv.AgentType] = true
				types = append(types, inv.AgentType)
			}
		}
	}
	return count, types
}

func issueStrings(groups ...[]parse.Issue) []string {
	var out []string
	for _, g := range groups {
		for _, is := range g {
			out = append(out, is.Error())
		}
	}
	return out
}

// title is the first line of the opening user prompt.
func title(s *graph.Session) string {
	for _, n := range s.Nodes {
		if n.Role != "user" || n.IsParallelThread || n.IsMeta || n.Kind != parse.KindTurn {
			continue
		}
		t := strings.TrimSpace(n.Payload)
		if t == "" || strings.HasPrefix(t, "<command-") || strings.HasPrefix(t, "<local-command-") {
			continue
		}
		if i := strings.IndexByte(t, '\n'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		if r := []rune(t); len(r) > maxTitleRunes {
			t = string(r[:maxTitleRunes-1]) + "…"
		}
		return t
	}
	return ""
}
