package index

import (
	"encoding/json"
	"fmt"

	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
)

type Stats struct {
	Projects int
	Sessions int
	Edges    int
	Pruned   int
}

func (s Stats) String() string {
	return fmt.Sprintf("projects=%d sessions=%d edges=%d pruned=%d",
		s.Projects, s.Sessions, s.Edges, s.Pruned)
}

// SaveManifest replaces everything stored for m.Project with the rows
// and edges of m.
func (d *DB) SaveManifest(m *manifest.Manifest, paths map[string]string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions WHERE project = ?", m.Project); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM edges WHERE project = ?", m.Project); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO sessions (session_key, project, session_id, file_path, title, type, confidence, display,
		 chain_id, chain_pos, created_at, updated_at, node_count, has_errors, row_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range m.Sessions {
		rowJSON, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode row %s: %w", r.Session, err)
		}
		chainID, chainPos := "", 0
		if r.Chain != nil {
			chainID, chainPos = r.Chain.ID, r.Chain.Position
		}
		_, err = stmt.Exec(
			r.Session, m.Project, r.SessionID, paths[r.Session], r.Title, r.Type, r.Confidence, r.DisplayByDefault,
			chainID, chainPos, r.Created, r.Updated, r.NodeCount, r.HasParseErrors || len(r.Errors) > 0, string(rowJSON),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.Session, err)
		}
	}

	edgeStmt, err := tx.Prepare(
		`INSERT INTO edges (project, kind, from_key, to_key, node, target, compaction, unbound, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range m.Edges {
		if _, err := edgeStmt.Exec(m.Project, string(e.Kind), e.From, e.To, e.Node, e.Target, e.Compaction, e.Unbound, e.Confidence); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return tx.Commit()
}

// SaveAll stores every manifest and drops projects that no longer exist.
func (d *DB) SaveAll(ms []*manifest.Manifest, paths map[string]string) (Stats, error) {
	var stats Stats
	keep := make(map[string]struct{}, len(ms))
	for _, m := range ms {
		if err := d.SaveManifest(m, paths); err != nil {
			return stats, fmt.Errorf("save %s: %w", m.Project, err)
		}
		keep[m.Project] = struct{}{}
		stats.Projects++
		stats.Sessions += len(m.Sessions)
		stats.Edges += len(m.Edges)
	}

	pruned, err := d.pruneProjects(keep)
	if err != nil {
		return stats, fmt.Errorf("prune: %w", err)
	}
	stats.Pruned = pruned
	return stats, nil
}

func (d *DB) pruneProjects(keep map[string]struct{}) (int, error) {
	rows, err := d.db.Query("SELECT DISTINCT project FROM sessions")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := keep[p]; !ok {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range stale {
		if err := d.SaveManifest(&manifest.Manifest{Project: p}, nil); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
