package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS files (
    path      TEXT PRIMARY KEY,
    variant   TEXT NOT NULL DEFAULT '',
    mtime     INTEGER NOT NULL DEFAULT 0,
    size      INTEGER NOT NULL DEFAULT 0,
    raw_size  INTEGER NOT NULL DEFAULT 0,
    digest    TEXT NOT NULL DEFAULT '',
    blob      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_key TEXT PRIMARY KEY,
    project     TEXT NOT NULL,
    session_id  TEXT NOT NULL DEFAULT '',
    file_path   TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL,
    confidence  REAL NOT NULL DEFAULT 0,
    display     INTEGER NOT NULL DEFAULT 1,
    chain_id    TEXT NOT NULL DEFAULT '',
    chain_pos   INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL DEFAULT '',
    node_count  INTEGER NOT NULL DEFAULT 0,
    has_errors  INTEGER NOT NULL DEFAULT 0,
    row_json    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_project ON sessions(project);

CREATE TABLE IF NOT EXISTS edges (
    project    TEXT NOT NULL,
    kind       TEXT NOT NULL,
    from_key   TEXT NOT NULL,
    to_key     TEXT NOT NULL,
    node       TEXT NOT NULL DEFAULT '',
    target     TEXT NOT NULL DEFAULT '',
    compaction INTEGER NOT NULL DEFAULT 0,
    unbound    INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS edges_from ON edges(from_key);
CREATE INDEX IF NOT EXISTS edges_to ON edges(to_key);

CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
    title,
    content=sessions,
    content_rowid=rowid,
    tokenize='unicode61'
);

-- triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS sessions_ai AFTER INSERT ON sessions BEGIN
    INSERT INTO sessions_fts(rowid, title) VALUES (new.rowid, new.title);
END;

CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
    INSERT INTO sessions_fts(sessions_fts, rowid, title) VALUES('delete', old.rowid, old.title);
END;

CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE ON sessions BEGIN
    INSERT INTO sessions_fts(sessions_fts, rowid, title) VALUES('delete', old.rowid, old.title);
    INSERT INTO sessions_fts(rowid, title) VALUES (new.rowid, new.title);
END;

CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);
`

type DB struct {
	db *sql.DB
}

func OpenDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrateSchemaVersion(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// schemaVersion should be bumped whenever normalization or the cached
// record layout changes, to force every file to be parsed again.
const schemaVersion = "2"

func (d *DB) migrateSchemaVersion() error {
	var ver string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&ver)
	if err == nil && ver == schemaVersion {
		return nil
	}
	if _, err := d.db.Exec("DELETE FROM files"); err != nil {
		return err
	}
	_, err = d.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Raw() *sql.DB {
	return d.db
}

type Counts struct {
	Files    int
	Sessions int
	Edges    int
	Projects int
}

func (d *DB) Counts() (Counts, error) {
	var c Counts
	err := d.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM files),
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM edges),
		(SELECT COUNT(DISTINCT project) FROM sessions)`,
	).Scan(&c.Files, &c.Sessions, &c.Edges, &c.Projects)
	return c, err
}

// Session is a stored manifest row with the location of its file.
type Session struct {
	Project  string
	FilePath string
	Row      manifest.Row
}

func (d *DB) GetSession(sessionKey string) (*Session, error) {
	var s Session
	var rowJSON string
	err := d.db.QueryRow(
		"SELECT project, file_path, row_json FROM sessions WHERE session_key = ?",
		sessionKey,
	).Scan(&s.Project, &s.FilePath, &rowJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rowJSON), &s.Row); err != nil {
		return nil, fmt.Errorf("decode row %s: %w", sessionKey, err)
	}
	return &s, nil
}

// Edges returns the stored edges touching sessionKey, including
// sidechain edges whose group lives in that session.
func (d *DB) Edges(sessionKey string) ([]manifest.Edge, error) {
	rows, err := d.db.Query(`
		SELECT kind, from_key, to_key, node, target, compaction, unbound, confidence
		FROM edges
		WHERE from_key = ? OR to_key = ? OR from_key LIKE ? ESCAPE '\'
		ORDER BY kind, from_key, to_key, node`,
		sessionKey, sessionKey, escapeLike(sessionKey)+"#%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []manifest.Edge
	for rows.Next() {
		var e manifest.Edge
		var kind string
		if err := rows.Scan(&kind, &e.From, &e.To, &e.Node, &e.Target, &e.Compaction, &e.Unbound, &e.Confidence); err != nil {
			return nil, err
		}
		e.Kind = manifest.EdgeKind(kind)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
