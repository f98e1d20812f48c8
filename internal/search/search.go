package search

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
)

type Result struct {
	SessionKey string
	Project    string
	SessionID  string
	Type       string
	Title      string
	ChainID    string
	ChainPos   int
	UpdatedAt  string
	Snippet    string
	Rank       float64
}

type Options struct {
	Query   string // "" lists instead of matching
	Project string // "" = all
	Type    string // "" = all
	Chain   string // "" = all; otherwise list in chain order
	All     bool   // include sessions hidden by default
	Since   string // "" = no filter, e.g. "2024-01-01"
	Limit   int
}

// containsCJK returns true if the string contains any CJK Unified Ideograph.
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// makeSnippet extracts a snippet around the first occurrence of query in text.
func makeSnippet(text, query string, contextChars int) string {
	lower := strings.ToLower(text)
	qLower := strings.ToLower(query)
	idx := strings.Index(lower, qLower)
	if idx < 0 || len(lower) != len(text) {
		// no match, or case folding moved byte offsets: return head
		if len([]rune(text)) > contextChars*2 {
			return string([]rune(text)[:contextChars*2]) + "..."
		}
		return text
	}
	runes := []rune(text)
	qLen := len([]rune(query))
	runePos := len([]rune(text[:idx]))
	start := max(runePos-contextChars, 0)
	end := min(runePos+qLen+contextChars, len(runes))
	prefix, suffix := "", ""
	if start > 0 {
		prefix = "..."
	}
	if end < len(runes) {
		suffix = "..."
	}
	snippet := string(runes[start:runePos]) +
		">>>" + string(runes[runePos:runePos+qLen]) + "<<<" +
		string(runes[runePos+qLen:end])
	return prefix + snippet + suffix
}

// Search matches session titles. An empty query lists the most recently
// updated sessions instead.
func Search(db *index.DB, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	switch {
	case strings.TrimSpace(opts.Query) == "":
		return list(db, opts)
	case containsCJK(opts.Query):
		return searchLike(db, opts)
	default:
		return searchFTS(db, opts)
	}
}

// filters appends the shared WHERE conditions for the sessions table s.
func filters(opts Options, conditions []string, args []any) ([]string, []any) {
	if opts.Project != "" {
		conditions = append(conditions, "s.project = ?")
		args = append(args, opts.Project)
	}
	if opts.Type != "" {
		conditions = append(conditions, "s.type = ?")
		args = append(args, opts.Type)
	}
	if opts.Chain != "" {
		conditions = append(conditions, "s.chain_id = ?")
		args = append(args, opts.Chain)
	}
	if !opts.All {
		conditions = append(conditions, "s.display = 1")
	}
	if opts.Since != "" {
		conditions = append(conditions, "s.updated_at >= ?")
		args = append(args, opts.Since)
	}
	return conditions, args
}

const columns = `s.session_key, s.project, s.session_id, s.type, s.title, s.chain_id, s.chain_pos, s.updated_at`

func searchFTS(db *index.DB, opts Options) ([]Result, error) {
	conditions, args := filters(opts, []string{"sessions_fts MATCH ?"}, []any{opts.Query})

	query := fmt.Sprintf(`
		SELECT %s,
			snippet(sessions_fts, 0, '>>>', '<<<', '...', 24) AS snip,
			bm25(sessions_fts) AS rank
		FROM sessions_fts
		JOIN sessions s ON sessions_fts.rowid = s.rowid
		WHERE %s
		ORDER BY rank
		LIMIT ?
	`, columns, strings.Join(conditions, " AND "))
	args = append(args, opts.Limit)

	rows, err := db.Raw().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := scanRow(rows, &r, &r.Snippet, &r.Rank); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func searchLike(db *index.DB, opts Options) ([]Result, error) {
	// LIKE match for CJK substring search
	conditions, args := filters(opts, []string{"s.title LIKE ?"}, []any{"%" + opts.Query + "%"})
	results, err := query(db, conditions, args, byRecency, opts.Limit)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Snippet = makeSnippet(results[i].Title, opts.Query, 30)
	}
	return results, nil
}

func list(db *index.DB, opts Options) ([]Result, error) {
	conditions, args := filters(opts, []string{"1 = 1"}, nil)
	order := byRecency
	if opts.Chain != "" {
		order = "s.chain_pos, s.session_key"
	}
	results, err := query(db, conditions, args, order, opts.Limit)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Snippet = results[i].Title
	}
	return results, nil
}

const byRecency = "s.updated_at DESC, s.session_key"

func query(db *index.DB, conditions []string, args []any, order string, limit int) ([]Result, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM sessions s
		WHERE %s
		ORDER BY %s
		LIMIT ?
	`, columns, strings.Join(conditions, " AND "), order)
	args = append(args, limit)

	rows, err := db.Raw().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := scanRow(rows, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanRow(rows *sql.Rows, r *Result, extra ...any) error {
	dest := []any{&r.SessionKey, &r.Project, &r.SessionID, &r.Type, &r.Title, &r.ChainID, &r.ChainPos, &r.UpdatedAt}
	return rows.Scan(append(dest, extra...)...)
}
