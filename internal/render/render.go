package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

const (
	colorReset   = "\033[0m"
	colorUser    = "\033[1;34m" // bold blue
	colorAssist  = "\033[1;32m" // bold green
	colorSide    = "\033[2;35m" // dim magenta for parallel threads
	colorDim     = "\033[2m"
	colorHit     = "\033[43m"   // yellow background
	colorBoldRed = "\033[1;31m" // bold red for keyword highlights
)

type Options struct {
	Line    int    // physical line to centre on, 0 = start
	Context int    // nodes before/after the hit to show
	Width   int    // wrap width (0 = no wrap)
	Query   string // search query for keyword highlighting
	Plain   bool   // no ANSI colors
}

// fts5Operators are FTS5 operators that should not be highlighted as keywords.
var fts5Operators = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "NEAR": true,
	"and": true, "or": true, "not": true, "near": true,
}

// highlightKeywords wraps case-insensitive matches of query terms in bold red ANSI codes.
func highlightKeywords(text, query string) string {
	if query == "" {
		return text
	}
	var filtered []string
	for _, t := range strings.Fields(query) {
		if !fts5Operators[t] {
			filtered = append(filtered, t)
		}
	}
	for _, term := range filtered {
		lower := strings.ToLower(term)
		i := 0
		for i < len(text) {
			idx := strings.Index(strings.ToLower(text[i:]), lower)
			if idx < 0 {
				break
			}
			pos := i + idx
			if pos+len(term) > len(text) {
				break
			}
			orig := text[pos : pos+len(term)]
			replacement := colorBoldRed + orig + colorReset
			text = text[:pos] + replacement + text[pos+len(term):]
			i = pos + len(replacement)
		}
	}
	return text
}

// indentLines prepends each line of text with the given prefix.
func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// wrapLine breaks a single line into multiple lines that fit within maxWidth
// visible columns, correctly skipping ANSI escape sequences when measuring width.
func wrapLine(line string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{line}
	}

	var result []string
	var cur strings.Builder
	visW := 0

	i := 0
	for i < len(line) {
		// check for ANSI escape sequence: ESC[ ... m
		if i+1 < len(line) && line[i] == '\033' && line[i+1] == '[' {
			j := i + 2
			for j < len(line) && line[j] != 'm' {
				j++
			}
			if j < len(line) {
				j++ // include 'm'
			}
			cur.WriteString(line[i:j])
			i = j
			continue
		}

		r, size := utf8.DecodeRuneInString(line[i:])
		rw := runewidth.RuneWidth(r)

		if visW+rw > maxWidth {
			result = append(result, cur.String())
			cur.Reset()
			visW = 0
		}

		cur.WriteRune(r)
		visW += rw
		i += size
	}

	if cur.Len() > 0 {
		result = append(result, cur.String())
	}

	if len(result) == 0 {
		return []string{""}
	}
	return result
}

// stripANSI removes the escape sequences this package writes.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// depth counts structural ancestors, bounded by the session size.
func depth(n *graph.Node, limit int) int {
	d := 0
	for p := n.Parent; p != nil && d < limit; p = p.Parent {
		d++
	}
	return d
}

func label(n *graph.Node) (string, string) {
	switch {
	case n.Subtype == parse.SubtypeCompactionBoundary:
		return colorDim, "COMPACT"
	case n.Kind == parse.KindTerminalSummary:
		return colorDim, "SUMMARY"
	case n.Kind == parse.KindDelegation:
		return colorAssist, "DELEGATE"
	case n.Kind == parse.KindDelegationResult:
		return colorUser, "RESULT"
	case n.Role == "user":
		return colorUser, "USER"
	case n.Role == "assistant":
		return colorAssist, "ASST"
	default:
		return colorDim, strings.ToUpper(n.Type)
	}
}

// Session renders s with its manifest row and edges, and returns the
// content plus the 0-based output line of the hit node (-1 if none).
func Session(s *graph.Session, row *manifest.Row, edges []manifest.Edge, opts Options) (string, int) {
	if opts.Context == 0 {
		opts.Context = 10
	}
	if opts.Context < 0 {
		opts.Context = len(s.Nodes) // no limit
	}

	var b strings.Builder
	hitLine := -1
	lineCount := 0
	separator := colorDim + "--------------------------------------------------" + colorReset

	writeLine := func(line string) {
		for _, wl := range wrapLine(line, opts.Width) {
			if opts.Plain {
				wl = stripANSI(wl)
			}
			b.WriteString(wl)
			b.WriteString("\n")
			lineCount++
		}
	}

	writeLine(fmt.Sprintf("%s--- %s [%s] ---%s", colorDim, s.Key, s.ID, colorReset))
	if row != nil {
		writeLine(fmt.Sprintf("%stype=%s confidence=%.2f nodes=%d roots=%d%s",
			colorDim, row.Type, row.Confidence, row.NodeCount, row.RootCount, colorReset))
		if row.Chain != nil {
			writeLine(fmt.Sprintf("%schain=%s position=%d%s", colorDim, row.Chain.ID, row.Chain.Position, colorReset))
		}
		if row.SnapshotOf != "" {
			writeLine(fmt.Sprintf("%ssnapshot of %s (%.0f%%)%s", colorDim, row.SnapshotOf, row.Containment*100, colorReset))
		}
		for _, e := range row.Errors {
			writeLine(fmt.Sprintf("%s! %s%s", colorBoldRed, e, colorReset))
		}
	}
	for _, e := range edges {
		writeLine(fmt.Sprintf("%s%s %s -> %s %s%s", colorDim, e.Kind, e.From, e.To, e.Node, colorReset))
	}

	if len(s.Nodes) == 0 {
		writeLine("(empty session)")
		return b.String(), -1
	}

	hit := -1
	for i, n := range s.Nodes {
		if opts.Line > 0 && n.Line >= opts.Line {
			hit = i
			break
		}
	}
	start, end := 0, len(s.Nodes)
	if hit >= 0 {
		start = max(hit-opts.Context, 0)
		end = min(hit+opts.Context+1, len(s.Nodes))
	} else if end > 2*opts.Context+1 {
		end = 2*opts.Context + 1
	}

	writeLine(separator)
	if start > 0 {
		writeLine(fmt.Sprintf("%s... (%d nodes before) ...%s", colorDim, start, colorReset))
	}
	for i := start; i < end; i++ {
		n := s.Nodes[i]
		color, name := label(n)
		prefix := strings.Repeat("  ", min(depth(n, len(s.Nodes)), 8))
		if n.IsParallelThread {
			color = colorSide
			prefix += "| "
		}
		ts := ""
		if !n.Timestamp.IsZero() {
			ts = n.Timestamp.UTC().Format("2006-01-02 15:04:05")
		}
		if i == hit {
			hitLine = lineCount
			writeLine(fmt.Sprintf("%s%s>> %s L%d %s <<%s", prefix, colorHit, name, n.Line, ts, colorReset))
		} else {
			writeLine(fmt.Sprintf("%s%s%s >%s %sL%d %s%s", prefix, color, name, colorReset, colorDim, n.Line, ts, colorReset))
		}

		text := n.Payload
		if n.Kind == parse.KindDelegation && len(n.Delegations) > 0 {
			names := make([]string, len(n.Delegations))
			for i, inv := range n.Delegations {
				names[i] = inv.ID
				if inv.AgentType != "" {
					names[i] += " (" + inv.AgentType + ")"
				}
			}
			text = strings.TrimSpace(text + "\n[delegates " + strings.Join(names, ", ") + "]")
		}
		if text != "" {
			text = indentLines(highlightKeywords(text, opts.Query), prefix+"  ")
			for _, tl := range strings.Split(text, "\n") {
				writeLine(tl)
			}
		}
	}
	if rest := len(s.Nodes) - end; rest > 0 {
		writeLine(fmt.Sprintf("%s... (%d nodes after) ...%s", colorDim, rest, colorReset))
	}
	return b.String(), hitLine
}

// SessionFromIndex reads the stored row and edges of sessionKey, graphs
// its log file again and renders it.
func SessionFromIndex(db *index.DB, sessionKey string, parseOpts parse.Options, opts Options) (string, int, error) {
	stored, err := db.GetSession(sessionKey)
	if err != nil {
		return "", -1, fmt.Errorf("get session: %w", err)
	}
	if stored == nil {
		return "", -1, fmt.Errorf("session not found: %s", sessionKey)
	}
	edges, err := db.Edges(sessionKey)
	if err != nil {
		return "", -1, fmt.Errorf("get edges: %w", err)
	}

	f := parse.ParseFile(stored.FilePath, parseOpts)
	s := graph.Build(f, stored.Project, sessionKey)
	content, hit := Session(s, &stored.Row, edges, opts)
	return content, hit, nil
}
