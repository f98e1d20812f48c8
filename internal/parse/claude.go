package parse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const maxLineSize = 10 * 1024 * 1024 // 10MB
const maxTextSize = 8 * 1024         // 8KB of payload text per record

var DefaultDelegationTools = []string{"Task", "Agent"}

type Options struct {
	// DelegationTools names the tool_use blocks that spawn parallel
	// sub-conversations. Nil means DefaultDelegationTools.
	DelegationTools []string
}

func (o Options) toolSet() map[string]bool {
	names := o.DelegationTools
	if names == nil {
		names = DefaultDelegationTools
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// ParseFile normalizes one session file. It never fails: an unreadable
// file comes back empty with a single parse issue.
func ParseFile(filePath string, opts Options) *File {
	f, err := os.Open(filePath)
	if err != nil {
		return &File{
			Path:   filePath,
			Issues: []Issue{{Kind: IssueParse, Message: fmt.Sprintf("open: %v", err)}},
		}
	}
	defer f.Close()

	file := ParseReader(f, opts)
	file.Path = filePath
	if info, err := f.Stat(); err == nil {
		file.Mtime = info.ModTime()
		file.Size = info.Size()
	}
	return file
}

func ParseReader(r io.Reader, opts Options) *File {
	tools := opts.toolSet()
	file := &File{}
	br := bufio.NewReaderSize(r, 64*1024)

	// tool_use ids of delegation invocations seen so far in this file
	delegations := make(map[string]bool)

	lineNum := 0
	for {
		line, tooLong, err := readLine(br, maxLineSize)
		if err != nil {
			if err != io.EOF {
				file.Issues = append(file.Issues, Issue{
					Kind: IssueParse, Line: lineNum + 1,
					Message: fmt.Sprintf("read: %v", err),
				})
			}
			break
		}
		lineNum++
		if tooLong {
			file.Issues = append(file.Issues, Issue{
				Kind: IssueParse, Line: lineNum,
				Message: fmt.Sprintf("line exceeds %d bytes", maxLineSize),
			})
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		rec, issue := parseLine(line, lineNum, tools)
		if issue != nil {
			file.Issues = append(file.Issues, *issue)
			continue
		}

		for _, inv := range rec.Delegations {
			delegations[inv.ID] = true
		}
		if rec.Kind == KindTurn && rec.Role == "user" {
			for _, id := range rec.ToolResults {
				if delegations[id] {
					rec.Kind = KindDelegationResult
					break
				}
			}
		}
		file.Records = append(file.Records, rec)
	}
	file.Lines = lineNum
	if len(file.Records) == 0 && !file.HasParseErrors() {
		file.Issues = append(file.Issues, Issue{Kind: IssueParse, Message: "no parseable records"})
	}
	return file
}

// ParseLine normalizes a single raw line using the default delegation
// tools.
func ParseLine(line []byte, lineNum int) (Record, *Issue) {
	return parseLine(bytes.TrimSpace(line), lineNum, Options{}.toolSet())
}

// readLine returns the next line without its terminator. Lines longer
// than limit are drained and reported as tooLong.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

func parseLine(line []byte, lineNum int, tools map[string]bool) (Record, *Issue) {
	if !utf8.Valid(line) {
		return Record{}, &Issue{Kind: IssueParse, Line: lineNum, Message: "invalid UTF-8"}
	}
	if !gjson.ValidBytes(line) {
		return Record{}, &Issue{Kind: IssueParse, Line: lineNum, Message: "malformed or truncated JSON"}
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return Record{}, &Issue{Kind: IssueParse, Line: lineNum, Message: "record is not a JSON object"}
	}

	rec := Record{
		Type:             root.Get("type").String(),
		ID:               root.Get("uuid").String(),
		ParentID:         root.Get("parentUuid").String(),
		LogicalParentID:  root.Get("logicalParentUuid").String(),
		SessionID:        root.Get("sessionId").String(),
		Timestamp:        parseTimestamp(root.Get("timestamp").String()),
		IsParallelThread: root.Get("isSidechain").Bool(),
		IsMeta:           root.Get("isMeta").Bool(),
		ContinuesFrom:    root.Get("leafUuid").String(),
		Cwd:              root.Get("cwd").String(),
		Line:             lineNum,
	}

	switch sub := root.Get("subtype").String(); {
	case sub == "compact_boundary":
		rec.Subtype = SubtypeCompactionBoundary
	case root.Get("isCompactSummary").Bool():
		rec.Subtype = SubtypeCompactSummary
	default:
		rec.Subtype = sub
	}

	switch rec.Type {
	case "user", "assistant":
		rec.Role = rec.Type
		rec.Kind = KindTurn
		content := root.Get("message.content")
		rec.Payload = extractText(content)
		collectTools(content, tools, &rec)
		if rec.Role == "assistant" && len(rec.Delegations) > 0 {
			rec.Kind = KindDelegation
		}
		if rec.IsMeta {
			rec.Kind = KindMeta
		}
	case "summary":
		rec.Kind = KindTerminalSummary
		rec.Payload = truncate(strings.TrimSpace(root.Get("summary").String()))
	default:
		// system records and anything newer than this parser
		rec.Kind = KindMeta
		if c := root.Get("content"); c.Type == gjson.String {
			rec.Payload = truncate(strings.TrimSpace(c.String()))
		}
	}
	return rec, nil
}

func extractText(content gjson.Result) string {
	if content.Type == gjson.String {
		return truncate(strings.TrimSpace(content.String()))
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return truncate(strings.TrimSpace(strings.Join(parts, "\n")))
}

func collectTools(content gjson.Result, tools map[string]bool, rec *Record) {
	if !content.IsArray() {
		return
	}
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "tool_use":
			if tools[block.Get("name").String()] {
				id := block.Get("id").String()
				if id == "" {
					id = fmt.Sprintf("line%d#%d", rec.Line, len(rec.Delegations))
				}
				rec.Delegations = append(rec.Delegations, Invocation{
					ID:          id,
					AgentType:   block.Get("input.subagent_type").String(),
					Description: block.Get("input.description").String(),
				})
			}
		case "tool_result":
			if id := block.Get("tool_use_id").String(); id != "" {
				rec.ToolResults = append(rec.ToolResults, id)
			}
		}
		return true
	})
}

// truncate cuts s to maxTextSize bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxTextSize {
		return s
	}
	cut := maxTextSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	// try RFC3339
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// try RFC3339Nano
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	// try ISO8601 without timezone
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
