package parse

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindTurn             Kind = "turn"
	KindDelegation       Kind = "delegation" // assistant turn that spawns parallel sub-conversations
	KindDelegationResult Kind = "delegation-result"
	KindMeta             Kind = "meta"
	KindTerminalSummary  Kind = "terminal-summary"
)

const (
	SubtypeCompactionBoundary = "compaction-boundary"
	SubtypeCompactSummary     = "compact-summary"
)

// Record is one normalized log line. Empty strings stand in for null
// references.
type Record struct {
	Kind             Kind
	Type             string // raw "type" field
	Role             string // "user", "assistant" or ""
	ID               string
	ParentID         string
	LogicalParentID  string
	SessionID        string
	Timestamp        time.Time
	IsParallelThread bool
	IsMeta           bool
	Subtype          string
	ContinuesFrom    string // leafUuid of summary records
	Cwd              string
	Payload          string
	Delegations      []Invocation
	ToolResults      []string // tool_use ids this record answers
	Line             int      // 1-based physical line
}

// Invocation is one delegation tool call of a record.
type Invocation struct {
	ID          string // tool_use id
	AgentType   string // input.subagent_type
	Description string
}

type IssueKind string

const (
	IssueParse            IssueKind = "parse"
	IssueStructural       IssueKind = "structural"
	IssueLinkAmbiguity    IssueKind = "link_ambiguity"
	IssueUnboundSidechain IssueKind = "unbound_sidechain"
)

// Issue is a non-fatal problem attached to a session.
type Issue struct {
	Kind    IssueKind
	Line    int
	NodeID  string
	Message string
}

func (i Issue) Error() string {
	switch {
	case i.Line > 0 && i.NodeID != "":
		return fmt.Sprintf("%s: line %d (%s): %s", i.Kind, i.Line, i.NodeID, i.Message)
	case i.Line > 0:
		return fmt.Sprintf("%s: line %d: %s", i.Kind, i.Line, i.Message)
	case i.NodeID != "":
		return fmt.Sprintf("%s: %s: %s", i.Kind, i.NodeID, i.Message)
	default:
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
}

type File struct {
	Path    string
	Mtime   time.Time
	Size    int64
	Lines   int
	Records []Record
	Issues  []Issue
}

func (f *File) HasParseErrors() bool {
	for _, is := range f.Issues {
		if is.Kind == IssueParse {
			return true
		}
	}
	return false
}
