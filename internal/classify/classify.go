// Package classify assigns every session exactly one type from the
// outputs of the graph, link, sidechain and snapshot passes.
package classify

import (
	"time"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/link"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/sidechain"
	"github.com/Zuo-Peng/ai-session-graph/internal/snapshot"
)

type Type string

const (
	Snapshot                   Type = "snapshot"
	CompletionMarker           Type = "completion_marker"
	Sidechain                  Type = "sidechain"
	PostCompactionContinuation Type = "post_compaction_continuation"
	Continuation               Type = "continuation"
	MultiAgentWorkflow         Type = "multi_agent_workflow"
	SDKGenerated               Type = "sdk_generated"
	Original                   Type = "original"
	Unknown                    Type = "unknown"
)

// Types lists every type in precedence order, Unknown last.
var Types = []Type{
	Snapshot, CompletionMarker, Sidechain, PostCompactionContinuation,
	Continuation, MultiAgentWorkflow, SDKGenerated, Original, Unknown,
}

type Config struct {
	MultiAgentThreshold int
	SDK                 SDKConfig
}

func DefaultConfig() Config {
	return Config{
		MultiAgentThreshold: 5,
		SDK: SDKConfig{
			Patterns:          DefaultSDKPatterns,
			SecondaryPatterns: DefaultSDKSecondaryPatterns,
			PatternWeight:     0.4,
			ShortWeight:       0.3,
			SiblingWeight:     0.3,
			Threshold:         0.75,
			MaxNodes:          4,
			SiblingWindow:     5 * time.Minute,
		},
	}
}

// Input gathers everything known about one session after phase 2.
type Input struct {
	Session      *graph.Session
	Link         *link.Link        // nil when no continuation is declared
	HasSuccessor bool              // some chain continues after this session
	Snapshot     *snapshot.Verdict // nil unless flagged
	Owned        []*sidechain.Group

	// SidechainConfidence grades a session made only of parallel-thread
	// nodes; see sidechain.Result.Confidence.
	SidechainConfidence float64
	SDK                 SDKSignals
}

type Result struct {
	Type             Type
	Confidence       float64
	DisplayByDefault bool
}

type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify applies the rules in precedence order; the first match wins.
func (c *Classifier) Classify(in Input) Result {
	s := in.Session
	switch {
	case s == nil || len(s.Nodes) == 0:
		return Result{Type: Unknown}

	case in.Snapshot != nil:
		return Result{Type: Snapshot, Confidence: in.Snapshot.Containment}

	case isCompletionMarker(s, in.HasSuccessor):
		return Result{Type: CompletionMarker, Confidence: 1}

	case s.AllParallel():
		return Result{Type: Sidechain, Confidence: in.SidechainConfidence, DisplayByDefault: true}

	case in.Link != nil && in.Link.Predecessor != "" && in.Link.Compaction:
		return Result{Type: PostCompactionContinuation, Confidence: in.Link.Confidence, DisplayByDefault: true}

	case in.Link != nil:
		return Result{Type: Continuation, Confidence: in.Link.Confidence, DisplayByDefault: true}

	case c.cfg.MultiAgentThreshold > 0 && len(in.Owned) >= c.cfg.MultiAgentThreshold:
		return Result{Type: MultiAgentWorkflow, Confidence: 1, DisplayByDefault: true}

	case in.SDK.Score >= c.cfg.SDK.Threshold:
		return Result{Type: SDKGenerated, Confidence: in.SDK.Score, DisplayByDefault: true}
	}
	return Result{Type: Original, Confidence: 1 - in.SDK.Score, DisplayByDefault: true}
}

func isCompletionMarker(s *graph.Session, hasSuccessor bool) bool {
	if len(s.Nodes) != 1 || hasSuccessor {
		return false
	}
	n := s.Nodes[0]
	return n.Kind == parse.KindTerminalSummary && len(n.Children) == 0
}
