// Package manifest is the per-project output: one row per session plus
// an explicit edge table, encoded canonically so unchanged input always
// produces identical bytes.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"

	"github.com/Zuo-Peng/ai-session-graph/internal/tasks"
)

const Version = 1

type Manifest struct {
	Version  int     `json:"version" yaml:"version"`
	Project  string  `json:"project" yaml:"project"`
	Sessions []Row   `json:"sessions" yaml:"sessions"`
	Chains   []Chain `json:"chains" yaml:"chains"`
	Edges    []Edge  `json:"edges" yaml:"edges"`
}

type ChainRef struct {
	ID       string `json:"id" yaml:"id"`
	Position int    `json:"position" yaml:"position"`
}

type Row struct {
	Session          string         `json:"session" yaml:"session"`
	SessionID        string         `json:"sessionId" yaml:"sessionId"`
	Path             string         `json:"path" yaml:"path"`
	Title            string         `json:"title,omitempty" yaml:"title,omitempty"`
	Type             string         `json:"type" yaml:"type"`
	Confidence       float64        `json:"confidence" yaml:"confidence"`
	DisplayByDefault bool           `json:"displayByDefault" yaml:"displayByDefault"`
	Chain            *ChainRef      `json:"chain,omitempty" yaml:"chain,omitempty"`
	Orphaned         bool           `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	ContextHistory   bool           `json:"contextHistory,omitempty" yaml:"contextHistory,omitempty"`
	SnapshotOf       string         `json:"snapshotOf,omitempty" yaml:"snapshotOf,omitempty"`
	Containment      float64        `json:"containment,omitempty" yaml:"containment,omitempty"`
	SidechainGroups  []string       `json:"sidechainGroups,omitempty" yaml:"sidechainGroups,omitempty"`
	SidechainOf      string         `json:"sidechainOf,omitempty" yaml:"sidechainOf,omitempty"`
	SDKScore         float64        `json:"sdkScore" yaml:"sdkScore"`
	HasParseErrors   bool           `json:"hasParseErrors" yaml:"hasParseErrors"`
	Errors           []string       `json:"errors" yaml:"errors"`
	NodeCount        int            `json:"nodeCount" yaml:"nodeCount"`
	RootCount        int            `json:"rootCount" yaml:"rootCount"`
	Created          string         `json:"created,omitempty" yaml:"created,omitempty"`
	Updated          string         `json:"updated,omitempty" yaml:"updated,omitempty"`
	CommandOnly      bool           `json:"commandOnly,omitempty" yaml:"commandOnly,omitempty"`
	TaskInvocations  int            `json:"taskInvocations,omitempty" yaml:"taskInvocations,omitempty"`
	SubagentTypes    []string       `json:"subagentTypes,omitempty" yaml:"subagentTypes,omitempty"`
	Tasks            *tasks.Summary `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type Chain struct {
	ID         string   `json:"id" yaml:"id"`
	Sessions   []string `json:"sessions" yaml:"sessions"`
	Orphaned   bool     `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	ForkedFrom string   `json:"forkedFrom,omitempty" yaml:"forkedFrom,omitempty"`
}

type EdgeKind string

const (
	EdgeContinuation EdgeKind = "continuation"
	EdgeSidechain    EdgeKind = "sidechain"
	EdgeCompaction   EdgeKind = "compaction"
)

// Edge is one explicit link of the graph. For continuation edges From is
// the predecessor session and To the successor; for sidechain edges From
// is the group and To the owning session; compaction edges stay inside
// one session and name the two nodes.
type Edge struct {
	Kind       EdgeKind `json:"kind" yaml:"kind"`
	From       string   `json:"from" yaml:"from"`
	To         string   `json:"to" yaml:"to"`
	Node       string   `json:"node,omitempty" yaml:"node,omitempty"`
	Target     string   `json:"target,omitempty" yaml:"target,omitempty"`
	Compaction bool     `json:"compaction,omitempty" yaml:"compaction,omitempty"`
	Unbound    bool     `json:"unbound,omitempty" yaml:"unbound,omitempty"`
	Confidence float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	AgentType   string `json:"agentType,omitempty" yaml:"agentType,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Round fixes a score to four decimals.
func Round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Timestamp formats t for a row; zero is empty.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Normalize sorts every list and fills nil slices so that the encoding
// only depends on content.
func (m *Manifest) Normalize() {
	m.Version = Version
	if m.Sessions == nil {
		m.Sessions = []Row{}
	}
	if m.Chains == nil {
		m.Chains = []Chain{}
	}
	if m.Edges == nil {
		m.Edges = []Edge{}
	}
	for i := range m.Sessions {
		r := &m.Sessions[i]
		r.Confidence = Round(r.Confidence)
		r.Containment = Round(r.Containment)
		r.SDKScore = Round(r.SDKScore)
		if r.Errors == nil {
			r.Errors = []string{}
		}
		sort.Strings(r.SidechainGroups)
		sort.Strings(r.SubagentTypes)
	}
	for i := range m.Edges {
		m.Edges[i].Confidence = Round(m.Edges[i].Confidence)
	}
	sort.Slice(m.Sessions, func(i, j int) bool { return m.Sessions[i].Session < m.Sessions[j].Session })
	sort.Slice(m.Chains, func(i, j int) bool { return m.Chains[i].Sessions[0] < m.Chains[j].Sessions[0] })
	sort.Slice(m.Edges, func(i, j int) bool {
		a, b := m.Edges[i], m.Edges[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Node < b.Node
	})
}

// Encode returns the RFC 8785 canonical JSON form of m.
func Encode(m *Manifest) ([]byte, error) {
	m.Normalize()
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return out, nil
}

// Digest is the sha256 of the canonical encoding.
func Digest(m *Manifest) (string, error) {
	b, err := Encode(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func EncodeYAML(m *Manifest) ([]byte, error) {
	m.Normalize()
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest yaml: %w", err)
	}
	return out, nil
}

// Decode reads a manifest written by Encode.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
