package classify

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

var (
	DefaultSDKPatterns = []string{
		"analyze this article and extract structured knowledge",
		"analyze this document and extract structured knowledge",
	}
	DefaultSDKSecondaryPatterns = []string{
		"return only valid json",
		"extract structured knowledge",
		"respond only with json",
	}
)

type SDKConfig struct {
	Patterns          []string
	SecondaryPatterns []string
	PatternWeight     float64
	ShortWeight       float64
	SiblingWeight     float64
	Threshold         float64
	MaxNodes          int
	SiblingWindow     time.Duration
}

// SDKSignals is what the scorer knows about one session. It is computed
// for the whole unit up front because the sibling signal needs every
// session's opening fingerprint.
type SDKSignals struct {
	Fingerprint string
	Pattern     float64
	Short       float64
	Siblings    float64
	Score       float64
}

var (
	redactionRe = regexp.MustCompile(`\[REDACTED[^\]]*\]`)
	digitsRe    = regexp.MustCompile(`[0-9]+`)
)

const fingerprintRunes = 160

// normalize reduces an opening payload to the part that survives
// redaction and per-run variation.
func normalize(s string) string {
	s = redactionRe.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	s = digitsRe.ReplaceAllString(s, "#")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > fingerprintRunes {
		s = string(r[:fingerprintRunes])
	}
	return s
}

func fingerprint(opening string) string {
	n := normalize(opening)
	if n == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(n))
	return hex.EncodeToString(sum[:])
}

// opening is the first main-thread user turn, or the leading node when
// there is none.
func opening(s *graph.Session) string {
	for _, n := range s.Nodes {
		if n.Role == "user" && !n.IsParallelThread && n.Kind != parse.KindMeta && n.Payload != "" {
			return n.Payload
		}
	}
	if lead := s.Leading(); lead != nil {
		return lead.Payload
	}
	return ""
}

func (c SDKConfig) pattern(open string) float64 {
	n := normalize(open)
	for _, p := range c.Patterns {
		if p != "" && strings.Contains(n, normalize(p)) {
			return 1
		}
	}
	for _, p := range c.SecondaryPatterns {
		if p != "" && strings.Contains(n, normalize(p)) {
			return 0.5
		}
	}
	return 0
}

// short is 1 up to MaxNodes and falls linearly to 0 at twice that.
func (c SDKConfig) short(nodes int) float64 {
	limit := c.MaxNodes
	if limit <= 0 {
		return 0
	}
	switch {
	case nodes <= limit:
		return 1
	case nodes >= 2*limit:
		return 0
	}
	return float64(2*limit-nodes) / float64(limit)
}

// PrepareSDK scores every session of ix.
func PrepareSDK(ix *graph.Index, c SDKConfig) map[string]SDKSignals {
	out := make(map[string]SDKSignals, len(ix.Sessions))
	byPrint := make(map[string][]*graph.Session)
	for _, s := range ix.Sessions {
		if len(s.Nodes) == 0 || s.AllParallel() {
			continue
		}
		open := opening(s)
		sig := SDKSignals{
			Fingerprint: fingerprint(open),
			Pattern:     c.pattern(open),
			Short:       c.short(len(s.Nodes)),
		}
		out[s.Key] = sig
		if sig.Fingerprint != "" {
			byPrint[sig.Fingerprint] = append(byPrint[sig.Fingerprint], s)
		}
	}

	for _, s := range ix.Sessions {
		sig, ok := out[s.Key]
		if !ok {
			continue
		}
		for _, o := range byPrint[sig.Fingerprint] {
			if o == s || o.Created.IsZero() || s.Created.IsZero() {
				continue
			}
			d := o.Created.Sub(s.Created)
			if d < 0 {
				d = -d
			}
			if d <= c.SiblingWindow {
				sig.Siblings = 1
				break
			}
		}
		sig.Score = c.PatternWeight*sig.Pattern + c.ShortWeight*sig.Short + c.SiblingWeight*sig.Siblings
		out[s.Key] = sig
	}
	return out
}
