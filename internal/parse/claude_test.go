package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tj "github.com/Zuo-Peng/ai-session-graph/internal/testjsonl"
)

func TestParseLine_Kinds(t *testing.T) {
	tests := []struct {
		name string
		line tj.Line
		want Kind
	}{
		{"user turn", tj.User("u1", "", "s", tj.At(0), "hello"), KindTurn},
		{"assistant turn", tj.Assistant("a1", "u1", "s", tj.At(1), "hi"), KindTurn},
		{"delegation", tj.Task("a2", "a1", "s", tj.At(2), "toolu_1"), KindDelegation},
		{"summary", tj.Summary("Fixing tests", "x"), KindTerminalSummary},
		{"system", tj.CompactBoundary("c1", "a1", "s", tj.At(3)), KindMeta},
		{"unknown type", tj.Line{"type": "file-history-snapshot", "messageId": "m"}, KindMeta},
		{"meta user", tj.User("u2", "", "s", tj.At(4), "caveat").With("isMeta", true), KindMeta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, issue := ParseLine([]byte(tt.line.String()), 1)
			require.Nil(t, issue)
			assert.Equal(t, tt.want, rec.Kind)
		})
	}
}

func TestParseLine_Fields(t *testing.T) {
	line := tj.User("u1", "p1", "sess-1", tj.At(10), "do the thing").Sidechain()
	rec, issue := ParseLine([]byte(line.String()), 7)
	require.Nil(t, issue)

	assert.Equal(t, "u1", rec.ID)
	assert.Equal(t, "p1", rec.ParentID)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.True(t, rec.IsParallelThread)
	assert.Equal(t, "do the thing", rec.Payload)
	assert.Equal(t, 7, rec.Line)
	assert.True(t, rec.Timestamp.Equal(tj.Base.Add(10e9)))
}

func TestParseLine_NullParentIsEmpty(t *testing.T) {
	rec, issue := ParseLine([]byte(`{"type":"user","uuid":"a","parentUuid":null,"message":{"content":"x"}}`), 1)
	require.Nil(t, issue)
	assert.Empty(t, rec.ParentID)
	assert.True(t, rec.Timestamp.IsZero())
}

func TestParseLine_CompactionSubtypes(t *testing.T) {
	rec, _ := ParseLine([]byte(tj.CompactBoundary("c1", "a9", "s", tj.At(0)).String()), 1)
	assert.Equal(t, SubtypeCompactionBoundary, rec.Subtype)
	assert.Equal(t, "a9", rec.LogicalParentID)

	line := tj.User("u1", "c1", "s", tj.At(1), "This session is being continued").With("isCompactSummary", true)
	rec, _ = ParseLine([]byte(line.String()), 2)
	assert.Equal(t, SubtypeCompactSummary, rec.Subtype)
}

func TestParseLine_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated":  []byte(`{"type":"user","uuid":"a"`),
		"not object": []byte(`[1,2,3]`),
		"bad utf8":   {'{', '"', 0xff, 0xfe, '"', ':', '1', '}'},
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, issue := ParseLine(line, 3)
			require.NotNil(t, issue)
			assert.Equal(t, IssueParse, issue.Kind)
			assert.Equal(t, 3, issue.Line)
		})
	}
}

func TestParseReader_ContinuesPastBadLines(t *testing.T) {
	content := tj.Join(tj.User("u1", "", "s", tj.At(0), "one")) +
		"{not json\n" +
		"\n" +
		tj.Join(tj.Assistant("a1", "u1", "s", tj.At(1), "two"))

	f := ParseReader(strings.NewReader(content), Options{})
	require.Len(t, f.Records, 2)
	require.Len(t, f.Issues, 1)
	assert.Equal(t, 2, f.Issues[0].Line)
	assert.True(t, f.HasParseErrors())
	assert.Equal(t, 4, f.Records[1].Line)
	assert.Equal(t, 4, f.Lines)
}

func TestParseReader_DelegationResult(t *testing.T) {
	content := tj.Join(
		tj.Task("a1", "", "s", tj.At(0), "toolu_1").Agent("test-runner", "Run the suite"),
		tj.TaskResult("u1", "a1", "s", tj.At(5), "toolu_1"),
		tj.TaskResult("u2", "u1", "s", tj.At(6), "toolu_other"),
	)
	f := ParseReader(strings.NewReader(content), Options{})
	require.Len(t, f.Records, 3)
	assert.Equal(t, KindDelegation, f.Records[0].Kind)
	assert.Equal(t, []Invocation{{ID: "toolu_1", AgentType: "test-runner", Description: "Run the suite"}},
		f.Records[0].Delegations)
	assert.Equal(t, KindDelegationResult, f.Records[1].Kind)
	assert.Equal(t, KindTurn, f.Records[2].Kind)
}

func TestParseReader_CustomDelegationTools(t *testing.T) {
	line := tj.Task("a1", "", "s", tj.At(0), "toolu_1")
	f := ParseReader(strings.NewReader(tj.Join(line)), Options{DelegationTools: []string{"Spawn"}})
	require.Len(t, f.Records, 1)
	assert.Equal(t, KindTurn, f.Records[0].Kind)
}

func TestParseReader_NothingParseable(t *testing.T) {
	for name, content := range map[string]string{
		"empty":  "",
		"blank":  "\n  \n\t\n",
		"broken": "{\"type\":\n",
	} {
		t.Run(name, func(t *testing.T) {
			f := ParseReader(strings.NewReader(content), Options{})
			assert.Empty(t, f.Records)
			require.Len(t, f.Issues, 1)
			assert.True(t, f.HasParseErrors())
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	f := ParseFile("/nonexistent/session.jsonl", Options{})
	assert.Empty(t, f.Records)
	assert.True(t, f.HasParseErrors())
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", maxTextSize-1) + "é"
	got := truncate(s)
	assert.Len(t, got, maxTextSize-1)
}
