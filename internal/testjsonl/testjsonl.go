// Package testjsonl builds Claude Code style session lines for tests.
package testjsonl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Base is the reference instant fixtures are laid out from.
var Base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// At returns Base plus the given number of seconds, RFC3339 formatted.
func At(sec int) string {
	return Base.Add(time.Duration(sec) * time.Second).Format(time.RFC3339Nano)
}

// Line is one record under construction.
type Line map[string]any

func (l Line) String() string {
	b, err := json.Marshal(map[string]any(l))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (l Line) With(key string, v any) Line {
	l[key] = v
	return l
}

// Sidechain marks the record as belonging to a parallel thread.
func (l Line) Sidechain() Line { return l.With("isSidechain", true) }

func base(typ, uuid, parent, session, ts string) Line {
	l := Line{"type": typ, "sessionId": session}
	if uuid != "" {
		l["uuid"] = uuid
	}
	if parent != "" {
		l["parentUuid"] = parent
	} else {
		l["parentUuid"] = nil
	}
	if ts != "" {
		l["timestamp"] = ts
	}
	return l
}

func User(uuid, parent, session, ts, text string) Line {
	return base("user", uuid, parent, session, ts).
		With("message", map[string]any{"role": "user", "content": text})
}

func Assistant(uuid, parent, session, ts, text string) Line {
	return base("assistant", uuid, parent, session, ts).
		With("message", map[string]any{
			"role":    "assistant",
			"content": []any{map[string]any{"type": "text", "text": text}},
		})
}

// Task is an assistant turn invoking the Task tool once per toolID.
func Task(uuid, parent, session, ts string, toolIDs ...string) Line {
	var blocks []any
	for _, id := range toolIDs {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  "Task",
			"input": map[string]any{"subagent_type": "general-purpose", "description": "delegated"},
		})
	}
	return base("assistant", uuid, parent, session, ts).
		With("message", map[string]any{"role": "assistant", "content": blocks})
}

// Agent sets the subagent type and description of every invocation in a
// Task line.
func (l Line) Agent(agentType, description string) Line {
	msg, _ := l["message"].(map[string]any)
	blocks, _ := msg["content"].([]any)
	for _, b := range blocks {
		if block, ok := b.(map[string]any); ok && block["type"] == "tool_use" {
			block["input"] = map[string]any{"subagent_type": agentType, "description": description}
		}
	}
	return l
}

// FileHistorySnapshot is the id-less bookkeeping record Claude Code
// interleaves with conversation lines.
func FileHistorySnapshot(messageID string) Line {
	return Line{
		"type":      "file-history-snapshot",
		"messageId": messageID,
		"snapshot": map[string]any{
			"messageId":          messageID,
			"trackedFileBackups": map[string]any{},
			"timestamp":          At(0),
		},
		"isSnapshotUpdate": false,
	}
}

// TaskResult answers a Task invocation.
func TaskResult(uuid, parent, session, ts, toolID string) Line {
	return base("user", uuid, parent, session, ts).
		With("message", map[string]any{
			"role": "user",
			"content": []any{map[string]any{
				"type": "tool_result", "tool_use_id": toolID, "content": "done",
			}},
		})
}

func Summary(text, leaf string) Line {
	l := Line{"type": "summary", "summary": text}
	if leaf != "" {
		l["leafUuid"] = leaf
	}
	return l
}

// CompactBoundary is the system record written when context is compacted.
func CompactBoundary(uuid, logicalParent, session, ts string) Line {
	l := base("system", uuid, "", session, ts).
		With("subtype", "compact_boundary").
		With("content", "Conversation compacted")
	if logicalParent != "" {
		l["logicalParentUuid"] = logicalParent
	}
	return l
}

// Join renders lines as file content.
func Join(lines ...Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteFile writes lines into dir/name, creating parent directories.
func WriteFile(t testing.TB, dir, name string, lines ...Line) string {
	t.Helper()
	return WriteRaw(t, dir, name, Join(lines...))
}

func WriteRaw(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
