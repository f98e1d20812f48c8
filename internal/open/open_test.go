package open

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
)

func TestEditorCommand(t *testing.T) {
	tests := []struct {
		editor string
		want   []string
	}{
		{"nvim", []string{"nvim", "+12", "/x.jsonl"}},
		{"code", []string{"code", "--goto", "/x.jsonl:12"}},
		{"less", []string{"less", "+12", "/x.jsonl"}},
		{"nano", []string{"nano", "/x.jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.editor, func(t *testing.T) {
			assert.Equal(t, tt.want, editorCommand(tt.editor, "/x.jsonl", 12).Args)
		})
	}
}

func TestOpenSession_Errors(t *testing.T) {
	db, err := index.OpenDB(filepath.Join(t.TempDir(), "ais.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.ErrorContains(t, OpenSession(db, "proj/none", 1), "session not found")

	m := &manifest.Manifest{Project: "proj", Sessions: []manifest.Row{{Session: "proj/a", Type: "original"}}}
	require.NoError(t, db.SaveManifest(m, map[string]string{"proj/a": "/does/not/exist.jsonl"}))
	assert.ErrorContains(t, OpenSession(db, "proj/a", 1), "file not found")
}

func TestResumeCommand(t *testing.T) {
	assert.Equal(t, "claude --resume abc", ResumeCommand("abc"))
}
