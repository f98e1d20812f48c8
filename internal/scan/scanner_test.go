package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestScanProjects(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "-home-app", "s1.jsonl"))
	touch(t, filepath.Join(root, "-home-app", "agent-a1.jsonl"))
	touch(t, filepath.Join(root, "-home-app", "s1", "subagents", "agent-b2.jsonl"))
	touch(t, filepath.Join(root, "-home-app", "sessions-index.jsonl"))
	touch(t, filepath.Join(root, "-home-app", "notes.txt"))
	touch(t, filepath.Join(root, "-home-app", "s1", "tool-results", "x.jsonl"))
	touch(t, filepath.Join(root, "-home-lib", "s9.jsonl"))
	touch(t, filepath.Join(root, "stray.jsonl"))

	projects, err := ScanProjects(root)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	app := projects[0]
	assert.Equal(t, "-home-app", app.Name)
	require.NoError(t, app.Err)
	var rels, keys []string
	for _, f := range app.Files {
		rels = append(rels, f.Rel)
		keys = append(keys, f.Key())
	}
	assert.Equal(t, []string{"agent-a1.jsonl", "s1.jsonl", "s1/subagents/agent-b2.jsonl"}, rels)
	assert.Equal(t, "-home-app/s1/subagents/agent-b2", keys[2])
	assert.NotZero(t, app.Files[0].Size)

	assert.Equal(t, "-home-lib", projects[1].Name)
	assert.Len(t, projects[1].Files, 1)
}

func TestScanProjects_Named(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "s.jsonl"))
	touch(t, filepath.Join(root, "b", "s.jsonl"))

	projects, err := ScanProjects(root, "b", "missing")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "b", projects[0].Name)
	assert.NoError(t, projects[0].Err)
	assert.Equal(t, "missing", projects[1].Name)
	assert.Error(t, projects[1].Err)
}

func TestScanProjects_MissingRoot(t *testing.T) {
	_, err := ScanProjects(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
