package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TolerantJSON(t *testing.T) {
	data := []byte(`[
		// written by the assistant
		{"content": "a", "status": "completed", "id": "1"},
		{"content": "b", "status": "in_progress", "id": "2"},
		{"content": "c", "status": "pending", "id": "3",},
		{"content": "d"},
	]`)
	items, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, items, 4)

	s := Summarize(items)
	assert.Equal(t, Summary{Total: 4, Completed: 1, InProgress: 1, Pending: 2}, s)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"not": "a list"}`))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	global := t.TempDir()
	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "abc.json"),
		[]byte(`[{"content":"x","status":"completed"}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(global, "abc-agent-abc.json"),
		[]byte(`[{"content":"x","status":"pending"},{"content":"y","status":"pending"}]`), 0o644))

	s, err := Lookup([]string{"", global, local}, "abc")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, "abc-agent-abc.json", s.File)

	s, err = Lookup([]string{local}, "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed)

	s, err = Lookup([]string{global}, "missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLookup_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.json"), []byte(`[{`), 0o644))
	_, err := Lookup([]string{dir}, "abc")
	assert.Error(t, err)
}
