package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.pid")
	require.NoError(t, os.WriteFile(path, []byte("pid=123\ntask_id=T1-001\nnot a pair\nowner = AgentA\n"), 0o644))

	assert.Equal(t, "123", ReadField(path, "pid"))
	assert.Equal(t, "T1-001", ReadField(path, "task_id"))
	assert.Equal(t, "AgentA", ReadField(path, "owner"))
	// Absent key and absent file both read as empty, never as an error.
	assert.Equal(t, "", ReadField(path, "missing"))
	assert.Equal(t, "", ReadField(filepath.Join(dir, "nope"), "pid"))
}

func TestWriteReadRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec")

	fields := []Field{
		{"owner", "AgentA"},
		{"scope", "app-shell"},
		{"task_id", "T1-001"},
	}
	require.NoError(t, WriteRecord(path, fields))

	rec := ReadRecord(path)
	assert.Equal(t, "AgentA", rec["owner"])
	assert.Equal(t, "app-shell", rec["scope"])
	assert.Equal(t, "T1-001", rec["task_id"])

	// Key order is preserved on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "owner=AgentA\nscope=app-shell\ntask_id=T1-001\n", string(data))
}

func TestAtomicWriteCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "file")
	require.NoError(t, AtomicWrite(path, []byte("x")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
