package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadUpdates(t *testing.T) {
	file := filepath.Join(t.TempDir(), "LATEST_UPDATES.md")

	require.NoError(t, AppendUpdate(file, "codex-teams", "T1-001", "IN_PROGRESS", "started via manual"))
	require.NoError(t, AppendUpdate(file, "AgentA", "T1-001", "DONE", "delivered the shell"))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "# Latest Updates"))
	assert.Contains(t, content, "| Timestamp (UTC) | Agent | Task | Status | Summary |")

	entries := ReadUpdates(file, 0)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "DONE", entries[0].Status)
	assert.Equal(t, "AgentA", entries[0].Agent)
	assert.Equal(t, "IN_PROGRESS", entries[1].Status)
	assert.Equal(t, "codex-teams", entries[1].Agent)
}

func TestAppendUpdate_EscapesPipes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "LATEST_UPDATES.md")
	require.NoError(t, AppendUpdate(file, "AgentA", "T1-001", "DONE", "tuned a | b parser"))

	entries := ReadUpdates(file, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "tuned a | b parser", entries[0].Summary)
}

func TestReadUpdates_Limit(t *testing.T) {
	file := filepath.Join(t.TempDir(), "LATEST_UPDATES.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, AppendUpdate(file, "AgentA", "T1-001", "BLOCKED", "try"))
	}
	assert.Len(t, ReadUpdates(file, 3), 3)
	assert.Len(t, ReadUpdates(file, 0), 5)
}

func TestReadUpdates_MissingFile(t *testing.T) {
	assert.Empty(t, ReadUpdates(filepath.Join(t.TempDir(), "nope.md"), 0))
}
