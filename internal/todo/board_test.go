package todo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
)

func testSchema() model.TodoSchema {
	return model.Defaults().Todo
}

func writeBoard(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "TODO.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleBoard = `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | First | AgentA | - | note | DONE |
| T1-002 | Second | AgentB | T1-001,G1 | note | TODO |
| T1-003 | Third | AgentC | G2 | note | TODO |

Gate state: ` + "`G1 (DONE)`" + `
Gate state: ` + "`G2 (PENDING)`" + `
`

func TestLoadParsesTasksAndGates(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	tasks := b.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "T1-001", tasks[0].ID)
	assert.Equal(t, "First", tasks[0].Title)
	assert.Equal(t, "AgentA", tasks[0].Owner)
	assert.Equal(t, "note", tasks[0].Notes)
	assert.Equal(t, "DONE", tasks[0].Status)
	assert.Equal(t, "T1-001,G1", tasks[1].Deps)

	gates := b.Gates()
	assert.Equal(t, "DONE", gates["G1"])
	assert.Equal(t, "PENDING", gates["G2"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "TODO.md"), testSchema())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestDepsReady(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	statusIdx := b.StatusIndex()
	gates := b.Gates()

	assert.True(t, DepsReady("T1-001,G1", statusIdx, gates))
	assert.False(t, DepsReady("G2", statusIdx, gates))
	assert.False(t, DepsReady("UNKNOWN", statusIdx, gates))
	assert.True(t, DepsReady("-", statusIdx, gates))
	assert.True(t, DepsReady("", statusIdx, gates))
	assert.False(t, DepsReady("T1-002", statusIdx, gates))
}

func TestEscapedPipeCells(t *testing.T) {
	path := writeBoard(t, `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T2-001 | Title with \| pipe | AgentA | - | note with \| pipe | TODO |
`)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	tasks := b.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "T2-001", tasks[0].ID)
	assert.Equal(t, "Title with | pipe", tasks[0].Title)
	assert.Equal(t, "note with | pipe", tasks[0].Notes)
}

func TestUpdateStatusRewritesOnlyStatusCell(t *testing.T) {
	original := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | Title with \| pipe | AgentA |  -  |   spacing preserved   | TODO |
| T1-002 | Second | AgentB | T1-001 | note | TODO |
`
	path := writeBoard(t, original)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	require.NoError(t, b.UpdateStatus("T1-001", model.StatusInProgress))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, `| T1-001 | Title with \| pipe | AgentA |  -  |   spacing preserved   | IN_PROGRESS |`)
	// The untouched row is byte-identical.
	assert.Contains(t, content, "| T1-002 | Second | AgentB | T1-001 | note | TODO |")
	assert.True(t, strings.HasSuffix(content, "\n"))
}

func TestUpdateStatusErrors(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	err = b.UpdateStatus("T9-999", model.StatusDone)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))

	err = b.UpdateStatus("T1-002", "WORKING")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Rejected))
}

func TestParseWriteRoundTrip(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	// A status rewrite to the same value must not disturb the file.
	require.NoError(t, b.UpdateStatus("T1-002", model.StatusTODO))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleBoard, string(data))
}

func TestAppendRow(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	require.NoError(t, b.AppendRow("T1-004", "Fourth", "AgentD", "T1-001", ""))

	reloaded, err := Load(path, testSchema())
	require.NoError(t, err)
	tasks := reloaded.Tasks()
	require.Len(t, tasks, 4)
	last := tasks[3]
	assert.Equal(t, "T1-004", last.ID)
	assert.Equal(t, "Fourth", last.Title)
	assert.Equal(t, "AgentD", last.Owner)
	assert.Equal(t, "T1-001", last.Deps)
	assert.Equal(t, model.StatusTODO, last.Status)

	// The gate lines after the table are still there.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Gate state: `G1 (DONE)`")
}

func TestAppendRowValidation(t *testing.T) {
	path := writeBoard(t, sampleBoard)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	err = b.AppendRow("T1-001", "Duplicate", "AgentA", "-", "")
	assert.True(t, errs.Is(err, errs.Rejected))

	err = b.AppendRow("T1|004", "Piped", "AgentA", "-", "")
	assert.True(t, errs.Is(err, errs.Rejected))

	err = b.AppendRow("nope", "Bad id", "AgentA", "-", "")
	assert.True(t, errs.Is(err, errs.Rejected))

	err = b.AppendRow("T1-005", "Ghost dep", "AgentA", "T8-888", "")
	assert.True(t, errs.Is(err, errs.Rejected))
}

func TestAppendRowRejectsCycles(t *testing.T) {
	// The existing rows already form a cycle; any append must flag it
	// instead of silently extending an unschedulable graph.
	path := writeBoard(t, `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | First | AgentA | T1-002 | - | TODO |
| T1-002 | Second | AgentB | T1-001 | - | TODO |
`)
	b, err := Load(path, testSchema())
	require.NoError(t, err)

	err = b.AppendRow("T1-003", "Third", "AgentC", "T1-001", "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Rejected))
	assert.Contains(t, err.Error(), "cycle")
}

func TestEnsureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TODO.md")
	require.NoError(t, EnsureFile(path))

	b, err := Load(path, testSchema())
	require.NoError(t, err)
	assert.Empty(t, b.Tasks())

	// Existing files are left alone.
	require.NoError(t, os.WriteFile(path, []byte(sampleBoard), 0o644))
	require.NoError(t, EnsureFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleBoard, string(data))
}
