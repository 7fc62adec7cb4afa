package status

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/taskspec"
)

func testContext(t *testing.T) model.Context {
	t.Helper()
	repo := t.TempDir()
	stateDir := filepath.Join(repo, ".state")
	orchDir := filepath.Join(stateDir, "orchestrator")
	cfg := model.Defaults()
	ctx := model.Context{
		RepoRoot:    repo,
		RepoName:    filepath.Base(repo),
		BaseBranch:  "main",
		TodoFile:    filepath.Join(repo, "TODO.md"),
		StateDir:    stateDir,
		LockDir:     filepath.Join(stateDir, "locks"),
		OrchDir:     orchDir,
		LogsDir:     filepath.Join(orchDir, "logs"),
		UpdatesFile: filepath.Join(stateDir, "LATEST_UPDATES.md"),
		Runtime:     cfg.Runtime,
		Merge:       cfg.Merge,
		Todo:        cfg.Todo,
		Owners:      cfg.Owners,
		OwnersByKey: map[string]string{},
	}
	for name, scope := range cfg.Owners {
		ctx.OwnersByKey[model.OwnerKey(name)] = scope
	}
	return ctx
}

func TestCollect_UnifiedSections(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T2-001 | ready | AgentA | - | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))
	_, err := taskspec.Scaffold(ctx.RepoRoot, "T2-001", "ready", false)
	require.NoError(t, err)

	payload, err := Collect(ctx, "manual", -1)
	require.NoError(t, err)

	assert.Equal(t, 1, payload.Scheduler.Summary.Ready)
	assert.Equal(t, 0, payload.Scheduler.Summary.Excluded)
	assert.Equal(t, 0, payload.Runtime.Summary.Active)
	assert.Equal(t, 0, payload.Coordination.Summary.Locks)
	assert.Equal(t, 1, payload.TaskBoard.Summary.Total)
	assert.Equal(t, 1, payload.TaskBoard.Summary.StatusCounts["TODO"])
	assert.Equal(t, "app-shell", payload.TaskBoard.Tasks[0].Scope)

	// Collection refreshes the derived registry.
	assert.FileExists(t, ctx.RegistryFile())
}

func TestCollect_CountsRuntimeAndLocks(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T2-001 | held | AgentA | - | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))
	_, err := state.AcquireLock(ctx.LockDir, state.Lock{
		Owner: "AgentA", Scope: "app-shell", TaskID: "T2-001",
	})
	require.NoError(t, err)

	payload, err := Collect(ctx, "manual", -1)
	require.NoError(t, err)

	assert.Equal(t, 1, payload.Coordination.Summary.Locks)
	assert.Equal(t, 1, payload.Runtime.Summary.Active) // LOCKED counts as active
	assert.Equal(t, 1, payload.Runtime.Summary.StateCounts[state.StateLocked])
	assert.Equal(t, 1, payload.Scheduler.Summary.Excluded)
}

func TestRenderText(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T2-001 | gated | AgentB | T9-999 | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))
	_, err := taskspec.Scaffold(ctx.RepoRoot, "T2-001", "gated", false)
	require.NoError(t, err)

	payload, err := Collect(ctx, "manual", -1)
	require.NoError(t, err)

	var buf bytes.Buffer
	RenderText(&buf, payload, "manual")
	text := buf.String()

	assert.Contains(t, text, "Repo: "+ctx.RepoRoot)
	assert.Contains(t, text, "State dir: "+ctx.StateDir)
	assert.Contains(t, text, "Trigger: manual")
	assert.Contains(t, text, "Scheduler: ready=0 excluded=1")
	assert.Contains(t, text, "[EXCLUDED] T2-001 owner=AgentB reason=deps_not_ready source=scheduler")
	assert.Contains(t, text, "Coordination: locks=0")
}

func TestRenderJSON(t *testing.T) {
	ctx := testContext(t)
	payload, err := Collect(ctx, "manual", -1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, payload))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "scheduler")
	assert.Contains(t, decoded, "runtime")
	assert.Contains(t, decoded, "coordination")
	assert.Contains(t, decoded, "task_board")
	assert.Contains(t, decoded, "updates")
}
