package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/codex-teams/internal/engine"
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

func writeSpecFor(t *testing.T, repo, taskID string) {
	t.Helper()
	_, err := taskspec.Scaffold(repo, taskID, taskID+" title", false)
	require.NoError(t, err)
}

func TestSnapshot_BootstrapsBoardAndEvaluates(t *testing.T) {
	ctx := testContext(t)

	snap, err := Snapshot(ctx, "manual", -1)
	require.NoError(t, err)
	assert.FileExists(t, ctx.TodoFile)
	assert.Empty(t, snap.Ready)
	assert.Empty(t, snap.Excluded)
	assert.Equal(t, "manual", snap.Trigger)
}

func TestSnapshot_DependencyGating(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | App shell bootstrap | AgentA | - | seed | TODO |
| T1-002 | Domain core | AgentB | T1-001 | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))
	writeSpecFor(t, ctx.RepoRoot, "T1-001")
	writeSpecFor(t, ctx.RepoRoot, "T1-002")

	snap, err := Snapshot(ctx, "manual", -1)
	require.NoError(t, err)

	require.Len(t, snap.Ready, 1)
	assert.Equal(t, "T1-001", snap.Ready[0].TaskID)
	assert.Equal(t, "app-shell", snap.Ready[0].Scope)
	assert.NotEmpty(t, snap.Ready[0].GoalSummary)

	require.Len(t, snap.Excluded, 1)
	assert.Equal(t, "T1-002", snap.Excluded[0].TaskID)
	assert.Equal(t, engine.ReasonDepsNotReady, snap.Excluded[0].Reason)
}

func TestSnapshot_MissingSpecExcludes(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | No spec yet | AgentA | - | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))

	snap, err := Snapshot(ctx, "manual", -1)
	require.NoError(t, err)
	assert.Empty(t, snap.Ready)
	require.Len(t, snap.Excluded, 1)
	assert.Equal(t, engine.ReasonMissingTaskSpec, snap.Excluded[0].Reason)
}

func TestSnapshot_RuntimeSignalsExclude(t *testing.T) {
	ctx := testContext(t)
	board := `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
| T1-001 | Locked task | AgentA | - | - | TODO |
`
	require.NoError(t, os.WriteFile(ctx.TodoFile, []byte(board), 0o644))
	writeSpecFor(t, ctx.RepoRoot, "T1-001")

	_, err := state.AcquireLock(ctx.LockDir, state.Lock{
		Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001",
	})
	require.NoError(t, err)

	snap, err := Snapshot(ctx, "manual", -1)
	require.NoError(t, err)
	assert.Empty(t, snap.Ready)
	require.Len(t, snap.Excluded, 1)
	assert.Equal(t, engine.ReasonActiveLock, snap.Excluded[0].Reason)
	require.Len(t, snap.RunningLocks, 1)
	assert.Equal(t, "app-shell", snap.RunningLocks[0].Scope)
}
