package launcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/codex-teams/internal/engine"
	"github.com/msageha/codex-teams/internal/model"
)

func testContext(t *testing.T) model.Context {
	t.Helper()
	cfg := model.Defaults()
	return model.ResolveContext("/repo", cfg, "/repo/.state/orchestrator.toml", "/state")
}

func testTask() engine.ReadyTask {
	return engine.ReadyTask{
		TaskID:            "T1-001",
		Title:             "App shell bootstrap",
		Owner:             "AgentA",
		Scope:             "app-shell",
		Deps:              "-",
		SpecRelPath:       "tasks/specs/T1-001.md",
		GoalSummary:       "Stand up the application shell.",
		InScopeSummary:    "- Entry point.",
		AcceptanceSummary: "- Boots.",
	}
}

func TestRenderPrompt(t *testing.T) {
	ctx := testContext(t)
	prompt, err := RenderPrompt(ctx, testTask(), "/worktrees/repo-agenta-t1-001", "/usr/local/bin/codex-teams")
	require.NoError(t, err)

	assert.Contains(t, prompt, "You are AgentA")
	assert.Contains(t, prompt, "Task: T1-001 — App shell bootstrap")
	assert.Contains(t, prompt, "Worktree: /worktrees/repo-agenta-t1-001")
	assert.Contains(t, prompt, "Spec file: tasks/specs/T1-001.md")
	assert.Contains(t, prompt, "Goal: Stand up the application shell.")

	// The lifecycle contract must be spelled out.
	assert.Contains(t, prompt, "/usr/local/bin/codex-teams task complete AgentA app-shell T1-001")
	assert.Contains(t, prompt, "task update AgentA T1-001 DONE")
	assert.Contains(t, prompt, "Never call `task lock`")
	assert.Contains(t, prompt, "Never mark the task DONE without the delivered files")
}

func TestRenderPrompt_OmitsEmptySummaries(t *testing.T) {
	ctx := testContext(t)
	task := testTask()
	task.GoalSummary = ""
	task.InScopeSummary = ""
	task.AcceptanceSummary = ""

	prompt, err := RenderPrompt(ctx, task, "/wt", "/bin/codex-teams")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "Goal:")
	assert.NotContains(t, prompt, "In scope:")
}

func TestCodexArgs_ReplacesFullAuto(t *testing.T) {
	ctx := testContext(t)
	args := CodexArgs(ctx, "/wt", "do the thing")

	joined := strings.Join(args, " ")
	assert.Equal(t, "exec", args[0])
	assert.Contains(t, joined, "--dangerously-bypass-approvals-and-sandbox")
	assert.NotContains(t, joined, "--full-auto")
	assert.Contains(t, joined, "--cd /wt")
	assert.Contains(t, joined, "sandbox_workspace_write.writable_roots")
	assert.Equal(t, "do the thing", args[len(args)-1])
}

func TestCodexArgs_RespectsPinnedSandbox(t *testing.T) {
	ctx := testContext(t)
	ctx.Runtime.CodexFlags = "--full-auto --sandbox workspace-write"

	args := CodexArgs(ctx, "/wt", "p")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--full-auto")
	assert.NotContains(t, joined, "--dangerously-bypass-approvals-and-sandbox")
}

func TestResolveBackend_UnknownRejected(t *testing.T) {
	_, err := ResolveBackend("screen")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rejected:")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, `'has space'`, shellQuote("has space"))
	assert.Equal(t, `'don'\''t'`, shellQuote("don't"))
}
