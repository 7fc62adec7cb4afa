package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_BootstrapsDefaults(t *testing.T) {
	repo := t.TempDir()

	cfg, cfgPath, err := LoadConfig(repo, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(repo, ".state", "orchestrator.toml"), cfgPath)
	assert.FileExists(t, cfgPath)

	assert.Equal(t, "main", cfg.Repo.BaseBranch)
	assert.Equal(t, "TODO.md", cfg.Repo.TodoFile)
	assert.Equal(t, BackendTmux, cfg.Runtime.LaunchBackend)
	assert.Equal(t, MergeRebaseThenFF, cfg.Merge.Strategy)
	assert.Equal(t, "app-shell", cfg.Owners["AgentA"])
	assert.Contains(t, cfg.Todo.DoneKeywords, "완료")

	// The <repo> placeholder is expanded with the repo name.
	assert.Equal(t, "../"+filepath.Base(repo)+"-worktrees", cfg.Repo.WorktreeParent)
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	repo := t.TempDir()
	cfgPath := filepath.Join(repo, ".state", "orchestrator.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[repo]
base_branch = "develop"

[owners]
AgentZ = "billing"

[runtime]
launch_backend = "codex_exec"
`), 0o644))

	cfg, _, err := LoadConfig(repo, "")
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.Repo.BaseBranch)
	// Unset keys keep their defaults.
	assert.Equal(t, "TODO.md", cfg.Repo.TodoFile)
	assert.Equal(t, 0, cfg.Runtime.MaxStart)
	// Owner tables merge per-key.
	assert.Equal(t, "billing", cfg.Owners["AgentZ"])
	assert.Equal(t, "app-shell", cfg.Owners["AgentA"])
	assert.Equal(t, BackendCodexExec, cfg.Runtime.LaunchBackend)
}

func TestLoadConfig_RejectsBadBackend(t *testing.T) {
	repo := t.TempDir()
	cfgPath := filepath.Join(repo, ".state", "orchestrator.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[runtime]
launch_backend = "screen"
`), 0o644))

	_, _, err := LoadConfig(repo, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch_backend")
}

func TestLoadConfig_RejectsBadColumns(t *testing.T) {
	repo := t.TempDir()
	cfgPath := filepath.Join(repo, ".state", "orchestrator.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[todo]
id_col = 0
`), 0o644))

	_, _, err := LoadConfig(repo, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_col")
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	repo := t.TempDir()
	cfgPath := filepath.Join(repo, ".state", "orchestrator.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte("not = [toml"), 0o644))

	_, _, err := LoadConfig(repo, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TOML")
}

func TestOwnerKey(t *testing.T) {
	assert.Equal(t, "agenta", OwnerKey("AgentA"))
	assert.Equal(t, "agenta", OwnerKey("agent a"))
	assert.Equal(t, "agenta", OwnerKey("Agent-A"))
	assert.Equal(t, "", OwnerKey("---"))
}

func TestResolveContext_StateDirPrecedence(t *testing.T) {
	repo := t.TempDir()
	cfg, cfgPath, err := LoadConfig(repo, "")
	require.NoError(t, err)

	ctx := ResolveContext(repo, cfg, cfgPath, "")
	assert.Equal(t, filepath.Join(repo, ".state"), ctx.StateDir)
	assert.Equal(t, filepath.Join(repo, ".state", "locks"), ctx.LockDir)
	assert.Equal(t, filepath.Join(repo, ".state", "orchestrator"), ctx.OrchDir)
	assert.Equal(t, filepath.Join(repo, ".state", "LATEST_UPDATES.md"), ctx.UpdatesFile)

	// Explicit flag wins over config.
	override := t.TempDir()
	ctx = ResolveContext(repo, cfg, cfgPath, override)
	assert.Equal(t, filepath.Clean(override), ctx.StateDir)

	// Environment is consulted when no flag is given.
	envDir := t.TempDir()
	t.Setenv(EnvStateDir, envDir)
	ctx = ResolveContext(repo, cfg, cfgPath, "")
	assert.Equal(t, filepath.Clean(envDir), ctx.StateDir)
}

func TestResolveContext_OwnerScopes(t *testing.T) {
	repo := t.TempDir()
	cfg, cfgPath, err := LoadConfig(repo, "")
	require.NoError(t, err)

	ctx := ResolveContext(repo, cfg, cfgPath, "")
	assert.Equal(t, "app-shell", ctx.ScopeFor("AgentA"))
	assert.Equal(t, "app-shell", ctx.ScopeFor("agenta"))
	assert.Equal(t, "", ctx.ScopeFor("Nobody"))
}
