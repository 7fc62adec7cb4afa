package model

import (
	"os"
	"path/filepath"
	"strings"
)

// Actor is the identity the orchestrator writes into the update log for
// its own status transitions.
const Actor = "codex-teams"

// EnvStateDir overrides the state directory for agent-side calls.
const EnvStateDir = "AI_STATE_DIR"

// EnvAllowWorktreeRun permits running the scheduler from a non-primary
// worktree when set to "1".
const EnvAllowWorktreeRun = "AI_ORCH_ALLOW_WORKTREE_RUN"

// Context is the resolved path/runtime view every command operates on.
// All paths are absolute.
type Context struct {
	RepoRoot       string
	RepoName       string
	BaseBranch     string
	TodoFile       string
	StateDir       string
	LockDir        string
	OrchDir        string
	LogsDir        string
	UpdatesFile    string
	WorktreeParent string
	ConfigPath     string

	Runtime RuntimeConfig
	Merge   MergeConfig
	Todo    TodoSchema

	// Owners maps agent name to its default scope; OwnersByKey is the
	// same table keyed by OwnerKey.
	Owners      map[string]string
	OwnersByKey map[string]string
}

// ResolveContext computes the Context for a repo root and loaded config.
// stateDirArg comes from --state-dir; the AI_STATE_DIR environment variable
// is consulted when it is empty. Paths given via flag or environment
// resolve relative to the repo root; config-sourced paths resolve relative
// to the repo that owns the config file.
func ResolveContext(repoRoot string, cfg Config, cfgPath, stateDirArg string) Context {
	configRepoRoot := repoRootFromConfigPath(cfgPath, repoRoot)

	stateSrc := stateDirArg
	stateBase := repoRoot
	if stateSrc == "" {
		stateSrc = os.Getenv(EnvStateDir)
	}
	if stateSrc == "" {
		stateSrc = cfg.Repo.StateDir
		stateBase = configRepoRoot
	}
	stateDir := toAbs(stateBase, stateSrc)

	ownersByKey := make(map[string]string, len(cfg.Owners))
	for name, scope := range cfg.Owners {
		ownersByKey[OwnerKey(name)] = scope
	}

	orchDir := filepath.Join(stateDir, "orchestrator")
	return Context{
		RepoRoot:       repoRoot,
		RepoName:       filepath.Base(repoRoot),
		BaseBranch:     cfg.Repo.BaseBranch,
		TodoFile:       toAbs(configRepoRoot, cfg.Repo.TodoFile),
		StateDir:       stateDir,
		LockDir:        filepath.Join(stateDir, "locks"),
		OrchDir:        orchDir,
		LogsDir:        filepath.Join(orchDir, "logs"),
		UpdatesFile:    filepath.Join(stateDir, "LATEST_UPDATES.md"),
		WorktreeParent: toAbs(configRepoRoot, cfg.Repo.WorktreeParent),
		ConfigPath:     cfgPath,
		Runtime:        cfg.Runtime,
		Merge:          cfg.Merge,
		Todo:           cfg.Todo,
		Owners:         cfg.Owners,
		OwnersByKey:    ownersByKey,
	}
}

// RunLockDir is the scheduler mutex directory.
func (c Context) RunLockDir() string {
	return filepath.Join(c.OrchDir, "run.lock")
}

// RegistryFile is the derived active-pid snapshot.
func (c Context) RegistryFile() string {
	return filepath.Join(c.OrchDir, "active_pids.tsv")
}

// ScopeFor returns the default scope for an owner name, or "" when the
// owner is unmapped.
func (c Context) ScopeFor(owner string) string {
	return c.OwnersByKey[OwnerKey(owner)]
}

func toAbs(base, value string) string {
	p := value
	if strings.HasPrefix(p, "~"+string(filepath.Separator)) || p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}
