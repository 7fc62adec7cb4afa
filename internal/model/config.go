// Package model holds the configuration schema, resolved path context, and
// the small value types (statuses, task ids, slugs) shared by every
// component.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/msageha/codex-teams/internal/errs"
)

// Config mirrors orchestrator.toml. Missing keys fall back to Defaults, and
// [owners] entries from the file are merged over the default table rather
// than replacing it.
type Config struct {
	Repo    RepoConfig        `toml:"repo"`
	Owners  map[string]string `toml:"owners"`
	Runtime RuntimeConfig     `toml:"runtime"`
	Merge   MergeConfig       `toml:"merge"`
	Todo    TodoSchema        `toml:"todo"`
}

type RepoConfig struct {
	BaseBranch     string `toml:"base_branch"`
	TodoFile       string `toml:"todo_file"`
	StateDir       string `toml:"state_dir"`
	WorktreeParent string `toml:"worktree_parent"`
}

type RuntimeConfig struct {
	MaxStart      int    `toml:"max_start"`
	LaunchBackend string `toml:"launch_backend"`
	AutoNoLaunch  bool   `toml:"auto_no_launch"`
	CodexFlags    string `toml:"codex_flags"`
}

type MergeConfig struct {
	Strategy string `toml:"strategy"`
}

// TodoSchema captures the board's column layout. Column numbers are
// 1-based and count the empty field before the leading pipe, matching the
// historical split("|") indexing.
type TodoSchema struct {
	IDCol        int      `toml:"id_col"`
	TitleCol     int      `toml:"title_col"`
	OwnerCol     int      `toml:"owner_col"`
	DepsCol      int      `toml:"deps_col"`
	NotesCol     int      `toml:"notes_col"`
	StatusCol    int      `toml:"status_col"`
	GateRegex    string   `toml:"gate_regex"`
	DoneKeywords []string `toml:"done_keywords"`
}

const (
	BackendTmux      = "tmux"
	BackendCodexExec = "codex_exec"
	BackendAuto      = "auto"

	MergeFFOnly       = "ff-only"
	MergeRebaseThenFF = "rebase-then-ff"
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Repo: RepoConfig{
			BaseBranch:     "main",
			TodoFile:       "TODO.md",
			StateDir:       ".state",
			WorktreeParent: "../<repo>-worktrees",
		},
		Owners: map[string]string{
			"AgentA": "app-shell",
			"AgentB": "domain-core",
			"AgentC": "provider-openai",
			"AgentD": "ui-popover",
			"AgentE": "ci-release",
		},
		Runtime: RuntimeConfig{
			MaxStart:      0,
			LaunchBackend: BackendTmux,
			AutoNoLaunch:  false,
			CodexFlags:    `--full-auto -m gpt-5.3-codex -c model_reasoning_effort="medium"`,
		},
		Merge: MergeConfig{
			Strategy: MergeRebaseThenFF,
		},
		Todo: TodoSchema{
			IDCol:        2,
			TitleCol:     3,
			OwnerCol:     4,
			DepsCol:      5,
			NotesCol:     6,
			StatusCol:    7,
			GateRegex:    "`(G[0-9]+ \\([^)]+\\))`",
			DoneKeywords: []string{"DONE", "완료", "Complete", "complete"},
		},
	}
}

// OwnerKey folds an owner name to its identity: lowercase alphanumerics
// only. "Agent A" and "agenta" collide on purpose.
func OwnerKey(owner string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(owner) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoadConfig reads and validates orchestrator.toml, bootstrapping it from
// the defaults when missing. configPath of "" resolves to
// <repo>/.state/orchestrator.toml.
func LoadConfig(repoRoot, configPath string) (Config, string, error) {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(repoRoot, ".state", "orchestrator.toml")
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoRoot, cfgPath)
	}

	if err := BootstrapConfig(cfgPath); err != nil {
		return Config{}, "", err
	}

	cfg := Defaults()
	var fileCfg Config
	md, err := toml.DecodeFile(cfgPath, &fileCfg)
	if err != nil {
		return Config{}, "", fmt.Errorf("invalid TOML in %s: %w", cfgPath, err)
	}
	mergeConfig(&cfg, fileCfg, md)

	cfg.Runtime.LaunchBackend = strings.ToLower(strings.TrimSpace(cfg.Runtime.LaunchBackend))

	if err := validateConfig(cfg); err != nil {
		return Config{}, "", err
	}

	configRepoRoot := repoRootFromConfigPath(cfgPath, repoRoot)
	cfg.Repo.WorktreeParent = strings.ReplaceAll(cfg.Repo.WorktreeParent, "<repo>", filepath.Base(configRepoRoot))

	return cfg, cfgPath, nil
}

// mergeConfig overlays the keys actually present in the file onto the
// defaults. Owner entries merge per-key.
func mergeConfig(dst *Config, src Config, md toml.MetaData) {
	set := func(keys ...string) bool { return md.IsDefined(keys...) }

	if set("repo", "base_branch") {
		dst.Repo.BaseBranch = src.Repo.BaseBranch
	}
	if set("repo", "todo_file") {
		dst.Repo.TodoFile = src.Repo.TodoFile
	}
	if set("repo", "state_dir") {
		dst.Repo.StateDir = src.Repo.StateDir
	}
	if set("repo", "worktree_parent") {
		dst.Repo.WorktreeParent = src.Repo.WorktreeParent
	}
	if set("owners") {
		for k, v := range src.Owners {
			dst.Owners[k] = v
		}
	}
	if set("runtime", "max_start") {
		dst.Runtime.MaxStart = src.Runtime.MaxStart
	}
	if set("runtime", "launch_backend") {
		dst.Runtime.LaunchBackend = src.Runtime.LaunchBackend
	}
	if set("runtime", "auto_no_launch") {
		dst.Runtime.AutoNoLaunch = src.Runtime.AutoNoLaunch
	}
	if set("runtime", "codex_flags") {
		dst.Runtime.CodexFlags = src.Runtime.CodexFlags
	}
	if set("merge", "strategy") {
		dst.Merge.Strategy = src.Merge.Strategy
	}
	if set("todo", "id_col") {
		dst.Todo.IDCol = src.Todo.IDCol
	}
	if set("todo", "title_col") {
		dst.Todo.TitleCol = src.Todo.TitleCol
	}
	if set("todo", "owner_col") {
		dst.Todo.OwnerCol = src.Todo.OwnerCol
	}
	if set("todo", "deps_col") {
		dst.Todo.DepsCol = src.Todo.DepsCol
	}
	if set("todo", "notes_col") {
		dst.Todo.NotesCol = src.Todo.NotesCol
	}
	if set("todo", "status_col") {
		dst.Todo.StatusCol = src.Todo.StatusCol
	}
	if set("todo", "gate_regex") {
		dst.Todo.GateRegex = src.Todo.GateRegex
	}
	if set("todo", "done_keywords") {
		dst.Todo.DoneKeywords = src.Todo.DoneKeywords
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Owners) == 0 {
		return errs.New(errs.Rejected, "[owners] must be a non-empty table")
	}
	cols := []struct {
		name string
		v    int
	}{
		{"todo.id_col", cfg.Todo.IDCol},
		{"todo.title_col", cfg.Todo.TitleCol},
		{"todo.owner_col", cfg.Todo.OwnerCol},
		{"todo.deps_col", cfg.Todo.DepsCol},
		{"todo.notes_col", cfg.Todo.NotesCol},
		{"todo.status_col", cfg.Todo.StatusCol},
	}
	for _, c := range cols {
		if c.v < 1 {
			return errs.New(errs.Rejected, "%s must be an integer >= 1", c.name)
		}
	}
	if len(cfg.Todo.DoneKeywords) == 0 {
		return errs.New(errs.Rejected, "todo.done_keywords must be a non-empty list")
	}
	switch cfg.Runtime.LaunchBackend {
	case BackendAuto, BackendTmux, BackendCodexExec:
	default:
		return errs.New(errs.Rejected, "runtime.launch_backend must be one of: auto, tmux, codex_exec")
	}
	switch cfg.Merge.Strategy {
	case MergeFFOnly, MergeRebaseThenFF:
	default:
		return errs.New(errs.Rejected, "merge.strategy must be one of: ff-only, rebase-then-ff")
	}
	return nil
}

// repoRootFromConfigPath resolves relative repo paths from the repo that
// owns the config when it lives at <repo>/.state/orchestrator.toml.
func repoRootFromConfigPath(cfgPath, fallback string) string {
	parent := filepath.Dir(cfgPath)
	if filepath.Base(parent) == ".state" {
		return filepath.Dir(parent)
	}
	return fallback
}

// BootstrapConfig writes the default orchestrator.toml when none exists.
func BootstrapConfig(cfgPath string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	d := Defaults()
	repoName := filepath.Base(filepath.Dir(cfgPath))
	if filepath.Base(filepath.Dir(cfgPath)) == ".state" {
		repoName = filepath.Base(filepath.Dir(filepath.Dir(cfgPath)))
	}
	worktreeParent := strings.ReplaceAll(d.Repo.WorktreeParent, "<repo>", repoName)

	var b strings.Builder
	fmt.Fprintf(&b, "[repo]\n")
	fmt.Fprintf(&b, "base_branch = %q\n", d.Repo.BaseBranch)
	fmt.Fprintf(&b, "todo_file = %q\n", d.Repo.TodoFile)
	fmt.Fprintf(&b, "state_dir = %q\n", d.Repo.StateDir)
	fmt.Fprintf(&b, "worktree_parent = %q\n\n", worktreeParent)

	fmt.Fprintf(&b, "[owners]\n")
	for _, name := range []string{"AgentA", "AgentB", "AgentC", "AgentD", "AgentE"} {
		fmt.Fprintf(&b, "%s = %q\n", name, d.Owners[name])
	}

	fmt.Fprintf(&b, "\n[runtime]\n")
	fmt.Fprintf(&b, "max_start = %d\n", d.Runtime.MaxStart)
	fmt.Fprintf(&b, "launch_backend = %q\n", d.Runtime.LaunchBackend)
	fmt.Fprintf(&b, "auto_no_launch = %v\n", d.Runtime.AutoNoLaunch)
	fmt.Fprintf(&b, "codex_flags = %q\n\n", d.Runtime.CodexFlags)

	fmt.Fprintf(&b, "[merge]\n")
	fmt.Fprintf(&b, "strategy = %q\n\n", d.Merge.Strategy)

	fmt.Fprintf(&b, "[todo]\n")
	fmt.Fprintf(&b, "id_col = %d\n", d.Todo.IDCol)
	fmt.Fprintf(&b, "title_col = %d\n", d.Todo.TitleCol)
	fmt.Fprintf(&b, "owner_col = %d\n", d.Todo.OwnerCol)
	fmt.Fprintf(&b, "deps_col = %d\n", d.Todo.DepsCol)
	fmt.Fprintf(&b, "notes_col = %d\n", d.Todo.NotesCol)
	fmt.Fprintf(&b, "status_col = %d\n", d.Todo.StatusCol)
	fmt.Fprintf(&b, "gate_regex = %q\n", d.Todo.GateRegex)
	fmt.Fprintf(&b, "done_keywords = [\"DONE\", \"완료\", \"Complete\", \"complete\"]\n")

	if err := os.WriteFile(cfgPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
