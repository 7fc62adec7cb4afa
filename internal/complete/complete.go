// Package complete implements the completion pipeline invoked by workers
// from their worktree: ordered preconditions, merge into the base branch,
// then teardown of lock, worktree, branch, and pid metadata.
package complete

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/gitx"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/todo"
)

// CLIName is the binary workers re-enter the scheduler through.
const CLIName = "codex-teams"

// Options are the `task complete` arguments.
type Options struct {
	Agent         string
	Scope         string
	TaskID        string
	Summary       string
	Trigger       string
	MergeStrategy string
	NoRunStart    bool
}

// Run executes the completion pipeline from the caller's worktree.
// Completion never creates commits; the DONE marker commit must already
// exist on the task branch.
func Run(ctx model.Context, workdir string, opts Options, out io.Writer) error {
	// Precondition 1: we are in a linked worktree on a task branch.
	linked, err := gitx.InLinkedWorktree(workdir)
	if err != nil {
		return err
	}
	if !linked {
		return errs.New(errs.MissingPrerequisite,
			"task complete must run from the agent worktree, not the primary repo")
	}
	worktreeRoot, err := gitx.RepoRoot(workdir)
	if err != nil {
		return err
	}
	branch, err := gitx.CurrentBranch(worktreeRoot)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(branch, model.BranchPrefix) {
		return errs.New(errs.MissingPrerequisite,
			"current branch %s is not a task branch (want %s*)", branch, model.BranchPrefix)
	}

	// Precondition 2: the scope lock exists and is ours.
	lock, ok := state.ReadLock(ctx.LockDir, opts.Scope)
	if !ok {
		return errs.New(errs.NotFound, "no lock for scope %s", opts.Scope)
	}
	if lock.Owner != opts.Agent || lock.TaskID != opts.TaskID {
		return errs.New(errs.StateInvariant,
			"lock for scope %s is held by owner=%s task=%s, not owner=%s task=%s",
			opts.Scope, lock.Owner, lock.TaskID, opts.Agent, opts.TaskID)
	}
	if lock.Branch != "" && lock.Branch != branch {
		return errs.New(errs.StateInvariant,
			"lock records branch %s but worktree is on %s", lock.Branch, branch)
	}
	if lock.Worktree != "" && !gitx.SamePath(lock.Worktree, worktreeRoot) {
		return errs.New(errs.StateInvariant,
			"lock records worktree %s but caller is in %s", lock.Worktree, worktreeRoot)
	}

	// Precondition 3: no tracked uncommitted changes in the worktree.
	dirty, err := gitx.HasTrackedChanges(worktreeRoot)
	if err != nil {
		return err
	}
	if dirty {
		return errs.New(errs.MissingPrerequisite,
			"worktree has uncommitted tracked changes: %s", worktreeRoot)
	}

	// Precondition 4: the board row is marked done with one of the done
	// keywords, matched exactly (no case folding).
	board, err := todo.Load(ctx.TodoFile, ctx.Todo)
	if err != nil {
		return err
	}
	row, ok := board.Find(opts.TaskID)
	if !ok {
		return errs.New(errs.NotFound, "task %s not found in %s", opts.TaskID, ctx.TodoFile)
	}
	rowDone := false
	for _, k := range ctx.Todo.DoneKeywords {
		if row.Status == k {
			rowDone = true
		}
	}
	if !rowDone {
		return errs.New(errs.Rejected,
			"task %s status is %s; mark it DONE before task complete", opts.TaskID, row.Status)
	}

	summary := strings.TrimSpace(opts.Summary)
	if summary == "" {
		summary = "task complete"
	}

	// Step 1: record the DONE transition.
	if err := state.AppendUpdate(ctx.UpdatesFile, opts.Agent, opts.TaskID, model.StatusDone, summary); err != nil {
		fmt.Fprintf(os.Stderr, "warning: update log append failed: %v\n", err)
	}

	// Step 2: resolve the primary repo and the CLI binary for the
	// post-completion scheduler call.
	primary, err := PrimaryRepoRoot(worktreeRoot)
	if err != nil {
		return err
	}
	cliPath := resolveCLI(primary, worktreeRoot)

	// Step 3: merge.
	strategy := opts.MergeStrategy
	if strategy == "" {
		strategy = ctx.Merge.Strategy
	}
	if err := gitx.MergeIntoBase(primary, ctx.BaseBranch, branch, worktreeRoot, strategy); err != nil {
		return err
	}
	fmt.Fprintln(out, "Merged branch into primary")

	// Step 4: unlock.
	if err := state.RemoveLock(ctx.LockDir, opts.Scope); err != nil {
		return err
	}

	// Step 5: remove worktree and branch.
	if err := gitx.RemoveWorktreeAndBranch(primary, worktreeRoot, branch); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed worktree and branch: %s\n", branch)

	// Step 6: drop pid metadata, if any.
	if err := state.RemovePidMeta(ctx.OrchDir, opts.TaskID); err != nil {
		return err
	}

	// Step 7: hand off to the scheduler.
	if opts.NoRunStart {
		return nil
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "task-complete"
	}
	cmd := exec.Command(cliPath,
		"--repo", primary,
		"--state-dir", ctx.StateDir,
		"--config", ctx.ConfigPath,
		"run", "start", "--trigger", trigger)
	cmd.Dir = primary
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("post-completion run start: %w", err)
	}
	return nil
}

// PrimaryRepoRoot resolves the top-level primary checkout from any linked
// worktree: the common git dir lives at <primary>/.git.
func PrimaryRepoRoot(dir string) (string, error) {
	commonDir, err := gitx.CommonDir(dir)
	if err != nil {
		return "", err
	}
	if filepath.Base(commonDir) != ".git" {
		return "", errs.New(errs.StateInvariant,
			"cannot locate primary repo from git common dir %s", commonDir)
	}
	return filepath.Dir(commonDir), nil
}

// resolveCLI picks the binary used to re-enter the scheduler: the
// primary-repo copy first, then this executable when it lives outside the
// about-to-be-removed worktree, then PATH.
func resolveCLI(primary, worktree string) string {
	candidate := filepath.Join(primary, CLIName)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
		return candidate
	}
	if self, err := os.Executable(); err == nil {
		rel, err := filepath.Rel(worktree, self)
		if err != nil || strings.HasPrefix(rel, "..") {
			return self
		}
	}
	if found, err := exec.LookPath(CLIName); err == nil {
		return found
	}
	return CLIName
}
