package gitx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Head   string
	Branch string
}

// ListWorktrees parses the porcelain worktree listing of repo.
func ListWorktrees(repo string) ([]Worktree, error) {
	out, err := run(repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	var worktrees []Worktree
	var current Worktree
	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
			current = Worktree{}
		}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return worktrees, nil
}

// FindWorktreeForBranch returns the checkout path of branch, or "".
func FindWorktreeForBranch(repo, branch string) (string, error) {
	worktrees, err := ListWorktrees(repo)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}
	return "", nil
}

// CanonicalWorktreePath is where a task's worktree lives.
func CanonicalWorktreePath(parentDir, repoName, agent, taskID string) string {
	return filepath.Join(parentDir, model.WorktreeDirName(repoName, agent, taskID))
}

// EnsureResult reports what EnsureAgentWorktree did.
type EnsureResult struct {
	Path        string
	Branch      string
	Created     bool
	Quarantined string // non-empty when an orphaned directory was moved aside
}

// EnsureAgentWorktree returns the canonical worktree for an agent/task
// pair, creating it (and its branch) when missing. A directory squatting on
// the canonical path that is not a worktree of this repo is quarantined by
// an atomic rename and left intact for inspection.
func EnsureAgentWorktree(repo, agent, taskID, baseBranch, parentDir string) (EnsureResult, error) {
	branch := model.BranchName(agent, taskID)
	path := CanonicalWorktreePath(parentDir, filepath.Base(repo), agent, taskID)
	res := EnsureResult{Path: path, Branch: branch}

	worktrees, err := ListWorktrees(repo)
	if err != nil {
		return res, err
	}
	for _, wt := range worktrees {
		if SamePath(wt.Path, path) {
			if wt.Branch != branch {
				return res, errs.New(errs.StateInvariant,
					"worktree %s is on branch %s, expected %s", path, wt.Branch, branch)
			}
			return res, nil
		}
	}

	if _, err := os.Stat(path); err == nil {
		quarantine := fmt.Sprintf("%s.orphan-%d", path, time.Now().Unix())
		if err := os.Rename(path, quarantine); err != nil {
			return res, fmt.Errorf("quarantine orphaned worktree path: %w", err)
		}
		res.Quarantined = quarantine
	}

	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return res, fmt.Errorf("create worktree parent: %w", err)
	}

	if BranchExists(repo, branch) {
		if _, err := run(repo, "worktree", "add", path, branch); err != nil {
			return res, fmt.Errorf("attach worktree: %w", err)
		}
	} else {
		if _, err := run(repo, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
			return res, fmt.Errorf("create worktree: %w", err)
		}
	}
	res.Created = true
	return res, nil
}

// RemoveWorktreeAndBranch force-removes a worktree and deletes its branch.
// The primary repo path is refused; both removals tolerate already-gone
// targets.
func RemoveWorktreeAndBranch(repo, worktreePath, branch string) error {
	if worktreePath != "" {
		if SamePath(worktreePath, repo) {
			return errs.New(errs.StateInvariant,
				"refusing to remove primary repo path: %s", worktreePath)
		}
		if _, err := os.Stat(worktreePath); err == nil {
			if _, err := run(repo, "worktree", "remove", "--force", worktreePath); err != nil {
				// A half-deleted worktree may no longer be registered.
				if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
					return fmt.Errorf("remove worktree %s: %w", worktreePath, err)
				}
			}
		}
		_, _ = run(repo, "worktree", "prune")
	}

	if branch != "" && BranchExists(repo, branch) {
		if _, err := run(repo, "branch", "-D", branch); err != nil {
			return fmt.Errorf("delete branch %s: %w", branch, err)
		}
	}
	return nil
}
