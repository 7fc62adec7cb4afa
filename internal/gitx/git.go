// Package gitx wraps the git operations the orchestrator needs: repo
// resolution, worktree lifecycle, and merges. All operations shell out to
// the git binary, matching how the rest of the toolchain treats git as the
// source of truth.
package gitx

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/msageha/codex-teams/internal/errs"
)

// run executes git with -C dir and returns trimmed combined output.
func run(dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
	}
	return text, nil
}

// RepoRoot resolves the top-level working tree for path.
func RepoRoot(path string) (string, error) {
	out, err := run(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", errs.New(errs.MissingPrerequisite, "not a git repository: %s", path)
	}
	return filepath.Clean(out), nil
}

// GitDir returns the absolute git dir for the working tree at dir.
func GitDir(dir string) (string, error) {
	out, err := run(dir, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	return filepath.Clean(out), nil
}

// CommonDir returns the absolute common git dir shared by all worktrees.
func CommonDir(dir string) (string, error) {
	out, err := run(dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}
	return filepath.Clean(out), nil
}

// InLinkedWorktree reports whether dir is a secondary worktree (its git
// dir lives under <common>/worktrees/).
func InLinkedWorktree(dir string) (bool, error) {
	gitDir, err := GitDir(dir)
	if err != nil {
		return false, err
	}
	commonDir, err := CommonDir(dir)
	if err != nil {
		return false, err
	}
	return physical(gitDir) != physical(commonDir), nil
}

// CurrentBranch returns the checked-out branch name for dir.
func CurrentBranch(dir string) (string, error) {
	return run(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HasTrackedChanges reports whether dir has uncommitted changes to tracked
// files. Untracked files do not count.
func HasTrackedChanges(dir string) (bool, error) {
	out, err := run(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "??") {
			continue
		}
		return true, nil
	}
	return false, nil
}

// BranchExists reports whether a local branch exists.
func BranchExists(repo, branch string) bool {
	_, err := run(repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func IsAncestor(repo, ancestor, descendant string) bool {
	_, err := run(repo, "merge-base", "--is-ancestor", ancestor, descendant)
	return err == nil
}

// SamePath compares two paths physically, following symlinks.
func SamePath(a, b string) bool {
	return physical(a) == physical(b)
}

func physical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(p)
}
