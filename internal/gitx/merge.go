package gitx

import (
	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
)

// MergeIntoBase lands branch on base in the primary repo. The only
// non-fast-forward path permitted is a single rebase of the branch onto
// base inside its worktree, followed by a fast-forward retry.
func MergeIntoBase(repo, base, branch, worktreePath, strategy string) error {
	dirty, err := HasTrackedChanges(repo)
	if err != nil {
		return err
	}
	if dirty {
		return errs.New(errs.StateInvariant,
			"primary repo has uncommitted tracked changes: %s", repo)
	}
	if !BranchExists(repo, branch) {
		return errs.New(errs.NotFound, "branch does not exist: %s", branch)
	}

	// Already merged: nothing to do.
	if IsAncestor(repo, branch, base) {
		return nil
	}

	current, err := CurrentBranch(repo)
	if err != nil {
		return err
	}
	if current != base {
		if _, err := run(repo, "checkout", base); err != nil {
			return errs.Wrap(errs.MergeFailed, err, "checkout %s in primary repo: %v", base, err)
		}
	}

	if _, ffErr := run(repo, "merge", "--ff-only", branch); ffErr == nil {
		return nil
	} else if strategy == model.MergeFFOnly {
		return errs.Wrap(errs.MergeFailed, ffErr,
			"fast-forward of %s into %s failed: %v", branch, base, ffErr)
	}

	// rebase-then-ff: rebase the branch onto base in its own worktree,
	// aborting on conflict, then retry the fast-forward once.
	if worktreePath == "" {
		return errs.New(errs.MergeFailed,
			"fast-forward of %s failed and no worktree is available for rebase", branch)
	}
	if _, err := run(worktreePath, "checkout", branch); err != nil {
		return errs.Wrap(errs.MergeFailed, err, "checkout %s in worktree: %v", branch, err)
	}
	if _, err := run(worktreePath, "rebase", base); err != nil {
		_, _ = run(worktreePath, "rebase", "--abort")
		return errs.Wrap(errs.MergeFailed, err,
			"rebase of %s onto %s conflicted and was aborted: %v", branch, base, err)
	}
	if _, err := run(repo, "merge", "--ff-only", branch); err != nil {
		return errs.Wrap(errs.MergeFailed, err,
			"fast-forward of %s into %s failed after rebase: %v", branch, base, err)
	}
	return nil
}
