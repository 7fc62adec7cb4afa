package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/gitx"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/todo"
)

func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Agent worktree operations",
	}
	cmd.AddCommand(newWorktreeCreateCmd(), newWorktreeStartCmd(), newWorktreeListCmd())
	return cmd
}

func newWorktreeCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <agent> <task_id>",
		Short: "Ensure the worktree and branch for an agent/task pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			res, err := gitx.EnsureAgentWorktree(ctx.RepoRoot, args[0], args[1], ctx.BaseBranch, ctx.WorktreeParent)
			if res.Quarantined != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "quarantined stale worktree path: %s -> %s\n", res.Path, res.Quarantined)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Worktree: %s\n", res.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "Branch: %s\n", res.Branch)
			return nil
		},
	}
}

func newWorktreeStartCmd() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "start <agent> <task_id>",
		Short: "Ensure the worktree, take the scope lock, mark IN_PROGRESS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			agent, taskID := args[0], args[1]
			scope := ctx.ScopeFor(agent)
			if scope == "" {
				return errs.New(errs.Rejected, "owner %s has no scope mapping in [owners]", agent)
			}

			res, err := gitx.EnsureAgentWorktree(ctx.RepoRoot, agent, taskID, ctx.BaseBranch, ctx.WorktreeParent)
			if res.Quarantined != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "quarantined stale worktree path: %s -> %s\n", res.Path, res.Quarantined)
			}
			if err != nil {
				return err
			}

			if _, err := state.AcquireLock(ctx.LockDir, state.Lock{
				Owner:    agent,
				Scope:    scope,
				TaskID:   taskID,
				Branch:   res.Branch,
				Worktree: res.Path,
			}); err != nil {
				return err
			}

			board, err := todo.Load(ctx.TodoFile, ctx.Todo)
			if err != nil {
				return err
			}
			if err := board.UpdateStatus(taskID, model.StatusInProgress); err != nil {
				return err
			}
			if err := state.AppendUpdate(ctx.UpdatesFile, model.Actor, taskID, model.StatusInProgress,
				"started via "+trigger); err != nil {
				fmt.Fprintf(os.Stderr, "warning: update log append failed: %v\n", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Worktree: %s\n", res.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "Locked scope %s for %s\n", scope, agent)
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger label for the update log")
	return cmd
}

func newWorktreeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the repository's worktrees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			worktrees, err := gitx.ListWorktrees(ctx.RepoRoot)
			if err != nil {
				return err
			}
			for _, wt := range worktrees {
				branch := wt.Branch
				if branch == "" {
					branch = "(detached)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", wt.Path, branch, wt.Head)
			}
			return nil
		},
	}
}
