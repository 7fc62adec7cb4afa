package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msageha/codex-teams/internal/cleanup"
	"github.com/msageha/codex-teams/internal/complete"
	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/setup"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/taskspec"
	"github.com/msageha/codex-teams/internal/todo"
)

func newInitCmd() *cobra.Command {
	var gitignore string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the state directory, config, and TODO board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return setup.Run(ctx, gitignore, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&gitignore, "gitignore", setup.GitignoreAsk, "add state dir to .gitignore (ask|yes|no)")
	return cmd
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task board and coordination commands",
	}
	cmd.AddCommand(
		newTaskInitCmd(),
		newTaskNewCmd(),
		newTaskScaffoldSpecsCmd(),
		newTaskLockCmd(),
		newTaskUnlockCmd(),
		newTaskHeartbeatCmd(),
		newTaskUpdateCmd(),
		newTaskCompleteCmd(),
		newTaskStopCmd(),
		newTaskCleanupStaleCmd(),
		newTaskEmergencyStopCmd(),
		newTaskAutoCleanupExitCmd(),
		newTaskWatchWorkerCmd(),
	)
	return cmd
}

func newTaskInitCmd() *cobra.Command {
	var gitignore string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Alias of top-level init",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return setup.Run(ctx, gitignore, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&gitignore, "gitignore", setup.GitignoreAsk, "add state dir to .gitignore (ask|yes|no)")
	return cmd
}

func newTaskNewCmd() *cobra.Command {
	var deps, owner string
	cmd := &cobra.Command{
		Use:   "new <task_id> <summary>",
		Short: "Append a TODO row and scaffold its spec file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			taskID := args[0]
			summary := strings.Join(args[1:], " ")

			if err := todo.EnsureFile(ctx.TodoFile); err != nil {
				return err
			}
			board, err := todo.Load(ctx.TodoFile, ctx.Todo)
			if err != nil {
				return err
			}
			rowOwner := owner
			if rowOwner == "" {
				rowOwner = "-"
			}
			if err := board.AppendRow(taskID, summary, rowOwner, deps, model.StatusTODO); err != nil {
				return err
			}
			specPath, err := taskspec.Scaffold(ctx.RepoRoot, taskID, summary, false)
			if err != nil && !errs.Is(err, errs.Rejected) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added task %s\n", taskID)
			fmt.Fprintf(cmd.OutOrStdout(), "Spec: %s\n", specPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&deps, "deps", "-", "comma-joined dependency ids")
	cmd.Flags().StringVar(&owner, "owner", "", "owner agent name")
	return cmd
}

func newTaskScaffoldSpecsCmd() *cobra.Command {
	var taskID string
	var dryRun, force bool
	cmd := &cobra.Command{
		Use:   "scaffold-specs",
		Short: "Create spec skeletons for board rows that lack them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			board, err := todo.Load(ctx.TodoFile, ctx.Todo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range board.Tasks() {
				if taskID != "" && t.ID != taskID {
					continue
				}
				res := taskspec.Evaluate(ctx.RepoRoot, t.ID)
				if res.Exists && !force {
					continue
				}
				if dryRun {
					fmt.Fprintf(out, "[would scaffold] %s -> %s\n", t.ID, res.RelPath)
					continue
				}
				path, err := taskspec.Scaffold(ctx.RepoRoot, t.ID, t.Title, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Scaffolded %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "scaffold a single task id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print without writing")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing spec files")
	return cmd
}

func newTaskLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <agent> <scope> [task_id]",
		Short: "Acquire a scope lock",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			taskID := ""
			if len(args) == 3 {
				taskID = args[2]
			}
			lock, err := state.AcquireLock(ctx.LockDir, state.Lock{
				Owner:  args[0],
				Scope:  args[1],
				TaskID: taskID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked scope %s for %s\n", lock.Scope, lock.Owner)
			return nil
		},
	}
}

func newTaskUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <agent> <scope>",
		Short: "Release a scope lock you own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			agent, scope := args[0], args[1]
			existing, ok := state.ReadLock(ctx.LockDir, scope)
			if !ok {
				return errs.New(errs.NotFound, "no lock for scope %s", scope)
			}
			if existing.Owner != agent {
				return errs.New(errs.LockConflict,
					"scope %s is locked by owner=%s, not %s", scope, existing.Owner, agent)
			}
			if err := state.RemoveLock(ctx.LockDir, scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked scope %s\n", scope)
			return nil
		},
	}
}

func newTaskHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <agent> <scope>",
		Short: "Refresh the heartbeat on an owned scope lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			if err := state.HeartbeatLock(ctx.LockDir, args[1], args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Heartbeat recorded for scope %s\n", args[1])
			return nil
		},
	}
}

func newTaskUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <agent> <task_id> <status> <summary>",
		Short: "Rewrite a board row's status and log the transition",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			agent, taskID, newStatus := args[0], args[1], args[2]
			summary := strings.Join(args[3:], " ")

			board, err := todo.Load(ctx.TodoFile, ctx.Todo)
			if err != nil {
				return err
			}
			if err := board.UpdateStatus(taskID, newStatus); err != nil {
				return err
			}
			if err := state.AppendUpdate(ctx.UpdatesFile, agent, taskID, newStatus, summary); err != nil {
				fmt.Fprintf(os.Stderr, "warning: update log append failed: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s to %s\n", taskID, newStatus)
			return nil
		},
	}
}

func newTaskCompleteCmd() *cobra.Command {
	var summary, trigger, mergeStrategy string
	var noRunStart bool
	cmd := &cobra.Command{
		Use:   "complete <agent> <scope> <task_id>",
		Short: "Finalize a task from its worktree: merge, unlock, clean up",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			if mergeStrategy != "" &&
				mergeStrategy != model.MergeFFOnly && mergeStrategy != model.MergeRebaseThenFF {
				return errs.New(errs.Rejected, "--merge-strategy must be ff-only or rebase-then-ff")
			}
			return complete.Run(ctx, cwd, complete.Options{
				Agent:         args[0],
				Scope:         args[1],
				TaskID:        args[2],
				Summary:       summary,
				Trigger:       trigger,
				MergeStrategy: mergeStrategy,
				NoRunStart:    noRunStart,
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "completion summary for the update log")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger label for the follow-up run start")
	cmd.Flags().StringVar(&mergeStrategy, "merge-strategy", "", "ff-only or rebase-then-ff")
	cmd.Flags().BoolVar(&noRunStart, "no-run-start", false, "skip the post-completion scheduler run")
	return cmd
}

func newTaskStopCmd() *cobra.Command {
	var taskID, owner, reason string
	var all, apply bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop workers and roll their tasks back to TODO",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, v := range []bool{taskID != "", owner != "", all} {
				if v {
					set++
				}
			}
			if set != 1 {
				return errs.New(errs.Rejected, "task stop requires exactly one of --task, --owner, --all")
			}
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return cleanup.Stop(ctx, cleanup.StopSelector{TaskID: taskID, Owner: owner, All: all},
				reason, apply, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "stop the worker for one task id")
	cmd.Flags().StringVar(&owner, "owner", "", "stop all workers of one owner")
	cmd.Flags().BoolVar(&all, "all", false, "stop every worker")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the update log")
	cmd.Flags().BoolVar(&apply, "apply", false, "actually stop (default is a preview)")
	return cmd
}

func newTaskCleanupStaleCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "cleanup-stale",
		Short: "Reclaim stale locks, pids, and worktrees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return cleanup.CleanupStale(ctx, apply, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "actually clean up (default is a preview)")
	return cmd
}

func newTaskEmergencyStopCmd() *cobra.Command {
	var reason string
	var yes bool
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Stop everything and clear the run-lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "Stop all workers and clear the run-lock? [y/N] ")
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, _ := reader.ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			return cleanup.EmergencyStop(ctx, reason, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the update log")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation")
	return cmd
}

func newTaskAutoCleanupExitCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "auto-cleanup-exit <task_id> <expected_pid>",
		Short: "Converge state after a worker exit (idempotent)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			pid, err := strconv.Atoi(args[1])
			if err != nil {
				return errs.New(errs.Rejected, "invalid pid: %s", args[1])
			}
			return cleanup.AutoCleanupExit(ctx, args[0], pid, reason, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the update log")
	return cmd
}

func newTaskWatchWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "watch-worker <task_id> <pid>",
		Short:  "Wait for a worker pid to exit, then run auto-cleanup",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			pid, err := strconv.Atoi(args[1])
			if err != nil {
				return errs.New(errs.Rejected, "invalid pid: %s", args[1])
			}
			return cleanup.WatchWorker(ctx, args[0], pid)
		},
	}
}
