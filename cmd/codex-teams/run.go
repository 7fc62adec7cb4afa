package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/codex-teams/internal/scheduler"
	"github.com/msageha/codex-teams/internal/status"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scheduler entry points",
	}
	cmd.AddCommand(newRunStartCmd())
	return cmd
}

func newRunStartCmd() *cobra.Command {
	var trigger string
	var dryRun, noLaunch bool
	var maxStart int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every ready task under the run-lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			res, err := scheduler.RunStart(ctx, scheduler.Options{
				Trigger:  trigger,
				DryRun:   dryRun,
				NoLaunch: noLaunch,
				MaxStart: maxStart,
			}, out)
			if err != nil {
				return err
			}

			// Post-start unified view so the operator sees the new state.
			if len(res.Started) > 0 && !dryRun {
				payload, perr := status.Collect(ctx, trigger, maxStart)
				if perr == nil {
					status.RenderText(out, payload, trigger)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger label for the update log")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate readiness without starting anything")
	cmd.Flags().BoolVar(&noLaunch, "no-launch", false, "prepare worktrees and locks without spawning workers")
	cmd.Flags().IntVar(&maxStart, "max-start", -1, "cap on tasks started this run (0 = unlimited)")
	return cmd
}
