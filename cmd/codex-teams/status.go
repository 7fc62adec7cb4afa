package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/msageha/codex-teams/internal/status"
	"github.com/msageha/codex-teams/internal/tui"
)

func newStatusCmd() *cobra.Command {
	var jsonOut, tuiOut bool
	var trigger string
	var maxStart int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the unified scheduler/runtime/board view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}

			// The interactive view needs a terminal; tests and pipelines
			// get deterministic text instead.
			if tuiOut && isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd()) {
				return tui.Run(ctx, trigger)
			}

			payload, err := status.Collect(ctx, trigger, maxStart)
			if err != nil {
				return err
			}
			if jsonOut {
				return status.RenderJSON(cmd.OutOrStdout(), payload)
			}
			status.RenderText(cmd.OutOrStdout(), payload, trigger)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the full payload as JSON")
	cmd.Flags().BoolVar(&tuiOut, "tui", false, "interactive dashboard (falls back to text when not a TTY)")
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger label shown in the view")
	cmd.Flags().IntVar(&maxStart, "max-start", -1, "cap used for the readiness preview")
	return cmd
}

func newDashboardCmd() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Interactive dashboard over the live state directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				payload, err := status.Collect(ctx, trigger, -1)
				if err != nil {
					return err
				}
				status.RenderText(cmd.OutOrStdout(), payload, trigger)
				return nil
			}
			return tui.Run(ctx, trigger)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "dashboard", "trigger label shown in the view")
	return cmd
}
