package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/codex-teams/internal/gitx"
	"github.com/msageha/codex-teams/internal/logging"
	"github.com/msageha/codex-teams/internal/model"
)

const version = "1.0.0"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	repo     string
	stateDir string
	config   string
	verbose  bool
}

var flags globalFlags

// loadContext resolves the repo root, loads config, and builds the path
// context every command operates on.
func loadContext() (model.Context, error) {
	start := flags.repo
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return model.Context{}, err
		}
		start = cwd
	}

	repoRoot, err := gitx.RepoRoot(start)
	if err != nil {
		return model.Context{}, err
	}

	cfg, cfgPath, err := model.LoadConfig(repoRoot, flags.config)
	if err != nil {
		return model.Context{}, err
	}
	return model.ResolveContext(repoRoot, cfg, cfgPath, flags.stateDir), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codex-teams",
		Short:         "Orchestrate parallel codex workers over a TODO board",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(flags.verbose)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.repo, "repo", "", "git repository root or child path")
	pf.StringVar(&flags.stateDir, "state-dir", "", "state directory override")
	pf.StringVar(&flags.config, "config", "", "config path override")
	pf.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newTaskCmd(),
		newWorktreeCmd(),
		newRunCmd(),
		newStatusCmd(),
		newDashboardCmd(),
	)
	return root
}
