// Package setup bootstraps the orchestrator layout: state directory
// skeleton, default config, TODO board, and the optional .gitignore entry.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/todo"
)

// GitignoreMode controls whether init appends the state dir to .gitignore.
const (
	GitignoreAsk = "ask"
	GitignoreYes = "yes"
	GitignoreNo  = "no"
)

// Run initializes the state layout for a resolved context.
func Run(ctx model.Context, gitignoreMode string, in io.Reader, out io.Writer) error {
	switch gitignoreMode {
	case GitignoreAsk, GitignoreYes, GitignoreNo:
	default:
		return errs.New(errs.Rejected, "--gitignore must be one of: ask, yes, no")
	}

	for _, dir := range []string{ctx.StateDir, ctx.LockDir, ctx.OrchDir, ctx.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := model.BootstrapConfig(ctx.ConfigPath); err != nil {
		return err
	}
	if err := todo.EnsureFile(ctx.TodoFile); err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized state dir: %s\n", ctx.StateDir)
	fmt.Fprintf(out, "Config: %s\n", ctx.ConfigPath)
	fmt.Fprintf(out, "TODO board: %s\n", ctx.TodoFile)

	return maybeGitignore(ctx, gitignoreMode, in, out)
}

// maybeGitignore appends the state dir to the repo's .gitignore when it
// lives inside the repo and is not already ignored.
func maybeGitignore(ctx model.Context, mode string, in io.Reader, out io.Writer) error {
	if mode == GitignoreNo {
		return nil
	}

	rel, err := filepath.Rel(ctx.RepoRoot, ctx.StateDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		// State dir lives outside the repository; nothing to ignore.
		return nil
	}
	entry := rel + "/"

	gitignorePath := filepath.Join(ctx.RepoRoot, ".gitignore")
	if data, err := os.ReadFile(gitignorePath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == entry || trimmed == rel {
				return nil
			}
		}
	}

	if mode == GitignoreAsk {
		fmt.Fprintf(out, "Add %q to %s? [y/N] ", entry, gitignorePath)
		reader := bufio.NewReader(in)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			return nil
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", entry); err != nil {
		return fmt.Errorf("append .gitignore: %w", err)
	}
	fmt.Fprintf(out, "Added %q to .gitignore\n", entry)
	return nil
}
