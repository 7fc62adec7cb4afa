// Package launcher spawns detached codex workers and their exit watchers.
// Workers outlive the CLI invocation that started them: both backends put
// the child in its own session so the parent can exit immediately.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/msageha/codex-teams/internal/engine"
	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/tmux"
)

const codexBinary = "codex"

// ResolveBackend validates the configured backend before any mutation and
// resolves "auto" to a usable one.
func ResolveBackend(configured string) (string, error) {
	switch configured {
	case model.BackendTmux:
		if !tmux.Available() {
			return "", errs.New(errs.WorkerLaunch,
				"tmux is not available; install tmux or rerun with --no-launch")
		}
		return model.BackendTmux, nil
	case model.BackendCodexExec:
		if _, err := exec.LookPath(codexBinary); err != nil {
			return "", errs.New(errs.WorkerLaunch,
				"codex binary not found in PATH; install codex or rerun with --no-launch")
		}
		return model.BackendCodexExec, nil
	case model.BackendAuto:
		if tmux.Available() {
			return model.BackendTmux, nil
		}
		if _, err := exec.LookPath(codexBinary); err == nil {
			return model.BackendCodexExec, nil
		}
		return "", errs.New(errs.WorkerLaunch,
			"neither tmux nor codex is available; rerun with --no-launch")
	default:
		return "", errs.New(errs.Rejected, "unknown launch backend: %s", configured)
	}
}

// CodexArgs builds the `codex exec` argument list from the configured
// flags. Workers need write access to git lock files under
// .git/worktrees, so when the flags do not pin a sandbox mode the
// --full-auto shorthand is swapped for full bypass. The state dir and
// primary repo are added as writable roots so workers can finalize.
func CodexArgs(ctx model.Context, worktree, prompt string) []string {
	flags := strings.Fields(ctx.Runtime.CodexFlags)

	sandboxPinned := false
	for _, f := range flags {
		if f == "--sandbox" || f == "-s" || strings.HasPrefix(f, "--sandbox=") ||
			f == "--dangerously-bypass-approvals-and-sandbox" {
			sandboxPinned = true
		}
	}
	if !sandboxPinned {
		for i, f := range flags {
			if f == "--full-auto" {
				flags[i] = "--dangerously-bypass-approvals-and-sandbox"
			}
		}
	}

	args := []string{"exec"}
	args = append(args, flags...)
	args = append(args,
		"--cd", worktree,
		"-c", fmt.Sprintf("sandbox_workspace_write.writable_roots=[%q, %q]", ctx.StateDir, ctx.RepoRoot),
	)
	args = append(args, prompt)
	return args
}

// Launched describes a spawned worker.
type Launched struct {
	Meta state.PidMeta
}

// Launch spawns a detached worker for a ready task, writes its pid
// metadata, and starts the exit watcher. On pid-metadata failure the
// just-spawned worker is killed before the error is returned.
func Launch(ctx model.Context, task engine.ReadyTask, worktree, backend, trigger string) (Launched, error) {
	cliPath, err := os.Executable()
	if err != nil {
		return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "resolve own binary: %v", err)
	}

	prompt, err := RenderPrompt(ctx, task, worktree, cliPath)
	if err != nil {
		return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "render prompt: %v", err)
	}

	if err := os.MkdirAll(ctx.LogsDir, 0o755); err != nil {
		return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "create log dir: %v", err)
	}
	ts := time.Now().UTC().Format("20060102T150405")
	label := fmt.Sprintf("codex-%s-%s-%s", model.Slug(task.Owner), model.Slug(task.TaskID), ts)
	logFile := filepath.Join(ctx.LogsDir, model.Slug(task.TaskID)+"-"+ts+".log")

	meta := state.PidMeta{
		TaskID:        task.TaskID,
		Owner:         task.Owner,
		Scope:         task.Scope,
		Worktree:      worktree,
		StartedAt:     time.Now().UTC().Format(time.RFC3339),
		LaunchBackend: backend,
		LaunchLabel:   label,
		LogFile:       logFile,
		Trigger:       trigger,
	}

	switch backend {
	case model.BackendTmux:
		session := fmt.Sprintf("codex-%s-%s", model.Slug(task.Owner), model.Slug(task.TaskID))
		if tmux.SessionExists(session) {
			return Launched{}, errs.New(errs.WorkerLaunch, "tmux session already exists: %s", session)
		}
		command := fmt.Sprintf("%s >> %s 2>&1",
			shellCommand(codexBinary, CodexArgs(ctx, worktree, prompt)), shellQuote(logFile))
		env := []string{model.EnvStateDir + "=" + ctx.StateDir}
		if err := tmux.NewSession(session, worktree, command, env); err != nil {
			return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "start tmux session: %v", err)
		}
		pid, err := tmux.PanePid(session)
		if err != nil {
			_ = tmux.KillSession(session)
			return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "resolve worker pid: %v", err)
		}
		meta.Pid = pid
		meta.TmuxSession = session

	case model.BackendCodexExec:
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "open worker log: %v", err)
		}
		defer f.Close()

		cmd := exec.Command(codexBinary, CodexArgs(ctx, worktree, prompt)...)
		cmd.Dir = worktree
		cmd.Stdout = f
		cmd.Stderr = f
		cmd.Env = append(os.Environ(), model.EnvStateDir+"="+ctx.StateDir)
		// New session: the worker must survive this CLI's exit.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			return Launched{}, errs.Wrap(errs.WorkerLaunch, err, "start codex worker: %v", err)
		}
		meta.Pid = cmd.Process.Pid
		_ = cmd.Process.Release()

	default:
		return Launched{}, errs.New(errs.Rejected, "unknown launch backend: %s", backend)
	}

	written, err := state.WritePidMeta(ctx.OrchDir, meta)
	if err != nil {
		KillWorker(meta)
		return Launched{}, err
	}

	if err := spawnExitWatcher(ctx, cliPath, task.TaskID, written.Pid); err != nil {
		// The worker is healthy; a missing watcher only delays cleanup
		// until the next stale pass.
		fmt.Fprintf(os.Stderr, "warning: exit watcher not started for %s: %v\n", task.TaskID, err)
	}

	return Launched{Meta: written}, nil
}

// KillWorker terminates a worker and its launch resources: the process
// (TERM then KILL), the tmux session, and any launchd label. Every step is
// best effort.
func KillWorker(meta state.PidMeta) {
	if meta.Pid > 0 && state.PidAlive(meta.Pid) {
		_ = unix.Kill(meta.Pid, unix.SIGTERM)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && state.PidAlive(meta.Pid) {
			time.Sleep(100 * time.Millisecond)
		}
		if state.PidAlive(meta.Pid) {
			_ = unix.Kill(meta.Pid, unix.SIGKILL)
		}
	}
	_ = tmux.KillSession(meta.TmuxSession)
	removeLaunchdJob(meta.LaunchLabel)
}

// removeLaunchdJob clears a recorded launchd label on macOS hosts. Missing
// launchctl or label is not an error.
func removeLaunchdJob(label string) {
	if label == "" {
		return
	}
	if _, err := exec.LookPath("launchctl"); err != nil {
		return
	}
	_ = exec.Command("launchctl", "remove", label).Run()
}

// spawnExitWatcher re-executes this binary as a detached child that waits
// for the worker pid and then runs the auto-cleanup path. Re-exec keeps
// the watcher independent of this process's memory.
func spawnExitWatcher(ctx model.Context, cliPath, taskID string, pid int) error {
	args := []string{
		"--repo", ctx.RepoRoot,
		"--state-dir", ctx.StateDir,
		"--config", ctx.ConfigPath,
		"task", "watch-worker", taskID, strconv.Itoa(pid),
	}
	cmd := exec.Command(cliPath, args...)
	cmd.Dir = ctx.RepoRoot
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start exit watcher: %w", err)
	}
	return cmd.Process.Release()
}

func shellCommand(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(bin))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~`{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
