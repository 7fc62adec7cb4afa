// Package cleanup converges divergent runtime state: the exit watcher's
// auto-cleanup path, operator-initiated stop, stale-record reclamation,
// and emergency stop. Every path is idempotent and tolerant of prior
// partial cleanup.
package cleanup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/gitx"
	"github.com/msageha/codex-teams/internal/launcher"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/todo"
)

// AutoCleanupExit converges state after a worker pid exits. The call is
// idempotent: when the pid metadata is gone or records a different pid,
// another actor already converged and nothing happens. Mid-step failures
// are appended to the update log, never surfaced to the caller.
func AutoCleanupExit(ctx model.Context, taskID string, expectedPid int, reason string, out io.Writer) error {
	meta, ok := state.ReadPidMeta(ctx.OrchDir, taskID)
	if !ok {
		fmt.Fprintf(out, "auto-cleanup skipped: no pid metadata for %s\n", taskID)
		return nil
	}
	if meta.Pid != expectedPid {
		fmt.Fprintf(out, "auto-cleanup skipped: pid metadata for %s records pid %d, expected %d\n",
			taskID, meta.Pid, expectedPid)
		return nil
	}

	logStep := func(step string, err error) {
		if err == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "auto-cleanup %s: %v\n", step, err)
		_ = state.AppendUpdate(ctx.UpdatesFile, model.Actor, taskID, "CLEANUP",
			fmt.Sprintf("%s failed: %v", step, err))
	}

	// Launch resources first; a dead pid's session and label may linger.
	launcher.KillWorker(meta)

	if reason == "" {
		reason = fmt.Sprintf("worker exited (backend=%s)", meta.LaunchBackend)
	}

	rolledBack := false
	board, err := todo.Load(ctx.TodoFile, ctx.Todo)
	if err != nil {
		logStep("load board", err)
	} else if row, found := board.Find(taskID); found {
		if model.IsDone(row.Status, ctx.Todo.DoneKeywords) {
			// Workers that finished normally must not regress.
			fmt.Fprintln(out, "TODO rollback skipped: task status is DONE")
		} else {
			if err := board.UpdateStatus(taskID, model.StatusTODO); err != nil {
				logStep("status rollback", err)
			} else {
				rolledBack = true
			}
		}
	}
	if rolledBack {
		_ = state.AppendUpdate(ctx.UpdatesFile, model.Actor, taskID, model.StatusTODO,
			"Stopped by "+model.Actor+": "+reason)
	}

	if meta.Scope != "" {
		_, err := state.RemoveLockIf(ctx.LockDir, meta.Scope, "", taskID)
		logStep("remove lock", err)
	}

	branch := model.BranchName(meta.Owner, taskID)
	logStep("remove worktree", gitx.RemoveWorktreeAndBranch(ctx.RepoRoot, meta.Worktree, branch))

	logStep("remove pid metadata", state.RemovePidMeta(ctx.OrchDir, taskID))

	fmt.Fprintf(out, "auto-cleanup done: task=%s pid=%d\n", taskID, expectedPid)
	return nil
}

// WatchWorker blocks until the worker pid exits (or its pid metadata is
// superseded), then re-invokes this binary's auto-cleanup path so cleanup
// never depends on this process's memory.
func WatchWorker(ctx model.Context, taskID string, pid int) error {
	for {
		meta, ok := state.ReadPidMeta(ctx.OrchDir, taskID)
		if !ok || meta.Pid != pid {
			// Completion or another actor already converged state.
			return nil
		}
		if !state.PidAlive(pid) {
			break
		}
		time.Sleep(2 * time.Second)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}
	cmd := exec.Command(self,
		"--repo", ctx.RepoRoot,
		"--state-dir", ctx.StateDir,
		"--config", ctx.ConfigPath,
		"task", "auto-cleanup-exit", taskID, strconv.Itoa(pid))
	cmd.Dir = ctx.RepoRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// StopSelector picks which workers `task stop` targets. Exactly one field
// must be set.
type StopSelector struct {
	TaskID string
	Owner  string
	All    bool
}

// Stop terminates selected workers and tears their state down. Without
// apply it only prints what would happen. Operator-initiated stop rolls
// any status back to TODO, DONE included; that policy is deliberately
// stronger than auto-cleanup's.
func Stop(ctx model.Context, sel StopSelector, reason string, apply bool, out io.Writer) error {
	records := state.LoadInventory(ctx.OrchDir, ctx.LockDir)

	var selected []state.WorkerRecord
	for _, rec := range records {
		switch {
		case sel.TaskID != "":
			if rec.TaskID == sel.TaskID {
				selected = append(selected, rec)
			}
		case sel.Owner != "":
			if model.OwnerKey(rec.Owner) == model.OwnerKey(sel.Owner) {
				selected = append(selected, rec)
			}
		case sel.All:
			selected = append(selected, rec)
		}
	}

	if len(selected) == 0 {
		fmt.Fprintln(out, "No matching workers")
		return nil
	}
	if !apply {
		for _, rec := range selected {
			fmt.Fprintf(out, "[would stop] task=%s owner=%s state=%s pid=%d\n",
				rec.TaskID, rec.Owner, rec.State, rec.Pid)
		}
		fmt.Fprintln(out, "Re-run with --apply to stop these workers")
		return nil
	}

	if reason == "" {
		reason = "operator stop"
	}

	// Terminate every live pid in parallel: TERM, 5 s grace, then KILL.
	var g errgroup.Group
	for _, rec := range selected {
		rec := rec
		if rec.Pid <= 0 || !rec.PidAlive {
			continue
		}
		g.Go(func() error {
			terminatePid(rec.Pid)
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range selected {
		teardownRecord(ctx, rec, reason, out)
		fmt.Fprintf(out, "Stopped: task=%s owner=%s\n", rec.TaskID, rec.Owner)
	}

	_ = state.RefreshRegistry(ctx.RegistryFile(), state.LoadInventory(ctx.OrchDir, ctx.LockDir))
	return nil
}

// CleanupStale reclaims records whose classification marks them stale:
// dead pids still holding locks, orphaned locks/pids, missing worktrees.
func CleanupStale(ctx model.Context, apply bool, out io.Writer) error {
	records := state.LoadInventory(ctx.OrchDir, ctx.LockDir)

	var stale []state.WorkerRecord
	for _, rec := range records {
		if rec.Stale {
			stale = append(stale, rec)
		}
	}
	if len(stale) == 0 {
		fmt.Fprintln(out, "No stale state")
		return nil
	}
	if !apply {
		for _, rec := range stale {
			fmt.Fprintf(out, "[stale] task=%s owner=%s state=%s\n", rec.TaskID, rec.Owner, rec.State)
		}
		fmt.Fprintln(out, "Re-run with --apply to clean up")
		return nil
	}

	for _, rec := range stale {
		teardownRecord(ctx, rec, "stale state reclaimed", out)
		fmt.Fprintf(out, "Cleaned: task=%s state=%s\n", rec.TaskID, rec.State)
	}
	_ = state.RefreshRegistry(ctx.RegistryFile(), state.LoadInventory(ctx.OrchDir, ctx.LockDir))
	return nil
}

// EmergencyStop stops everything and clears the run-lock.
func EmergencyStop(ctx model.Context, reason string, out io.Writer) error {
	if reason == "" {
		reason = "emergency stop"
	}
	if err := Stop(ctx, StopSelector{All: true}, reason, true, out); err != nil {
		return err
	}
	if err := os.RemoveAll(ctx.RunLockDir()); err != nil {
		return fmt.Errorf("remove run-lock: %w", err)
	}
	fmt.Fprintln(out, "Emergency stop complete")
	return nil
}

// terminatePid escalates TERM → KILL with a 5 second grace period.
func terminatePid(pid int) {
	_ = unix.Kill(pid, syscall.SIGTERM)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !state.PidAlive(pid) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	_ = unix.Kill(pid, syscall.SIGKILL)
}

// teardownRecord removes the lock/worktree/branch/pid tuple of one record
// and rolls its board row back to TODO. Used by stop and stale paths;
// unlike auto-cleanup this regresses DONE rows too.
func teardownRecord(ctx model.Context, rec state.WorkerRecord, reason string, out io.Writer) {
	warn := func(step string, err error) {
		if err != nil && !errs.Is(err, errs.NotFound) {
			fmt.Fprintf(os.Stderr, "cleanup %s (%s): %v\n", step, rec.TaskID, err)
		}
	}

	if rec.TmuxSession != "" || rec.Pid > 0 {
		launcher.KillWorker(state.PidMeta{
			Pid:         rec.Pid,
			TmuxSession: rec.TmuxSession,
			LaunchLabel: "",
		})
	}

	if rec.TaskID != "" {
		if board, err := todo.Load(ctx.TodoFile, ctx.Todo); err == nil {
			if row, found := board.Find(rec.TaskID); found && row.Status != model.StatusTODO {
				warn("status rollback", board.UpdateStatus(rec.TaskID, model.StatusTODO))
				_ = state.AppendUpdate(ctx.UpdatesFile, model.Actor, rec.TaskID, model.StatusTODO,
					"Stopped by "+model.Actor+": "+reason)
			}
		}
	}

	if rec.Scope != "" {
		_, err := state.RemoveLockIf(ctx.LockDir, rec.Scope, "", rec.TaskID)
		warn("remove lock", err)
	}

	branch := ""
	if rec.Owner != "" && rec.TaskID != "" && model.ValidTaskID(rec.TaskID) {
		branch = model.BranchName(rec.Owner, rec.TaskID)
	}
	if rec.Worktree != "" || branch != "" {
		warn("remove worktree", gitx.RemoveWorktreeAndBranch(ctx.RepoRoot, rec.Worktree, branch))
	}

	if rec.TaskID != "" {
		warn("remove pid metadata", state.RemovePidMeta(ctx.OrchDir, rec.TaskID))
	}
}
