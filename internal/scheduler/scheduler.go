// Package scheduler drives `run start`: it serializes concurrent
// schedulers with the run-lock, walks the ready queue, and materializes
// the worktree/branch/lock/pid quadruple for each started task, rolling
// back to the pre-attempt state when any step fails.
package scheduler

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/msageha/codex-teams/internal/engine"
	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/gitx"
	"github.com/msageha/codex-teams/internal/launcher"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/todo"
)

// Actor is the name status transitions are attributed to in the update log.
const Actor = model.Actor

// Options controls one scheduler run.
type Options struct {
	Trigger  string
	DryRun   bool
	NoLaunch bool
	// MaxStart of -1 means "use the configured default".
	MaxStart int
}

// Result reports what a run did.
type Result struct {
	Snapshot engine.Snapshot
	Started  []string
}

// Snapshot evaluates readiness from the current on-disk state. Its only
// write is bootstrapping a missing TODO file; locks, pid metadata, and
// board rows are left untouched. Status paths share this.
func Snapshot(ctx model.Context, trigger string, maxStart int) (engine.Snapshot, error) {
	if err := todo.EnsureFile(ctx.TodoFile); err != nil {
		return engine.Snapshot{}, err
	}
	board, err := todo.Load(ctx.TodoFile, ctx.Todo)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if maxStart < 0 {
		maxStart = ctx.Runtime.MaxStart
	}
	return engine.Evaluate(engine.Inputs{
		Ctx:      ctx,
		Tasks:    board.Tasks(),
		Gates:    board.Gates(),
		Pids:     state.ListPidMeta(ctx.OrchDir),
		Locks:    state.ListLocks(ctx.LockDir),
		Trigger:  trigger,
		MaxStart: maxStart,
	}), nil
}

// RunStart is the scheduler entry point.
func RunStart(ctx model.Context, opts Options, out io.Writer) (Result, error) {
	linked, err := gitx.InLinkedWorktree(ctx.RepoRoot)
	if err != nil {
		return Result{}, err
	}
	if linked && os.Getenv(model.EnvAllowWorktreeRun) != "1" {
		return Result{}, errs.New(errs.MissingPrerequisite,
			"run start must be invoked from the primary repo (set %s=1 to override)", model.EnvAllowWorktreeRun)
	}

	backend := ""
	if !opts.NoLaunch && !opts.DryRun {
		backend, err = launcher.ResolveBackend(ctx.Runtime.LaunchBackend)
		if err != nil {
			return Result{}, err
		}
	}

	runLock, err := state.AcquireRunLock(ctx.RunLockDir())
	if err != nil {
		return Result{}, err
	}
	defer runLock.Release()

	// Fatal signals must not leave the run-lock behind.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		if _, ok := <-sigCh; ok {
			runLock.Release()
			os.Exit(1)
		}
	}()

	snap, err := Snapshot(ctx, opts.Trigger, opts.MaxStart)
	if err != nil {
		return Result{}, err
	}
	printSnapshot(out, snap)

	res := Result{Snapshot: snap}
	if opts.DryRun {
		fmt.Fprintf(out, "Dry run: %d task(s) would start\n", len(snap.Ready))
		return res, nil
	}

	for _, task := range snap.Ready {
		if err := startTask(ctx, task, backend, opts, out); err != nil {
			fmt.Fprintf(out, "Started tasks: %d\n", len(res.Started))
			return res, err
		}
		res.Started = append(res.Started, task.TaskID)
	}

	fmt.Fprintf(out, "Started tasks: %d\n", len(res.Started))

	records := state.LoadInventory(ctx.OrchDir, ctx.LockDir)
	_ = state.RefreshRegistry(ctx.RegistryFile(), records)

	return res, nil
}

// startTask materializes one task's quadruple. Any failure rolls back to
// the pre-attempt state in a single bounded pass.
func startTask(ctx model.Context, task engine.ReadyTask, backend string, opts Options, out io.Writer) error {
	branch := model.BranchName(task.Owner, task.TaskID)
	branchPreexisted := gitx.BranchExists(ctx.RepoRoot, branch)

	canonical := gitx.CanonicalWorktreePath(ctx.WorktreeParent, ctx.RepoName, task.Owner, task.TaskID)
	worktreePre, _ := gitx.FindWorktreeForBranch(ctx.RepoRoot, branch)
	worktreePreexisted := worktreePre != "" && gitx.SamePath(worktreePre, canonical)

	rb := rollback{
		ctx:                ctx,
		task:               task,
		branch:             branch,
		worktree:           canonical,
		branchPreexisted:   branchPreexisted,
		worktreePreexisted: worktreePreexisted,
	}

	ensured, err := gitx.EnsureAgentWorktree(ctx.RepoRoot, task.Owner, task.TaskID, ctx.BaseBranch, ctx.WorktreeParent)
	if ensured.Quarantined != "" {
		fmt.Fprintf(out, "quarantined stale worktree path: %s -> %s\n", ensured.Path, ensured.Quarantined)
	}
	if err != nil {
		rb.run(out, state.PidMeta{})
		return err
	}
	rb.worktreeCreated = ensured.Created

	lock := state.Lock{
		Owner:    task.Owner,
		Scope:    task.Scope,
		TaskID:   task.TaskID,
		Branch:   branch,
		Worktree: ensured.Path,
	}
	if _, err := state.AcquireLock(ctx.LockDir, lock); err != nil {
		rb.run(out, state.PidMeta{})
		return err
	}
	rb.lockAcquired = true

	board, err := todo.Load(ctx.TodoFile, ctx.Todo)
	if err == nil {
		err = board.UpdateStatus(task.TaskID, model.StatusInProgress)
	}
	if err != nil {
		rb.run(out, state.PidMeta{})
		return err
	}
	rb.statusChanged = true

	if err := state.AppendUpdate(ctx.UpdatesFile, Actor, task.TaskID, model.StatusInProgress,
		fmt.Sprintf("started via %s", opts.Trigger)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: update log append failed: %v\n", err)
	}

	if opts.NoLaunch {
		fmt.Fprintf(out, "Prepared worktree (no launch): task=%s worktree=%s\n", task.TaskID, ensured.Path)
		return nil
	}

	launched, err := launcher.Launch(ctx, task, ensured.Path, backend, opts.Trigger)
	if err != nil {
		rb.run(out, launched.Meta)
		return err
	}

	fmt.Fprintf(out, "Launched codex worker: task=%s owner=%s backend=%s pid=%d\n",
		task.TaskID, task.Owner, backend, launched.Meta.Pid)
	return nil
}

// rollback undoes the observable effects of a failed start attempt. The
// lock is removed only when this attempt owns it, and the worktree/branch
// only when they did not pre-exist.
type rollback struct {
	ctx      model.Context
	task     engine.ReadyTask
	branch   string
	worktree string

	branchPreexisted   bool
	worktreePreexisted bool
	worktreeCreated    bool
	lockAcquired       bool
	statusChanged      bool
}

func (r *rollback) run(out io.Writer, meta state.PidMeta) {
	if meta.Pid > 0 || meta.TmuxSession != "" || meta.LaunchLabel != "" {
		launcher.KillWorker(meta)
	}
	if err := state.RemovePidMeta(r.ctx.OrchDir, r.task.TaskID); err != nil {
		fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
	}

	if r.lockAcquired {
		if _, err := state.RemoveLockIf(r.ctx.LockDir, r.task.Scope, r.task.Owner, r.task.TaskID); err != nil {
			fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
		}
	}

	if r.statusChanged {
		if board, err := todo.Load(r.ctx.TodoFile, r.ctx.Todo); err == nil {
			if err := board.UpdateStatus(r.task.TaskID, model.StatusTODO); err != nil {
				fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
			}
		}
		_ = state.AppendUpdate(r.ctx.UpdatesFile, Actor, r.task.TaskID, model.StatusTODO,
			"Stopped by "+Actor+": start attempt rolled back")
	}

	if r.worktreeCreated && !r.worktreePreexisted {
		branch := ""
		if !r.branchPreexisted {
			branch = r.branch
		}
		if err := gitx.RemoveWorktreeAndBranch(r.ctx.RepoRoot, r.worktree, branch); err != nil {
			fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
		}
	}

	fmt.Fprintf(out, "Rolled back start attempt: task=%s\n", r.task.TaskID)
}

func printSnapshot(out io.Writer, snap engine.Snapshot) {
	fmt.Fprintf(out, "Scheduler: ready=%d excluded=%d\n", len(snap.Ready), len(snap.Excluded))
	for _, t := range snap.Ready {
		fmt.Fprintf(out, "  [READY] %s owner=%s deps=%s\n", t.TaskID, t.Owner, t.Deps)
	}
	for _, t := range snap.Excluded {
		fmt.Fprintf(out, "  [EXCLUDED] %s owner=%s reason=%s source=%s\n", t.TaskID, t.Owner, t.Reason, t.Source)
	}
}
