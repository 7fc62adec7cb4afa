// Package engine ranks TODO rows against live runtime signals and decides
// which tasks may start. Evaluation is a pure function of a snapshot: it
// never mutates state, and identical inputs yield identical output.
package engine

import (
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/taskspec"
	"github.com/msageha/codex-teams/internal/todo"
)

// Exclusion reasons, in evaluation priority order.
const (
	ReasonUnmappedOwner    = "unmapped_owner"
	ReasonActiveWorker     = "active_worker"
	ReasonActiveLock       = "active_lock"
	ReasonSignalConflict   = "active_signal_conflict"
	ReasonOwnerBusy        = "owner_busy"
	ReasonMissingTaskSpec  = "missing_task_spec"
	ReasonInvalidTaskSpec  = "invalid_task_spec"
	ReasonDepsNotReady     = "deps_not_ready"
)

// ReadyTask is a row cleared to start, with its spec summaries for prompt
// rendering.
type ReadyTask struct {
	TaskID            string `json:"task_id"`
	Title             string `json:"title"`
	Owner             string `json:"owner"`
	OwnerKey          string `json:"owner_key"`
	Scope             string `json:"scope"`
	Deps              string `json:"deps"`
	Status            string `json:"status"`
	SpecRelPath       string `json:"spec_rel_path"`
	GoalSummary       string `json:"goal_summary"`
	InScopeSummary    string `json:"in_scope_summary"`
	AcceptanceSummary string `json:"acceptance_summary"`
}

// ExcludedTask is a row held back, with the first matching reason.
type ExcludedTask struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Owner  string `json:"owner"`
	Scope  string `json:"scope"`
	Deps   string `json:"deps"`
	Status string `json:"status"`
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// LockView is the coordination slice of the snapshot.
type LockView struct {
	TaskID string `json:"task_id"`
	Owner  string `json:"owner"`
	Scope  string `json:"scope"`
}

// Snapshot is the evaluator output.
type Snapshot struct {
	Trigger      string         `json:"trigger"`
	MaxStart     int            `json:"max_start"`
	Ready        []ReadyTask    `json:"ready_tasks"`
	Excluded     []ExcludedTask `json:"excluded_tasks"`
	RunningLocks []LockView     `json:"running_locks"`
}

// Inputs is the read-only material the evaluator works from. SpecEval is
// injectable so tests can avoid touching the filesystem.
type Inputs struct {
	Ctx      model.Context
	Tasks    []todo.Task
	Gates    map[string]string
	Pids     []state.PidMeta
	Locks    []state.Lock
	Trigger  string
	MaxStart int

	SpecEval func(taskID string) taskspec.Result
	// PidAlive overrides liveness probing in tests.
	PidAlive func(pid int) bool
}

// Evaluate ranks the TODO rows. Exclusion reasons are evaluated in fixed
// priority; the first match wins.
func Evaluate(in Inputs) Snapshot {
	specEval := in.SpecEval
	if specEval == nil {
		specEval = func(taskID string) taskspec.Result {
			return taskspec.Evaluate(in.Ctx.RepoRoot, taskID)
		}
	}
	alive := in.PidAlive
	if alive == nil {
		alive = state.PidAlive
	}

	snap := Snapshot{Trigger: in.Trigger, MaxStart: in.MaxStart}

	// Runtime signal maps.
	liveWorker := map[string]bool{}    // task id -> live pid
	lockedTask := map[string]bool{}    // task id -> lock present
	activeOwners := map[string]bool{}  // owner key -> owns an active signal
	lockTaskByScope := map[string]string{}
	pidTaskByScope := map[string]string{}

	for _, p := range in.Pids {
		if p.TaskID == "" {
			continue
		}
		// Conflict detection considers every pid record; liveness only
		// decides active_worker and owner_busy.
		if p.Scope != "" {
			pidTaskByScope[p.Scope] = p.TaskID
		}
		if alive(p.Pid) {
			liveWorker[p.TaskID] = true
			if p.Owner != "" {
				activeOwners[model.OwnerKey(p.Owner)] = true
			}
		}
	}
	for _, l := range in.Locks {
		snap.RunningLocks = append(snap.RunningLocks, LockView{TaskID: l.TaskID, Owner: l.Owner, Scope: l.Scope})
		if l.TaskID != "" {
			lockedTask[l.TaskID] = true
		}
		if l.Owner != "" {
			activeOwners[model.OwnerKey(l.Owner)] = true
		}
		if l.Scope != "" {
			lockTaskByScope[l.Scope] = l.TaskID
		}
	}

	// A scope whose lock and pid record (live or dead) disagree about the
	// task poisons both tasks until an operator reconciles it.
	conflicted := map[string]bool{}
	for scope, lockTask := range lockTaskByScope {
		pidTask, ok := pidTaskByScope[scope]
		if ok && lockTask != "" && pidTask != "" && lockTask != pidTask {
			conflicted[lockTask] = true
			conflicted[pidTask] = true
		}
	}

	statusIdx := map[string]string{}
	for _, t := range in.Tasks {
		statusIdx[t.ID] = t.Status
	}

	scheduledOwners := map[string]bool{}

	exclude := func(t todo.Task, scope, reason, source string) {
		snap.Excluded = append(snap.Excluded, ExcludedTask{
			TaskID: t.ID,
			Title:  t.Title,
			Owner:  t.Owner,
			Scope:  scope,
			Deps:   t.Deps,
			Status: t.Status,
			Reason: reason,
			Source: source,
		})
	}

	for _, t := range in.Tasks {
		if t.Status != model.StatusTODO {
			continue
		}

		ownerKey := model.OwnerKey(t.Owner)
		scope := in.Ctx.OwnersByKey[ownerKey]

		switch {
		case scope == "":
			exclude(t, "", ReasonUnmappedOwner, "scheduler")
		case liveWorker[t.ID]:
			exclude(t, scope, ReasonActiveWorker, "pid")
		case lockedTask[t.ID]:
			exclude(t, scope, ReasonActiveLock, "lock")
		case conflicted[t.ID]:
			exclude(t, scope, ReasonSignalConflict, "both")
		case activeOwners[ownerKey] || scheduledOwners[ownerKey]:
			exclude(t, scope, ReasonOwnerBusy, "scheduler")
		default:
			spec := specEval(t.ID)
			if !spec.Exists {
				exclude(t, scope, ReasonMissingTaskSpec, "scheduler")
				continue
			}
			if !spec.Valid {
				exclude(t, scope, ReasonInvalidTaskSpec, "scheduler")
				continue
			}
			if !todo.DepsReady(t.Deps, statusIdx, in.Gates) {
				exclude(t, scope, ReasonDepsNotReady, "scheduler")
				continue
			}

			snap.Ready = append(snap.Ready, ReadyTask{
				TaskID:            t.ID,
				Title:             t.Title,
				Owner:             t.Owner,
				OwnerKey:          ownerKey,
				Scope:             scope,
				Deps:              t.Deps,
				Status:            t.Status,
				SpecRelPath:       spec.RelPath,
				GoalSummary:       spec.GoalSummary,
				InScopeSummary:    spec.InScopeSummary,
				AcceptanceSummary: spec.AcceptanceSummary,
			})
			scheduledOwners[ownerKey] = true

			if in.MaxStart > 0 && len(snap.Ready) >= in.MaxStart {
				return snap
			}
		}
	}
	return snap
}
