// Package status assembles the unified read-only view: scheduler
// readiness, runtime inventory, coordination locks, the task board, and
// recent updates. Collection takes no locks; it reads a snapshot and
// reports transient inconsistency as-is.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/msageha/codex-teams/internal/engine"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/scheduler"
	"github.com/msageha/codex-teams/internal/state"
	"github.com/msageha/codex-teams/internal/todo"
)

const updatesLimit = 200

type SchedulerSummary struct {
	Ready    int `json:"ready"`
	Excluded int `json:"excluded"`
}

type SchedulerView struct {
	Trigger  string                `json:"trigger"`
	MaxStart int                   `json:"max_start"`
	Ready    []engine.ReadyTask    `json:"ready_tasks"`
	Excluded []engine.ExcludedTask `json:"excluded_tasks"`
	Summary  SchedulerSummary      `json:"summary"`
}

type RuntimeSummary struct {
	Total       int                       `json:"total"`
	Active      int                       `json:"active"`
	Stale       int                       `json:"stale"`
	StateCounts map[state.WorkerState]int `json:"state_counts"`
}

type RuntimeView struct {
	Summary RuntimeSummary       `json:"summary"`
	Workers []state.WorkerRecord `json:"workers"`
}

type CoordinationView struct {
	ActiveLocks []engine.LockView `json:"active_locks"`
	Summary     struct {
		Locks int `json:"locks"`
	} `json:"summary"`
}

type BoardRow struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Owner  string `json:"owner"`
	Scope  string `json:"scope"`
	Deps   string `json:"deps"`
	Status string `json:"status"`
}

type BoardView struct {
	Tasks   []BoardRow `json:"tasks"`
	Summary struct {
		Total        int            `json:"total"`
		StatusCounts map[string]int `json:"status_counts"`
	} `json:"summary"`
}

type UpdatesView struct {
	Entries []state.UpdateEntry `json:"entries"`
	Summary struct {
		Total int `json:"total"`
	} `json:"summary"`
}

// Payload is the full status document.
type Payload struct {
	RepoRoot     string           `json:"repo_root"`
	StateDir     string           `json:"state_dir"`
	Scheduler    SchedulerView    `json:"scheduler"`
	Runtime      RuntimeView      `json:"runtime"`
	Coordination CoordinationView `json:"coordination"`
	TaskBoard    BoardView        `json:"task_board"`
	Updates      UpdatesView      `json:"updates"`
}

// Collect builds the payload from the current on-disk state.
func Collect(ctx model.Context, trigger string, maxStart int) (Payload, error) {
	snap, err := scheduler.Snapshot(ctx, trigger, maxStart)
	if err != nil {
		return Payload{}, err
	}

	records := state.LoadInventory(ctx.OrchDir, ctx.LockDir)
	summary := state.Summarize(records)
	_ = state.RefreshRegistry(ctx.RegistryFile(), records)

	active, stale := 0, 0
	for _, rec := range records {
		if state.ActiveState(rec.State) {
			active++
		}
		if rec.Stale {
			stale++
		}
	}

	board, err := todo.Load(ctx.TodoFile, ctx.Todo)
	if err != nil {
		return Payload{}, err
	}

	p := Payload{RepoRoot: ctx.RepoRoot, StateDir: ctx.StateDir}

	p.Scheduler = SchedulerView{
		Trigger:  snap.Trigger,
		MaxStart: snap.MaxStart,
		Ready:    snap.Ready,
		Excluded: snap.Excluded,
		Summary:  SchedulerSummary{Ready: len(snap.Ready), Excluded: len(snap.Excluded)},
	}

	p.Runtime = RuntimeView{
		Summary: RuntimeSummary{
			Total:       summary.Total,
			Active:      active,
			Stale:       stale,
			StateCounts: summary.StateCounts,
		},
		Workers: records,
	}

	p.Coordination.ActiveLocks = snap.RunningLocks
	p.Coordination.Summary.Locks = len(snap.RunningLocks)

	p.TaskBoard.Summary.StatusCounts = map[string]int{}
	for _, t := range board.Tasks() {
		p.TaskBoard.Tasks = append(p.TaskBoard.Tasks, BoardRow{
			TaskID: t.ID,
			Title:  t.Title,
			Owner:  t.Owner,
			Scope:  ctx.ScopeFor(t.Owner),
			Deps:   t.Deps,
			Status: t.Status,
		})
		p.TaskBoard.Summary.Total++
		p.TaskBoard.Summary.StatusCounts[t.Status]++
	}

	p.Updates.Entries = state.ReadUpdates(ctx.UpdatesFile, updatesLimit)
	p.Updates.Summary.Total = len(p.Updates.Entries)

	return p, nil
}

// RenderText prints the human status view.
func RenderText(out io.Writer, p Payload, trigger string) {
	fmt.Fprintf(out, "Repo: %s\n", p.RepoRoot)
	fmt.Fprintf(out, "State dir: %s\n", p.StateDir)
	fmt.Fprintf(out, "Trigger: %s\n", trigger)
	fmt.Fprintf(out, "Max start: %d\n", p.Scheduler.MaxStart)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Scheduler: ready=%d excluded=%d\n",
		p.Scheduler.Summary.Ready, p.Scheduler.Summary.Excluded)
	for _, t := range p.Scheduler.Ready {
		fmt.Fprintf(out, "  [READY] %s owner=%s deps=%s\n", t.TaskID, t.Owner, t.Deps)
	}
	for _, t := range p.Scheduler.Excluded {
		fmt.Fprintf(out, "  [EXCLUDED] %s owner=%s reason=%s source=%s\n",
			t.TaskID, t.Owner, t.Reason, t.Source)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Runtime: total=%d active=%d stale=%d\n",
		p.Runtime.Summary.Total, p.Runtime.Summary.Active, p.Runtime.Summary.Stale)
	if len(p.Runtime.Summary.StateCounts) > 0 {
		keys := make([]string, 0, len(p.Runtime.Summary.StateCounts))
		for k := range p.Runtime.Summary.StateCounts {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%d", k, p.Runtime.Summary.StateCounts[state.WorkerState(k)]))
		}
		fmt.Fprintf(out, "  states=%s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Coordination: locks=%d\n", p.Coordination.Summary.Locks)
	for _, l := range p.Coordination.ActiveLocks {
		fmt.Fprintf(out, "  [LOCK] scope=%s owner=%s task=%s\n", l.Scope, l.Owner, l.TaskID)
	}
}

// RenderJSON prints the payload as indented JSON.
func RenderJSON(out io.Writer, p Payload) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
