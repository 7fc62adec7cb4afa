package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// WorkerState classifies the runtime signals recorded for one task.
type WorkerState string

const (
	StateRunning          WorkerState = "RUNNING"
	StateLocked           WorkerState = "LOCKED"
	StateFinalizing       WorkerState = "FINALIZING"
	StateLockStale        WorkerState = "LOCK_STALE"
	StateFinalizingExited WorkerState = "FINALIZING_EXITED"
	StateOrphanLock       WorkerState = "ORPHAN_LOCK"
	StateOrphanPid        WorkerState = "ORPHAN_PID"
	StateMissingWorktree  WorkerState = "MISSING_WORKTREE"
	StateUnknown          WorkerState = "UNKNOWN"
)

// ActiveState reports whether s counts toward the status view's active total.
func ActiveState(s WorkerState) bool {
	switch s {
	case StateRunning, StateLocked, StateFinalizing:
		return true
	}
	return false
}

// StaleState reports whether s is reclaimable by cleanup-stale.
func StaleState(s WorkerState) bool {
	switch s {
	case StateLockStale, StateFinalizingExited, StateOrphanLock, StateOrphanPid, StateMissingWorktree:
		return true
	}
	return false
}

// WorkerRecord is the merged view of a task's pid metadata and scope lock.
type WorkerRecord struct {
	Key            string      `json:"key"`
	TaskID         string      `json:"task_id"`
	Owner          string      `json:"owner"`
	Scope          string      `json:"scope"`
	State          WorkerState `json:"state"`
	Pid            int         `json:"pid,omitempty"`
	PidAlive       bool        `json:"pid_alive"`
	PidFile        string      `json:"pid_file,omitempty"`
	LockFile       string      `json:"lock_file,omitempty"`
	Worktree       string      `json:"worktree,omitempty"`
	TmuxSession    string      `json:"tmux_session,omitempty"`
	LaunchBackend  string      `json:"launch_backend,omitempty"`
	LogFile        string      `json:"log_file,omitempty"`
	WorktreeExists bool        `json:"worktree_exists"`
	Stale          bool        `json:"stale"`
}

// InventorySummary aggregates record states.
type InventorySummary struct {
	Total       int                 `json:"total"`
	StateCounts map[WorkerState]int `json:"state_counts"`
}

// LoadInventory scans pid metadata and scope locks and classifies each
// task's runtime state. The snapshot is read-only and may observe
// transient inconsistency; classification names it instead of failing.
func LoadInventory(orchDir, lockDir string) []WorkerRecord {
	type pair struct {
		pid  *PidMeta
		lock *Lock
	}
	byKey := map[string]*pair{}

	for _, p := range ListPidMeta(orchDir) {
		p := p
		key := p.TaskID
		if key == "" {
			key = "PIDONLY:" + strings.TrimSuffix(filepath.Base(p.Path), ".pid")
		}
		entry := byKey[key]
		if entry == nil {
			entry = &pair{}
			byKey[key] = entry
		}
		entry.pid = &p
	}
	for _, l := range ListLocks(lockDir) {
		l := l
		key := l.TaskID
		if key == "" {
			key = fmt.Sprintf("LOCKONLY:%s:%s", l.Scope, l.Owner)
		}
		entry := byKey[key]
		if entry == nil {
			entry = &pair{}
			byKey[key] = entry
		}
		entry.lock = &l
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]WorkerRecord, 0, len(keys))
	for _, key := range keys {
		entry := byKey[key]
		rec := WorkerRecord{Key: key}

		if entry.pid != nil {
			rec.TaskID = entry.pid.TaskID
			rec.Owner = entry.pid.Owner
			rec.Scope = entry.pid.Scope
			rec.Worktree = entry.pid.Worktree
			rec.Pid = entry.pid.Pid
			rec.PidFile = entry.pid.Path
			rec.TmuxSession = entry.pid.TmuxSession
			rec.LaunchBackend = entry.pid.LaunchBackend
			rec.LogFile = entry.pid.LogFile
		}
		if entry.lock != nil {
			if rec.TaskID == "" {
				rec.TaskID = entry.lock.TaskID
			}
			if rec.Owner == "" {
				rec.Owner = entry.lock.Owner
			}
			if rec.Scope == "" {
				rec.Scope = entry.lock.Scope
			}
			if rec.Worktree == "" {
				rec.Worktree = entry.lock.Worktree
			}
			rec.LockFile = entry.lock.Path
		}
		if rec.TaskID == "" {
			rec.TaskID = key
		}

		rec.PidAlive = rec.PidFile != "" && PidAlive(rec.Pid)
		if rec.Worktree != "" {
			_, err := os.Stat(rec.Worktree)
			rec.WorktreeExists = err == nil
		}

		hasPid := rec.PidFile != ""
		hasLock := rec.LockFile != ""

		switch {
		case rec.Worktree != "" && !rec.WorktreeExists:
			switch {
			case hasLock && !hasPid:
				rec.State = StateOrphanLock
			case hasPid && !hasLock:
				rec.State = StateOrphanPid
			default:
				rec.State = StateMissingWorktree
			}
		case hasPid && hasLock && rec.PidAlive:
			rec.State = StateRunning
		case hasPid && hasLock:
			rec.State = StateLockStale
		case hasPid && rec.PidAlive:
			rec.State = StateFinalizing
		case hasPid:
			rec.State = StateFinalizingExited
		case hasLock:
			// Lock-only is valid for manual work in a dedicated worktree.
			rec.State = StateLocked
		default:
			rec.State = StateUnknown
		}
		rec.Stale = StaleState(rec.State)

		records = append(records, rec)
	}
	return records
}

// Summarize counts records per state.
func Summarize(records []WorkerRecord) InventorySummary {
	s := InventorySummary{StateCounts: map[WorkerState]int{}}
	for _, r := range records {
		s.Total++
		s.StateCounts[r.State]++
	}
	return s
}

// RefreshRegistry rebuilds the derived active_pids.tsv snapshot from the
// given records. The registry is non-authoritative; losing it is harmless.
func RefreshRegistry(registryFile string, records []WorkerRecord) error {
	var b strings.Builder
	for _, r := range records {
		cols := []string{
			r.Key,
			r.TaskID,
			r.Owner,
			r.Scope,
			string(r.State),
			pidString(r.Pid),
			boolString(r.PidAlive),
			r.PidFile,
			r.LockFile,
			r.Worktree,
			r.TmuxSession,
			boolString(r.WorktreeExists),
			boolString(r.Stale),
		}
		b.WriteString(strings.Join(cols, "\t"))
		b.WriteByte('\n')
	}
	return AtomicWrite(registryFile, []byte(b.String()))
}

func pidString(pid int) string {
	if pid <= 0 {
		return ""
	}
	return strconv.Itoa(pid)
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
