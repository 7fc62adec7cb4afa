package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/model"
)

// PidMeta is the per-task record of a running worker at
// <state>/orchestrator/<slug(task_id)>.pid.
type PidMeta struct {
	Pid           int
	TaskID        string
	Owner         string
	Scope         string
	Worktree      string
	StartedAt     string
	LaunchBackend string
	LaunchLabel   string
	TmuxSession   string
	LogFile       string
	Trigger       string

	Path string
}

// PidPath is the canonical pid file location for a task.
func PidPath(orchDir, taskID string) string {
	return filepath.Join(orchDir, model.PidFileName(taskID))
}

func (p PidMeta) fields() []Field {
	return []Field{
		{"pid", strconv.Itoa(p.Pid)},
		{"task_id", p.TaskID},
		{"owner", p.Owner},
		{"scope", p.Scope},
		{"worktree", p.Worktree},
		{"started_at", p.StartedAt},
		{"launch_backend", p.LaunchBackend},
		{"launch_label", p.LaunchLabel},
		{"tmux_session", p.TmuxSession},
		{"log_file", p.LogFile},
		{"trigger", p.Trigger},
	}
}

// WritePidMeta atomically persists the record. A directory squatting on the
// pid path is a state invariant violation the launcher must handle by
// killing the spawned worker.
func WritePidMeta(orchDir string, p PidMeta) (PidMeta, error) {
	p.Path = PidPath(orchDir, p.TaskID)
	if info, err := os.Stat(p.Path); err == nil && info.IsDir() {
		return PidMeta{}, errs.New(errs.StateInvariant,
			"pid metadata path is a directory: %s", p.Path)
	}
	if err := WriteRecord(p.Path, p.fields()); err != nil {
		return PidMeta{}, errs.Wrap(errs.WorkerLaunch, err,
			"write pid metadata %s: %v", p.Path, err)
	}
	return p, nil
}

// ReadPidMeta loads a task's pid record. ok is false when absent.
func ReadPidMeta(orchDir, taskID string) (PidMeta, bool) {
	return readPidFile(PidPath(orchDir, taskID))
}

func readPidFile(path string) (PidMeta, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return PidMeta{}, false
	}
	rec := ReadRecord(path)
	pid, _ := strconv.Atoi(rec["pid"])
	return PidMeta{
		Pid:           pid,
		TaskID:        rec["task_id"],
		Owner:         rec["owner"],
		Scope:         rec["scope"],
		Worktree:      rec["worktree"],
		StartedAt:     rec["started_at"],
		LaunchBackend: rec["launch_backend"],
		LaunchLabel:   rec["launch_label"],
		TmuxSession:   rec["tmux_session"],
		LogFile:       rec["log_file"],
		Trigger:       rec["trigger"],
		Path:          path,
	}, true
}

// RemovePidMeta deletes a task's pid record. Missing files are fine.
func RemovePidMeta(orchDir, taskID string) error {
	err := os.Remove(PidPath(orchDir, taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid metadata: %w", err)
	}
	return nil
}

// ListPidMeta returns every pid record under orchDir, sorted by file name.
func ListPidMeta(orchDir string) []PidMeta {
	entries, err := os.ReadDir(orchDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".pid") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var metas []PidMeta
	for _, name := range names {
		if p, ok := readPidFile(filepath.Join(orchDir, name)); ok {
			metas = append(metas, p)
		}
	}
	return metas
}

// PidAlive probes a pid with signal 0.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Alive reports whether the recorded worker process is alive.
func (p PidMeta) Alive() bool { return PidAlive(p.Pid) }
