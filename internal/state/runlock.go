package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RunLock is the scheduler mutex: a directory created with mkdir (atomic on
// every platform we care about) holding a pid file naming the owner.
// Stale locks left by dead schedulers are reclaimed on acquire.
type RunLock struct {
	dir  string
	held bool
}

// AcquireRunLock takes the scheduler mutex at dir. When the lock exists,
// the owner pid is probed: a live owner aborts, a dead owner's lock is
// removed and the acquire retried once.
func AcquireRunLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create orchestrator dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			pidFile := filepath.Join(dir, "pid")
			content := strconv.Itoa(os.Getpid()) + "\n"
			if werr := os.WriteFile(pidFile, []byte(content), 0o644); werr != nil {
				os.RemoveAll(dir)
				return nil, fmt.Errorf("write run-lock pid: %w", werr)
			}
			return &RunLock{dir: dir, held: true}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create run-lock: %w", err)
		}

		owner := runLockOwner(dir)
		if owner > 0 && PidAlive(owner) {
			return nil, fmt.Errorf("scheduler already running (run-lock held by pid %d)", owner)
		}
		// Dead or unreadable owner: reclaim and retry once.
		if rerr := os.RemoveAll(dir); rerr != nil {
			return nil, fmt.Errorf("reclaim stale run-lock: %w", rerr)
		}
	}
	return nil, fmt.Errorf("run-lock at %s could not be acquired", dir)
}

// Release drops the run-lock. Safe to call more than once.
func (r *RunLock) Release() {
	if r == nil || !r.held {
		return
	}
	r.held = false
	_ = os.RemoveAll(r.dir)
}

// runLockOwner reads the owner pid recorded inside the lock directory,
// returning 0 when unreadable.
func runLockOwner(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, "pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// RunLockHeldBy reports the live owner of the run-lock at dir, or 0 when
// the lock is absent or stale.
func RunLockHeldBy(dir string) int {
	if _, err := os.Stat(dir); err != nil {
		return 0
	}
	owner := runLockOwner(dir)
	if owner > 0 && PidAlive(owner) {
		return owner
	}
	return 0
}
