package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/codex-teams/internal/errs"
)

func TestAcquireLock(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")

	lock, err := AcquireLock(lockDir, Lock{
		Owner:    "AgentA",
		Scope:    "app-shell",
		TaskID:   "T1-001",
		Branch:   "codex/agenta-t1-001",
		Worktree: "/tmp/wt",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(lockDir, "app-shell.lock"), lock.Path)
	assert.NotEmpty(t, lock.CreatedAt)
	assert.NotEmpty(t, lock.HeartbeatAt)

	read, ok := ReadLock(lockDir, "app-shell")
	require.True(t, ok)
	assert.Equal(t, "AgentA", read.Owner)
	assert.Equal(t, "T1-001", read.TaskID)
	assert.Equal(t, "codex/agenta-t1-001", read.Branch)
}

func TestAcquireLock_ConflictOnDifferentHolder(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")

	_, err := AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)

	_, err = AcquireLock(lockDir, Lock{Owner: "AgentB", Scope: "app-shell", TaskID: "T1-002"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LockConflict))
	assert.Contains(t, err.Error(), "LockConflict:")
}

func TestAcquireLock_SameHolderIsIdempotent(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")

	_, err := AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)
	_, err = AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)
}

func TestRemoveLockIf(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	_, err := AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)

	// Wrong task: untouched.
	removed, err := RemoveLockIf(lockDir, "app-shell", "", "T9-999")
	require.NoError(t, err)
	assert.False(t, removed)
	_, ok := ReadLock(lockDir, "app-shell")
	assert.True(t, ok)

	// Matching task: removed.
	removed, err = RemoveLockIf(lockDir, "app-shell", "AgentA", "T1-001")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok = ReadLock(lockDir, "app-shell")
	assert.False(t, ok)

	// Removing again is a no-op.
	removed, err = RemoveLockIf(lockDir, "app-shell", "AgentA", "T1-001")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestHeartbeatLock(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	_, err := AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)

	require.NoError(t, HeartbeatLock(lockDir, "app-shell", "AgentA"))

	err = HeartbeatLock(lockDir, "app-shell", "AgentB")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LockConflict))

	err = HeartbeatLock(lockDir, "missing-scope", "AgentA")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestListLocks(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	assert.Empty(t, ListLocks(lockDir))

	_, err := AcquireLock(lockDir, Lock{Owner: "AgentB", Scope: "domain-core", TaskID: "T2-001"})
	require.NoError(t, err)
	_, err = AcquireLock(lockDir, Lock{Owner: "AgentA", Scope: "app-shell", TaskID: "T1-001"})
	require.NoError(t, err)

	locks := ListLocks(lockDir)
	require.Len(t, locks, 2)
	assert.Equal(t, "app-shell", locks[0].Scope)
	assert.Equal(t, "domain-core", locks[1].Scope)
}
