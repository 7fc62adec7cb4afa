package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTaskID(t *testing.T) {
	assert.True(t, ValidTaskID("T1-001"))
	assert.True(t, ValidTaskID("T9-301"))
	assert.False(t, ValidTaskID("T1"))
	assert.False(t, ValidTaskID("G1"))
	assert.False(t, ValidTaskID("t1-001"))
	assert.False(t, ValidTaskID("T1-001x"))
}

func TestCheckTaskID(t *testing.T) {
	assert.NoError(t, CheckTaskID("T1-001"))

	err := CheckTaskID("T1|001")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Rejected:")

	err = CheckTaskID("nope")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Rejected:")
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AgentA", "agenta"},
		{"T9-301", "t9-301"},
		{"Agent A", "agent-a"},
		{"  spaced  out ", "spaced-out"},
		{"UPPER_case", "upper-case"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "Slug(%q)", tt.in)
	}
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "codex/agenta-t9-301", BranchName("AgentA", "T9-301"))
}

func TestWorktreeDirName(t *testing.T) {
	assert.Equal(t, "myrepo-agenta-t1-001", WorktreeDirName("myrepo", "AgentA", "T1-001"))
}

func TestIsDone(t *testing.T) {
	keywords := []string{"DONE", "완료", "Complete", "complete"}
	assert.True(t, IsDone("DONE", keywords))
	assert.True(t, IsDone("done", keywords))
	assert.True(t, IsDone("완료", keywords))
	assert.True(t, IsDone(" Complete ", keywords))
	assert.False(t, IsDone("TODO", keywords))
	assert.False(t, IsDone("", keywords))
}
