package model

import (
	"regexp"
	"strings"

	"github.com/msageha/codex-teams/internal/errs"
)

var (
	taskIDRe = regexp.MustCompile(`^T\d+-\d+$`)
	gateIDRe = regexp.MustCompile(`^G\d+$`)
)

// ValidTaskID reports whether id has the canonical T<digits>-<digits> form.
func ValidTaskID(id string) bool { return taskIDRe.MatchString(id) }

// ValidGateID reports whether id names a gate (G<digits>).
func ValidGateID(id string) bool { return gateIDRe.MatchString(id) }

// CheckTaskID validates an operator-supplied task id.
func CheckTaskID(id string) error {
	if strings.Contains(id, "|") {
		return errs.New(errs.Rejected, "task id must not contain '|': %s", id)
	}
	if !ValidTaskID(id) {
		return errs.New(errs.Rejected, "invalid task id (want T<digits>-<digits>): %s", id)
	}
	return nil
}

// Slug folds a name into a branch/path-safe token: lowercase
// alphanumerics, with every other run of characters collapsed to a single
// hyphen. "AgentA" → "agenta", "T9-301" → "t9-301".
func Slug(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// BranchName is the task branch for an agent/task pair.
func BranchName(agent, taskID string) string {
	return "codex/" + Slug(agent) + "-" + Slug(taskID)
}

// BranchPrefix is the namespace every task branch lives under.
const BranchPrefix = "codex/"

// WorktreeDirName is the basename of the canonical worktree path.
func WorktreeDirName(repoName, agent, taskID string) string {
	return repoName + "-" + Slug(agent) + "-" + Slug(taskID)
}

// PidFileName is the basename of a task's pid metadata file.
func PidFileName(taskID string) string {
	return Slug(taskID) + ".pid"
}
