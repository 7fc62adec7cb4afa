package model

import "strings"

// Task statuses as written on the board.
const (
	StatusTODO       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusBlocked    = "BLOCKED"
	StatusDone       = "DONE"
)

// ValidStatus reports whether s is one of the four board statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusTODO, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// IsDone reports whether a cell value counts as "done" under the
// configured keyword set. Matching is case-folded, so the default set
// accepts DONE, 완료, Complete, and complete.
func IsDone(value string, doneKeywords []string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, k := range doneKeywords {
		if v == strings.ToLower(k) {
			return true
		}
	}
	return false
}
