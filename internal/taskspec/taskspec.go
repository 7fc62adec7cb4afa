// Package taskspec validates and summarizes per-task spec files under
// tasks/specs/. Evaluation is a pure function of the filesystem.
package taskspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/state"
)

// RequiredSections are the H2 headings every task spec must carry, each
// with at least one non-blank body line.
var RequiredSections = []string{"## Goal", "## In Scope", "## Acceptance Criteria"}

const summaryLimit = 160

// Result is the evaluation of one task's spec file.
type Result struct {
	TaskID  string `json:"task_id"`
	Path    string `json:"spec_path"`
	RelPath string `json:"spec_rel_path"`
	Exists  bool   `json:"exists"`
	Valid   bool   `json:"valid"`

	Errors []string `json:"errors,omitempty"`

	GoalSummary       string `json:"goal_summary"`
	InScopeSummary    string `json:"in_scope_summary"`
	AcceptanceSummary string `json:"acceptance_summary"`
}

// RelPath is the repo-relative location of a task's spec file.
func RelPath(taskID string) string {
	return filepath.Join("tasks", "specs", taskID+".md")
}

// Evaluate checks existence, section structure, and derives summaries.
func Evaluate(repoRoot, taskID string) Result {
	rel := RelPath(taskID)
	path := filepath.Join(repoRoot, rel)
	res := Result{TaskID: taskID, Path: path, RelPath: rel}

	data, err := os.ReadFile(path)
	if err != nil {
		return res
	}
	res.Exists = true

	sections := splitSections(string(data))
	res.Valid = true
	for _, heading := range RequiredSections {
		bodies := sections[heading]
		switch {
		case len(bodies) == 0:
			res.Errors = append(res.Errors, fmt.Sprintf("missing section %q", heading))
			res.Valid = false
		case len(bodies) > 1:
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate section %q", heading))
			res.Valid = false
		default:
			summary := firstNonBlank(bodies[0])
			if summary == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("empty section %q", heading))
				res.Valid = false
				continue
			}
			switch heading {
			case "## Goal":
				res.GoalSummary = summary
			case "## In Scope":
				res.InScopeSummary = summary
			case "## Acceptance Criteria":
				res.AcceptanceSummary = summary
			}
		}
	}
	return res
}

// splitSections groups body lines under each H2 heading. A repeated
// heading produces multiple bodies so duplicates are detectable.
func splitSections(content string) map[string][][]string {
	sections := map[string][][]string{}
	var current string
	var body []string

	flush := func() {
		if current != "" {
			sections[current] = append(sections[current], body)
		}
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			current = trimmed
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

func firstNonBlank(lines []string) string {
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if len([]rune(s)) > summaryLimit {
			return string([]rune(s)[:summaryLimit-3]) + "..."
		}
		return s
	}
	return ""
}

const scaffoldTemplate = `# %s — %s

## Goal

%s

## In Scope

- TBD

## Acceptance Criteria

- TBD
`

// Scaffold writes a spec skeleton for a task. An existing file is only
// overwritten with force.
func Scaffold(repoRoot, taskID, title string, force bool) (string, error) {
	path := filepath.Join(repoRoot, RelPath(taskID))
	if _, err := os.Stat(path); err == nil && !force {
		return path, errs.New(errs.Rejected, "spec already exists: %s", path)
	}
	if title == "" {
		title = taskID
	}
	goal := title
	content := fmt.Sprintf(scaffoldTemplate, taskID, title, goal)
	if err := state.AtomicWrite(path, []byte(content)); err != nil {
		return path, fmt.Errorf("write spec scaffold: %w", err)
	}
	return path, nil
}
