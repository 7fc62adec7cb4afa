package launcher

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/msageha/codex-teams/internal/engine"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/templates"
)

// PromptData is what the worker prompt template is rendered with.
type PromptData struct {
	Agent             string
	TaskID            string
	Title             string
	Scope             string
	Worktree          string
	BaseBranch        string
	StateDir          string
	SpecRelPath       string
	GoalSummary       string
	InScopeSummary    string
	AcceptanceSummary string
	CLI               string
}

// RenderPrompt builds the worker prompt, embedding the lifecycle contract
// from the embedded template.
func RenderPrompt(ctx model.Context, task engine.ReadyTask, worktree, cliPath string) (string, error) {
	tpl, err := template.ParseFS(templates.FS, "worker_prompt.md")
	if err != nil {
		return "", fmt.Errorf("parse worker prompt template: %w", err)
	}

	data := PromptData{
		Agent:             task.Owner,
		TaskID:            task.TaskID,
		Title:             task.Title,
		Scope:             task.Scope,
		Worktree:          worktree,
		BaseBranch:        ctx.BaseBranch,
		StateDir:          ctx.StateDir,
		SpecRelPath:       task.SpecRelPath,
		GoalSummary:       task.GoalSummary,
		InScopeSummary:    task.InScopeSummary,
		AcceptanceSummary: task.AcceptanceSummary,
		CLI:               cliPath,
	}

	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render worker prompt: %w", err)
	}
	return b.String(), nil
}
