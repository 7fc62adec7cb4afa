// Package todo parses and mutates the markdown task board. The board file
// is the durable logical state: mutations rewrite exactly one cell or
// append one row and leave every other byte alone.
package todo

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/msageha/codex-teams/internal/errs"
	"github.com/msageha/codex-teams/internal/mdtable"
	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/state"
)

// Task is one parsed board row, in file order.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Owner  string `json:"owner"`
	Deps   string `json:"deps"`
	Notes  string `json:"notes"`
	Status string `json:"status"`

	line int
}

// Board is a loaded TODO file plus its column schema.
type Board struct {
	Path   string
	Schema model.TodoSchema

	lines       []string
	trailingEOL bool
	tasks       []Task
}

// DefaultHeader is written when a TODO file is bootstrapped.
const DefaultHeader = `# TODO Board

| ID | Title | Owner | Deps | Notes | Status |
|---|---|---|---|---|---|
`

// EnsureFile creates an empty board with the default header when path does
// not exist.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return state.AtomicWrite(path, []byte(DefaultHeader))
}

// Load parses the board at path.
func Load(path string, schema model.TodoSchema) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "TODO file not found: %s", path)
		}
		return nil, fmt.Errorf("read TODO file: %w", err)
	}

	text := string(data)
	trailingEOL := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	b := &Board{Path: path, Schema: schema, lines: lines, trailingEOL: trailingEOL}
	for i, line := range lines {
		cells, ok := mdtable.SplitRow(line)
		if !ok {
			continue
		}
		id := b.field(cells, schema.IDCol)
		if id == "" || id == "ID" || strings.Trim(id, "-") == "" {
			continue
		}
		b.tasks = append(b.tasks, Task{
			ID:     id,
			Title:  b.field(cells, schema.TitleCol),
			Owner:  b.field(cells, schema.OwnerCol),
			Deps:   b.field(cells, schema.DepsCol),
			Notes:  b.field(cells, schema.NotesCol),
			Status: b.field(cells, schema.StatusCol),
			line:   i,
		})
	}
	return b, nil
}

// field maps a 1-based schema column number onto the parsed cells. Column
// numbers count the empty field before the leading pipe, so column 2 is
// the first visible cell.
func (b *Board) field(cells []string, colNo int) string {
	idx := colNo - 2
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// Tasks returns the parsed rows in file order.
func (b *Board) Tasks() []Task {
	out := make([]Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Find returns the row for id.
func (b *Board) Find(id string) (Task, bool) {
	for _, t := range b.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// StatusIndex maps task id to its current status cell.
func (b *Board) StatusIndex() map[string]string {
	idx := make(map[string]string, len(b.tasks))
	for _, t := range b.tasks {
		idx[t.ID] = t.Status
	}
	return idx
}

// Gates scans the whole file for gate annotations and returns gate id →
// "DONE" | "PENDING". A malformed gate_regex yields no gates.
func (b *Board) Gates() map[string]string {
	gates := map[string]string{}
	re, err := regexp.Compile(b.Schema.GateRegex)
	if err != nil || re.NumSubexp() < 1 {
		return gates
	}
	stateRe := regexp.MustCompile(`\(([^)]*)\)`)

	for _, line := range b.lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		token := m[1]
		gateID, _, _ := strings.Cut(token, " ")
		gateState := ""
		if sm := stateRe.FindStringSubmatch(token); sm != nil {
			gateState = strings.TrimSpace(sm[1])
		}
		if model.IsDone(gateState, b.Schema.DoneKeywords) {
			gates[gateID] = "DONE"
		} else {
			gates[gateID] = "PENDING"
		}
	}
	return gates
}

// DepsReady reports whether every dependency of a row is satisfied: task
// deps must be DONE, gate deps must be DONE, and unknown tokens are never
// ready.
func DepsReady(deps string, taskStatus, gates map[string]string) bool {
	raw := strings.TrimSpace(deps)
	if raw == "" || raw == "-" {
		return true
	}
	for _, part := range strings.Split(raw, ",") {
		dep := strings.TrimSpace(part)
		if dep == "" {
			continue
		}
		switch {
		case model.ValidGateID(dep):
			if gates[dep] != "DONE" {
				return false
			}
		case model.ValidTaskID(dep):
			if taskStatus[dep] != model.StatusDone {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// UpdateStatus rewrites the Status cell of one row, preserving every other
// byte of the file.
func (b *Board) UpdateStatus(id, newStatus string) error {
	if !model.ValidStatus(newStatus) {
		return errs.New(errs.Rejected, "invalid status %q (want TODO|IN_PROGRESS|BLOCKED|DONE)", newStatus)
	}
	t, ok := b.Find(id)
	if !ok {
		return errs.New(errs.NotFound, "task %s not found in %s", id, b.Path)
	}

	line := b.lines[t.line]
	rewritten, err := replaceCell(line, b.Schema.StatusCol, newStatus)
	if err != nil {
		return err
	}
	b.lines[t.line] = rewritten
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			b.tasks[i].Status = newStatus
		}
	}
	return b.write()
}

// AppendRow inserts a new TODO row after the last table row.
func (b *Board) AppendRow(id, title, owner, deps, status string) error {
	if err := model.CheckTaskID(id); err != nil {
		return err
	}
	if _, exists := b.Find(id); exists {
		return errs.New(errs.Rejected, "duplicate task id: %s", id)
	}
	if status == "" {
		status = model.StatusTODO
	}
	if !model.ValidStatus(status) {
		return errs.New(errs.Rejected, "invalid status %q", status)
	}
	deps = strings.TrimSpace(deps)
	if deps == "" {
		deps = "-"
	}
	if deps != "-" {
		gates := b.Gates()
		for _, part := range strings.Split(deps, ",") {
			dep := strings.TrimSpace(part)
			if dep == "" {
				continue
			}
			if model.ValidGateID(dep) {
				if _, ok := gates[dep]; !ok {
					return errs.New(errs.Rejected, "invalid dep id: %s", dep)
				}
				continue
			}
			if _, ok := b.Find(dep); !ok {
				return errs.New(errs.Rejected, "invalid dep id: %s", dep)
			}
		}
		if err := b.checkAcyclic(id, deps); err != nil {
			return err
		}
	}

	maxCol := b.Schema.StatusCol
	for _, col := range []int{b.Schema.IDCol, b.Schema.TitleCol, b.Schema.OwnerCol, b.Schema.DepsCol, b.Schema.NotesCol} {
		if col > maxCol {
			maxCol = col
		}
	}
	cells := make([]string, maxCol-1)
	for i := range cells {
		cells[i] = "-"
	}
	put := func(col int, v string) {
		if idx := col - 2; idx >= 0 && idx < len(cells) {
			cells[idx] = mdtable.EscapeCell(v)
		}
	}
	put(b.Schema.IDCol, id)
	put(b.Schema.TitleCol, title)
	put(b.Schema.OwnerCol, owner)
	put(b.Schema.DepsCol, deps)
	put(b.Schema.NotesCol, "-")
	put(b.Schema.StatusCol, status)

	row := "| " + strings.Join(cells, " | ") + " |"

	insertAt := len(b.lines)
	if n := len(b.tasks); n > 0 {
		insertAt = b.tasks[n-1].line + 1
	} else if idx := b.separatorLine(); idx >= 0 {
		insertAt = idx + 1
	}

	b.lines = append(b.lines[:insertAt], append([]string{row}, b.lines[insertAt:]...)...)
	if err := b.write(); err != nil {
		return err
	}

	// Reparse so line indexes stay coherent for further mutations.
	reloaded, err := Load(b.Path, b.Schema)
	if err != nil {
		return err
	}
	*b = *reloaded
	return nil
}

// checkAcyclic validates that adding id with deps keeps the dependency
// graph a DAG.
func (b *Board) checkAcyclic(id, deps string) error {
	var edges []toposort.Edge
	addDeps := func(task, depList string) {
		for _, part := range strings.Split(depList, ",") {
			dep := strings.TrimSpace(part)
			if dep == "" || dep == "-" || !model.ValidTaskID(dep) {
				continue
			}
			edges = append(edges, toposort.Edge{dep, task})
		}
	}
	for _, t := range b.tasks {
		addDeps(t.ID, t.Deps)
	}
	addDeps(id, deps)

	if _, err := toposort.Toposort(edges); err != nil {
		return errs.New(errs.Rejected, "dependency cycle involving %s: %v", id, err)
	}
	return nil
}

// separatorLine finds the header separator row, or -1.
func (b *Board) separatorLine() int {
	for i, line := range b.lines {
		cells, ok := mdtable.SplitRow(line)
		if ok && mdtable.IsSeparator(cells) {
			return i
		}
	}
	return -1
}

func (b *Board) write() error {
	content := strings.Join(b.lines, "\n")
	if b.trailingEOL {
		content += "\n"
	}
	return state.AtomicWrite(b.Path, []byte(content))
}

// replaceCell swaps the content of one cell in a raw row, keeping all other
// cells (including their whitespace and escapes) byte-identical.
func replaceCell(line string, colNo int, value string) (string, error) {
	start := strings.Index(line, "|")
	end := strings.LastIndex(line, "|")
	if start < 0 || end <= start {
		return "", errs.New(errs.StateInvariant, "not a table row: %q", line)
	}
	prefix := line[:start]
	suffix := line[end+1:]
	body := line[start+1 : end]

	var segments []string
	var buf strings.Builder
	escaped := false
	for _, ch := range body {
		if escaped {
			buf.WriteByte('\\')
			buf.WriteRune(ch)
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '|':
			segments = append(segments, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(ch)
		}
	}
	if escaped {
		buf.WriteByte('\\')
	}
	segments = append(segments, buf.String())

	idx := colNo - 2
	if idx < 0 || idx >= len(segments) {
		return "", errs.New(errs.StateInvariant, "row has no column %d: %q", colNo, line)
	}
	segments[idx] = " " + mdtable.EscapeCell(value) + " "

	return prefix + "|" + strings.Join(segments, "|") + "|" + suffix, nil
}
