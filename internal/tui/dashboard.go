// Package tui renders the interactive status dashboard: ready queue,
// running agents, the task board, and the update log, refreshed on a timer
// and on state-directory changes.
package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/msageha/codex-teams/internal/model"
	"github.com/msageha/codex-teams/internal/status"
)

const refreshInterval = 2 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	statusTones = map[string]lipgloss.Style{
		model.StatusTODO:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		model.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		model.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		model.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
)

type tickMsg time.Time

type stateChangedMsg struct{}

type refreshedMsg struct {
	payload status.Payload
	err     error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	ctx     model.Context
	trigger string

	payload status.Payload
	lastErr error

	ready  table.Model
	agents table.Model
	board  table.Model
	log    table.Model

	showLog bool
	watcher *fsnotify.Watcher
	events  chan struct{}
}

// Run starts the dashboard program.
func Run(ctx model.Context, trigger string) error {
	m := New(ctx, trigger)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// New builds the dashboard model and starts the state-dir watcher.
func New(ctx model.Context, trigger string) *Model {
	m := &Model{
		ctx:     ctx,
		trigger: trigger,
		events:  make(chan struct{}, 1),
	}

	m.ready = newTable([]table.Column{
		{Title: "Task", Width: 10}, {Title: "Owner", Width: 10},
		{Title: "Scope", Width: 16}, {Title: "Deps", Width: 16},
	}, 6)
	m.agents = newTable([]table.Column{
		{Title: "Agent", Width: 10}, {Title: "Task", Width: 10},
		{Title: "State", Width: 12}, {Title: "PID", Width: 8},
	}, 6)
	m.board = newTable([]table.Column{
		{Title: "Task", Width: 10}, {Title: "Title", Width: 32},
		{Title: "Owner", Width: 10}, {Title: "Status", Width: 12}, {Title: "Deps", Width: 16},
	}, 10)
	m.log = newTable([]table.Column{
		{Title: "Timestamp", Width: 20}, {Title: "Agent", Width: 12},
		{Title: "Task", Width: 10}, {Title: "Status", Width: 12}, {Title: "Summary", Width: 40},
	}, 10)

	if w, err := fsnotify.NewWatcher(); err == nil {
		m.watcher = w
		_ = w.Add(ctx.StateDir)
		_ = w.Add(ctx.OrchDir)
		_ = w.Add(ctx.LockDir)
		go func() {
			for range w.Events {
				select {
				case m.events <- struct{}{}:
				default:
				}
			}
		}()
	}
	return m
}

// Close releases the watcher.
func (m *Model) Close() {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

func newTable(cols []table.Column, height int) table.Model {
	t := table.New(table.WithColumns(cols), table.WithHeight(height))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	styles.Selected = styles.Selected.Bold(true)
	t.SetStyles(styles)
	return t
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, m.tick(), m.waitForChange())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.events
		return stateChangedMsg{}
	}
}

func (m *Model) refresh() tea.Msg {
	payload, err := status.Collect(m.ctx, m.trigger, -1)
	return refreshedMsg{payload: payload, err: err}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "1":
			m.showLog = false
		case "2":
			m.showLog = true
		case "r":
			return m, m.refresh
		}

	case tickMsg:
		return m, tea.Batch(m.refresh, m.tick())

	case stateChangedMsg:
		return m, tea.Batch(m.refresh, m.waitForChange())

	case refreshedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.payload = msg.payload
		m.fillTables()
	}

	var cmd tea.Cmd
	if m.showLog {
		m.log, cmd = m.log.Update(msg)
	} else {
		m.board, cmd = m.board.Update(msg)
	}
	return m, cmd
}

func (m *Model) fillTables() {
	p := m.payload

	var readyRows []table.Row
	for _, t := range p.Scheduler.Ready {
		readyRows = append(readyRows, table.Row{t.TaskID, t.Owner, t.Scope, t.Deps})
	}
	m.ready.SetRows(readyRows)

	var agentRows []table.Row
	for _, w := range p.Runtime.Workers {
		if !w.PidAlive {
			continue
		}
		agentRows = append(agentRows, table.Row{w.Owner, w.TaskID, string(w.State), strconv.Itoa(w.Pid)})
	}
	m.agents.SetRows(agentRows)

	var boardRows []table.Row
	for _, t := range p.TaskBoard.Tasks {
		boardRows = append(boardRows, table.Row{t.TaskID, t.Title, t.Owner, t.Status, t.Deps})
	}
	m.board.SetRows(boardRows)

	var logRows []table.Row
	for _, e := range p.Updates.Entries {
		logRows = append(logRows, table.Row{e.Timestamp, e.Agent, e.TaskID, e.Status, e.Summary})
	}
	m.log.SetRows(logRows)
}

func (m *Model) View() string {
	p := m.payload

	header := titleStyle.Render("codex-teams status") + "\n" +
		dimStyle.Render(fmt.Sprintf("repo=%s  state=%s  trigger=%s", p.RepoRoot, p.StateDir, m.trigger))

	counts := fmt.Sprintf("ready=%d  running=%d  locks=%d  tasks=%d",
		p.Scheduler.Summary.Ready,
		p.Runtime.Summary.Active,
		p.Coordination.Summary.Locks,
		p.TaskBoard.Summary.Total)
	for _, s := range []string{model.StatusDone, model.StatusTODO, model.StatusInProgress, model.StatusBlocked} {
		if n := p.TaskBoard.Summary.StatusCounts[s]; n > 0 {
			counts += "  " + statusTones[s].Render(fmt.Sprintf("%s=%d", s, n))
		}
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(titleStyle.Render("Ready Tasks")+"\n"+m.ready.View()),
		paneStyle.Render(titleStyle.Render("Running Agents")+"\n"+m.agents.View()),
	)

	bottomTitle := "Task Board (1)"
	bottomBody := m.board.View()
	if m.showLog {
		bottomTitle = "Update Log (2)"
		bottomBody = m.log.View()
	}
	bottom := paneStyle.Render(titleStyle.Render(bottomTitle) + "\n" + bottomBody)

	footer := dimStyle.Render("q quit · 1 board · 2 log · r refresh")
	if m.lastErr != nil {
		footer = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("refresh failed: " + m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, counts, top, bottom, footer)
}
