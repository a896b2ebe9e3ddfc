package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// snapshotMsg carries one full refresh of the state directory. err is kept
// so the header can show a degraded-read warning instead of crashing.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// pollInterval is the fallback refresh cadence when fsnotify is unavailable
// or events are sparse.
const pollInterval = 2 * time.Second

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(stateDir string) tea.Cmd {
	return func() tea.Msg {
		snap, err := fetchSnapshot(context.Background(), stateDir)
		return snapshotMsg{snap: snap, err: err}
	}
}

// ViewType selects the active pane.
type ViewType int

const (
	// SessionsView shows the agent session table.
	SessionsView ViewType = iota
	// QueueView shows the merge queue.
	QueueView
	// MailView shows unread mail.
	MailView
	// EventsView shows the recent event tail.
	EventsView
)

var viewNames = map[ViewType]string{
	SessionsView: "sessions",
	QueueView:    "queue",
	MailView:     "mail",
	EventsView:   "events",
}

// Model is the Bubble Tea model for the overstory dashboard.
type Model struct {
	stateDir string
	theme    Theme
	styles   Styles

	activeView ViewType
	snap       Snapshot
	fetchErr   error

	sessions sessionsTable

	width  int
	height int

	// cursor indexes the selected row in the non-table panes.
	cursor int
}

// newModel creates a Model reading from stateDir with SessionsView active.
func newModel(stateDir string) Model {
	theme := DefaultTheme()
	return Model{
		stateDir: stateDir,
		theme:    theme,
		styles:   NewStyles(theme),
		sessions: newSessionsTable(theme),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{fetchCmd(m.stateDir), tickCmd()}
	if watch := watchStateDir(m.stateDir); watch != nil {
		cmds = append(cmds, watch)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessions.resize(msg.Width, msg.Height-headerLines)

	case snapshotMsg:
		m.snap = msg.snap
		m.fetchErr = msg.err
		m.sessions.setSessions(msg.snap.Sessions)
		m.clampCursor()

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.stateDir), tickCmd())

	case fsChangeMsg:
		// Re-arm the watcher alongside the refresh; runWatcher returns
		// after each delivery.
		cmds := []tea.Cmd{fetchCmd(m.stateDir)}
		if watch := watchStateDir(m.stateDir); watch != nil {
			cmds = append(cmds, watch)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab", "l":
		m.activeView = (m.activeView + 1) % 4
		m.cursor = 0
	case "shift+tab", "h":
		m.activeView = (m.activeView + 3) % 4
		m.cursor = 0
	case "r":
		return m, fetchCmd(m.stateDir)
	case "j", "down":
		if m.activeView == SessionsView {
			var cmd tea.Cmd
			m.sessions, cmd = m.sessions.update(msg)
			return m, cmd
		}
		m.cursor++
		m.clampCursor()
	case "k", "up":
		if m.activeView == SessionsView {
			var cmd tea.Cmd
			m.sessions, cmd = m.sessions.update(msg)
			return m, cmd
		}
		if m.cursor > 0 {
			m.cursor--
		}
	}
	return m, nil
}

// rowCount is how many rows the active pane currently has.
func (m Model) rowCount() int {
	switch m.activeView {
	case QueueView:
		return len(m.snap.Queue)
	case MailView:
		return len(m.snap.Unread)
	case EventsView:
		return len(m.snap.Events)
	default:
		return len(m.snap.Sessions)
	}
}

func (m *Model) clampCursor() {
	if n := m.rowCount(); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
