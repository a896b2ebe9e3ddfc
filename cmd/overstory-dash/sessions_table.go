package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"overstory/pkg/state"
)

// sessionsTable wraps the bubbles table for the sessions pane.
type sessionsTable struct {
	table table.Model
}

func newSessionsTable(theme Theme) sessionsTable {
	columns := []table.Column{
		{Title: "NAME", Width: 18},
		{Title: "CAPABILITY", Width: 12},
		{Title: "STATE", Width: 10},
		{Title: "ESC", Width: 4},
		{Title: "TASK", Width: 14},
		{Title: "IDLE", Width: 6},
		{Title: "BRANCH", Width: 36},
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.Primary)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(theme.Primary)

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(styles)
	return sessionsTable{table: t}
}

func idleAge(last time.Time, now time.Time) string {
	d := now.Sub(last)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// sessionRows converts sessions into table rows.
func sessionRows(sessions []state.Session, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		esc := "-"
		if s.EscalationLevel > 0 {
			esc = fmt.Sprintf("%d", s.EscalationLevel)
		}
		task := s.TaskID
		if task == "" {
			task = "-"
		}
		rows = append(rows, table.Row{
			s.Name, string(s.Capability), string(s.State), esc, task,
			idleAge(s.LastActivity, now), s.Branch,
		})
	}
	return rows
}

func (t *sessionsTable) setSessions(sessions []state.Session) {
	t.table.SetRows(sessionRows(sessions, time.Now()))
}

func (t *sessionsTable) resize(width, height int) {
	if height > 2 {
		t.table.SetHeight(height)
	}
	if width > 0 {
		t.table.SetWidth(width)
	}
}

func (t sessionsTable) update(msg tea.Msg) (sessionsTable, tea.Cmd) {
	var cmd tea.Cmd
	t.table, cmd = t.table.Update(msg)
	return t, cmd
}

func (t sessionsTable) view() string {
	return t.table.View()
}

// selectedAgent returns the agent name of the highlighted row, or "".
func (t sessionsTable) selectedAgent() string {
	row := t.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}
