package main

import (
	"fmt"
	"strings"
	"time"
)

// headerLines is the vertical space the header and tab bar occupy, used to
// size the sessions table.
const headerLines = 4

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.activeView {
	case QueueView:
		b.WriteString(m.renderQueue())
	case MailView:
		b.WriteString(m.renderMail())
	case EventsView:
		b.WriteString(m.renderEvents())
	default:
		b.WriteString(m.sessions.view())
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("tab/h/l switch pane  j/k move  r refresh  q quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.styles.Title.Render("overstory")
	parts := []string{title}
	if m.snap.Run != "" {
		parts = append(parts, "run "+truncate(m.snap.Run, 8))
	}
	parts = append(parts, fmt.Sprintf("%d sessions", len(m.snap.Sessions)))
	parts = append(parts, fmt.Sprintf("%d queued", len(m.snap.Queue)))
	parts = append(parts, fmt.Sprintf("%d unread", len(m.snap.Unread)))
	if m.fetchErr != nil {
		parts = append(parts, m.styles.StatusError.Render("read error"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderTabs() string {
	var parts []string
	for _, v := range []ViewType{SessionsView, QueueView, MailView, EventsView} {
		name := viewNames[v]
		if v == m.activeView {
			parts = append(parts, m.styles.TabOn.Render(name))
		} else {
			parts = append(parts, m.styles.TabOff.Render(name))
		}
	}
	return strings.Join(parts, "  ")
}

// statusStyle picks a color for terminal-ish states across the panes.
func (m Model) statusStyle(status string) string {
	switch status {
	case "merged", "completed", "working":
		return m.styles.StatusOK.Render(status)
	case "conflict", "stalled", "merging":
		return m.styles.StatusWarn.Render(status)
	case "failed", "zombie":
		return m.styles.StatusError.Render(status)
	default:
		return status
	}
}

func (m Model) renderQueue() string {
	if len(m.snap.Queue) == 0 {
		return m.styles.Muted.Render("Queue empty")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %-14s %-16s %-10s %s\n", "BRANCH", "TASK", "AGENT", "STATUS", "TIER")
	for i, e := range m.snap.Queue {
		tier := "-"
		if e.ResolvedTier != nil {
			tier = string(*e.ResolvedTier)
		}
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		fmt.Fprintf(&b, "%s%-38s %-14s %-16s %-10s %s\n",
			cursor, truncate(e.Branch, 38), truncate(e.TaskID, 14), e.AgentName,
			m.statusStyle(string(e.Status)), tier)
	}
	return b.String()
}

func (m Model) renderMail() string {
	if len(m.snap.Unread) == 0 {
		return m.styles.Muted.Render("No unread mail")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-14s %-8s %-30s %s\n", "FROM", "TO", "PRIORITY", "SUBJECT", "AGE")
	now := time.Now()
	for i, msg := range m.snap.Unread {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		fmt.Fprintf(&b, "%s%-12s %-14s %-8s %-30s %s\n",
			cursor, msg.From, msg.To, msg.Priority,
			truncate(msg.Subject, 28), idleAge(msg.CreatedAt, now))
	}
	return b.String()
}

func (m Model) renderEvents() string {
	if len(m.snap.Events) == 0 {
		return m.styles.Muted.Render("No events")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-9s %-14s %-14s %-10s %s\n", "TIME", "AGENT", "KIND", "TOOL", "LEVEL")
	for i, ev := range m.snap.Events {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		tool := ev.ToolName
		if tool == "" {
			tool = "-"
		}
		level := string(ev.Level)
		if level == "error" {
			level = m.styles.StatusError.Render(level)
		}
		fmt.Fprintf(&b, "%s%-7s %-14s %-14s %-10s %s\n",
			cursor, ev.CreatedAt.Format("15:04:05"), ev.AgentName, ev.Kind, tool, level)
	}
	return b.String()
}
