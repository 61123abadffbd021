package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/user/agentfeed/internal/follow"
	"github.com/user/agentfeed/internal/render"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	paneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	badgeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	liveStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m *model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	if m.pane == paneScreenshots {
		b.WriteString(m.screenshotView())
	} else {
		if m.logDirty {
			m.viewport.SetContent(m.eventLogContent())
			m.viewport.GotoTop()
			m.logDirty = false
		}
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(m.composer.View())
	}

	if m.sendError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("error: " + m.sendError))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	return b.String()
}

func (m *model) headerView() string {
	title := titleStyle.Render(fmt.Sprintf("agentfeed %s", m.config.Session.Active()))

	events := "events"
	shots := "screenshots"
	if m.pane == paneEvents {
		events = activeStyle.Render(events)
		shots = paneStyle.Render(shots)
	} else {
		events = paneStyle.Render(events)
		shots = activeStyle.Render(shots)
	}

	badge := ""
	if log := m.config.Session.Log(); log != nil {
		if n := log.Unseen(); n > 0 {
			badge = badgeStyle.Render(fmt.Sprintf(" [%d new]", n))
		}
	}
	return fmt.Sprintf("%s  %s | %s%s", title, events, shots, badge)
}

func (m *model) eventLogContent() string {
	events := m.events()
	if len(events) == 0 {
		return "No events yet."
	}

	width := m.viewport.Width
	if width <= 0 {
		width = 78
	}

	// Render oldest first so the log reads top-down.
	var blocks []string
	for i := len(events) - 1; i >= 0; i-- {
		blocks = append(blocks, wordwrap.String(render.Event(events[i]), width))
	}
	return strings.Join(blocks, "\n")
}

func (m *model) screenshotView() string {
	fc := m.config.Session.Follow()
	shots := m.screenshots()
	if fc == nil || len(shots) == 0 {
		return "No screenshots yet."
	}

	idx := fc.Index()
	if idx >= len(shots) {
		idx = len(shots) - 1
	}

	mode := paneStyle.Render("browsing")
	if fc.Mode() == follow.Live {
		mode = liveStyle.Render("live")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d/%d\n", mode, idx+1, len(shots))
	b.WriteString(render.Screenshot(shots[idx]))
	return b.String()
}

func (m *model) helpLine() string {
	if m.pane == paneScreenshots {
		return "←/→ navigate · f follow newest · tab events · esc quit"
	}
	return "enter send · pgup older · tab screenshots · esc quit"
}
