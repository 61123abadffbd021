// Package tui is the interactive viewer for one conversation: the event log
// with a message composer, and a screenshot pane that follows the newest
// capture until the user navigates away.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/user/agentfeed/internal/prefetch"
	"github.com/user/agentfeed/internal/session"
	"github.com/user/agentfeed/internal/types"
)

// Config wires runtime options into the viewer.
type Config struct {
	Session  *session.Session
	Prefetch prefetch.Config
}

type focusPane int

const (
	paneEvents focusPane = iota
	paneScreenshots
)

const pollInterval = 200 * time.Millisecond

type model struct {
	config Config

	composer textinput.Model
	viewport viewport.Model

	pane      focusPane
	width     int
	height    int
	prefetch  *prefetch.Scheduler
	logDirty  bool
	sendError string
	quitting  bool
}

type tickMsg time.Time

type sendResultMsg struct {
	err error
}

type olderLoadedMsg struct {
	err error
}

// New returns a tea.Model for the session's selected conversation.
func New(config Config) tea.Model {
	composer := textinput.New()
	composer.Placeholder = "Message the agent…"
	composer.CharLimit = 2000
	composer.Width = 70
	composer.Focus()

	vp := viewport.New(80, 20)

	m := &model{
		config:   config,
		composer: composer,
		viewport: vp,
		logDirty: true,
	}
	m.prefetch = prefetch.New(config.Prefetch, func(prefetch.Trigger) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		config.Session.LoadOlderScreenshots(ctx)
	})
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		// The reconciler mutates the log from the live channel's goroutine;
		// polling keeps the view in sync without a second event bus.
		m.logDirty = true
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 6
		m.logDirty = true
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.sendError = msg.err.Error()
		}
		m.logDirty = true
		return m, nil

	case olderLoadedMsg:
		if msg.err != nil {
			m.sendError = msg.err.Error()
		}
		m.logDirty = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		m.prefetch.Stop()
		return m, tea.Quit

	case tea.KeyTab:
		m.togglePane()
		return m, nil

	case tea.KeyEnter:
		if m.pane == paneEvents {
			return m, m.sendCmd()
		}
		return m, nil

	case tea.KeyLeft:
		if m.pane == paneScreenshots {
			m.navigate(-1)
			return m, nil
		}

	case tea.KeyRight:
		if m.pane == paneScreenshots {
			m.navigate(+1)
			return m, nil
		}

	case tea.KeyPgUp:
		return m, m.loadOlderCmd()
	}

	if m.pane == paneScreenshots && msg.String() == "f" {
		if fc := m.config.Session.Follow(); fc != nil {
			fc.GoLive()
			if log := m.config.Session.Log(); log != nil {
				log.ClearUnseen()
			}
			m.logDirty = true
		}
		return m, nil
	}

	if m.pane == paneEvents {
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) togglePane() {
	log := m.config.Session.Log()
	if m.pane == paneEvents {
		m.pane = paneScreenshots
		m.composer.Blur()
		if log != nil {
			log.SetViewerState(true, true)
			log.ClearUnseen()
		}
	} else {
		m.pane = paneEvents
		m.composer.Focus()
		if log != nil {
			log.SetViewerState(false, false)
		}
	}
	m.logDirty = true
}

// navigate moves the viewed screenshot index by delta. Manual movement away
// from the newest item disengages live-follow; approaching the loaded edge
// schedules a prefetch.
func (m *model) navigate(delta int) {
	fc := m.config.Session.Follow()
	log := m.config.Session.Log()
	if fc == nil || log == nil {
		return
	}

	next := fc.Index() + delta
	if next < 0 {
		next = 0
	}
	loaded := len(log.Screenshots())
	if loaded > 0 && next >= loaded {
		next = loaded - 1
	}
	fc.Navigate(next)
	m.prefetch.Observe(fc.Index(), loaded, log.HasMoreScreenshots())
	m.logDirty = true
}

func (m *model) sendCmd() tea.Cmd {
	content := m.composer.Value()
	if content == "" {
		return nil
	}
	m.composer.SetValue("")
	m.sendError = ""
	s := m.config.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sendResultMsg{err: s.SendMessage(ctx, content)}
	}
}

func (m *model) loadOlderCmd() tea.Cmd {
	s := m.config.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return olderLoadedMsg{err: s.LoadOlderEvents(ctx)}
	}
}

func (m *model) events() []types.ChatEvent {
	log := m.config.Session.Log()
	if log == nil {
		return nil
	}
	return log.Events()
}

func (m *model) screenshots() []types.Screenshot {
	log := m.config.Session.Log()
	if log == nil {
		return nil
	}
	return log.Screenshots()
}
