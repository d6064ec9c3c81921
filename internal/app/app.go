package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/medfatnasii277/portalbell/internal/api"
	appsync "github.com/medfatnasii277/portalbell/internal/sync"
	"github.com/medfatnasii277/portalbell/internal/theme"
	"github.com/medfatnasii277/portalbell/internal/transport"
	"github.com/medfatnasii277/portalbell/internal/ui"
	helpview "github.com/medfatnasii277/portalbell/internal/ui/help"
	"github.com/medfatnasii277/portalbell/internal/ui/notifications"
)

const authHint = "token rejected, run `portalbell token set`"

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewPanel ViewState = iota
	ViewHelp
)

// Model is the root Bubble Tea model: header with the bell, the
// notification panel, and the status bar.
type Model struct {
	currentView      ViewState
	layout           ui.Layout
	keys             *KeyMap
	session          *Session
	panel            notifications.Model
	helpView         helpview.Model
	changes          <-chan struct{}
	unsubscribe      func()
	connState        transport.State
	ready            bool
	authErrorMessage string
	lastError        string
}

// New creates the root model for session.
func New(s *Session) Model {
	keys := DefaultKeyMap()
	changes, unsubscribe := s.Engine.Store().Subscribe()

	panel := notifications.New(keys, 80, 24)
	panel.SetLoading(s.Identity != "")

	helpView := helpview.New(keys, 80, 24)
	helpView.SetAccount(s.Identity, s.Server)

	return Model{
		currentView: ViewPanel,
		keys:        keys,
		session:     s,
		panel:       panel,
		helpView:    helpView,
		changes:     changes,
		unsubscribe: unsubscribe,
		connState:   s.Engine.ConnectionState(),
	}
}

// Init starts the first load, the poller and the change bridges.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.panel.Init(),
		initialize(m.session.Engine, m.session.Identity),
		m.session.Poller.Start(),
		waitForChange(m.changes),
		waitForState(m.session.States),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.panel.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		m.helpView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		return m, nil

	case storeChangedMsg:
		var cmd tea.Cmd
		m.panel, cmd = m.panel.Update(notifications.SnapshotMsg{
			Snapshot: m.session.Engine.Store().Snapshot(),
		})
		return m, tea.Batch(cmd, waitForChange(m.changes))

	case connStateMsg:
		m.connState = msg.state
		return m, waitForState(m.session.States)

	case initDoneMsg:
		m.panel.SetLoading(false)
		m.setError(msg.err)
		return m, nil

	case appsync.RefreshResultMsg:
		m.panel.SetLoading(false)
		if msg.AuthError != nil {
			m.authErrorMessage = msg.AuthError.Message
		} else if msg.Error == nil {
			m.authErrorMessage = ""
			m.lastError = ""
		} else {
			m.lastError = msg.Error.Error()
		}
		return m, m.session.Poller.WaitForNextResult()

	case actionDoneMsg:
		m.setError(msg.err)
		return m, nil

	case spinner.TickMsg:
		// The bell spinner lives in the header, so it ticks in every view.
		var cmd tea.Cmd
		m.panel, cmd = m.panel.Update(msg)
		return m, cmd

	case notifications.MarkReadMsg:
		return m, markRead(m.session.Engine, msg.ID)

	case notifications.MarkAllReadMsg:
		return m, markAllRead(m.session.Engine)

	case notifications.RefreshRequestMsg:
		return m, m.session.Poller.Trigger()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.shutdown()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = ViewPanel
			} else {
				m.currentView = ViewHelp
			}
			return m, nil

		case key.Matches(msg, m.keys.Back) && m.currentView == ViewHelp:
			m.currentView = ViewPanel
			return m, nil
		}
	}

	return m.updateActiveView(msg)
}

func (m *Model) setError(err error) {
	switch {
	case err == nil:
	case api.IsAuthError(err):
		m.authErrorMessage = authHint
	default:
		m.lastError = err.Error()
	}
}

// shutdown stops background work before the program exits.
func (m *Model) shutdown() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.session.Close()
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewPanel:
		m.panel, cmd = m.panel.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("portalbell", m.panel.BellView(), m.status())

	var content string
	switch m.currentView {
	case ViewHelp:
		content = m.helpView.View()
	default:
		content = m.panel.View()
	}

	var statusBar string
	if m.authErrorMessage != "" {
		statusBar = m.layout.RenderErrorBar(m.authErrorMessage)
	} else {
		statusBar = m.layout.RenderStatusBar(m.keyHints())
	}

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// status describes the connection and the last refresh for the header.
func (m Model) status() string {
	if m.session.Identity == "" {
		return "no user configured"
	}

	conn := theme.ConnectionStyle(m.connState.String()).Render(m.connState.String())

	st := m.session.Poller.Status()
	switch st.State {
	case appsync.SyncRunning:
		return conn + " | syncing"
	case appsync.SyncError:
		return conn + " | sync failed"
	}
	if st.LastSync.IsZero() {
		return conn
	}
	return fmt.Sprintf("%s | synced %s", conn, st.LastSync.Format(time.Kitchen))
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.lastError != "" && m.currentView == ViewPanel {
		return "⚠ " + m.lastError
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	default:
		if m.panel.IsOpen() {
			return "j/k move | enter mark read | A mark all read | n close | r refresh | q quit"
		}
		return "n notifications | r refresh | ? help | q quit"
	}
}
