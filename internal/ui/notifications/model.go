// Package notifications is the bell and panel view over the notification
// store.
package notifications

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/medfatnasii277/portalbell/internal/keys"
	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
	"github.com/medfatnasii277/portalbell/internal/theme"
)

// SnapshotMsg carries a fresh copy of the store to the view.
type SnapshotMsg struct {
	Snapshot store.Snapshot
}

// MarkReadMsg asks the engine to mark one record read.
type MarkReadMsg struct {
	ID int64
}

// MarkAllReadMsg asks the engine to mark everything read.
type MarkAllReadMsg struct{}

// RefreshRequestMsg asks for an immediate refresh.
type RefreshRequestMsg struct{}

// Model renders the bell toggle and, when open, the notification panel.
type Model struct {
	keys     *keys.KeyMap
	snap     store.Snapshot
	open     bool
	cursor   int
	loading  bool
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	now      func() time.Time
}

// New creates a closed panel.
func New(k *keys.KeyMap, width, height int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.MutedStyle

	m := Model{
		keys:     k,
		spinner:  s,
		viewport: viewport.New(width, height),
		now:      time.Now,
	}
	m.SetSize(width, height)
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.clampCursor()
		m.syncViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	return m, nil
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Toggle):
		m.open = !m.open
		m.syncViewport()
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			return RefreshRequestMsg{}
		})
	}

	if !m.open {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Back):
		m.open = false

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
			m.syncViewport()
		}

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.syncViewport()
		}

	case key.Matches(msg, m.keys.MarkRead):
		rows := m.visible()
		if len(rows) == 0 {
			return m, nil
		}
		id := rows[m.cursor].ID
		return m, func() tea.Msg {
			return MarkReadMsg{ID: id}
		}

	case key.Matches(msg, m.keys.MarkAllRead):
		if m.snap.UnreadCount == 0 {
			return m, nil
		}
		return m, func() tea.Msg {
			return MarkAllReadMsg{}
		}
	}

	return m, nil
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width-4, 10)
	// Border, title line and footer line.
	m.viewport.Height = max(height-4, 3)
	m.syncViewport()
}

// SetLoading toggles the refresh spinner.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// Loading reports whether a refresh is in flight.
func (m Model) Loading() bool {
	return m.loading
}

// IsOpen reports whether the panel is expanded.
func (m Model) IsOpen() bool {
	return m.open
}

// Cursor returns the index of the selected row.
func (m Model) Cursor() int {
	return m.cursor
}

// BellView renders the bell with its badge.
func (m Model) BellView() string {
	bell := "🔔"
	if b := Badge(m.snap.UnreadCount); b != "" {
		bell += " " + theme.BadgeStyle.Render(b)
	}
	if m.loading {
		bell += " " + m.spinner.View()
	}
	return bell
}

// View renders the panel when open, or a one-line summary when closed.
func (m Model) View() string {
	if !m.open {
		return theme.HelpStyle.Render("press n to open notifications")
	}

	title := lipgloss.NewStyle().Bold(true).Render("Notifications")
	if m.snap.UnreadCount > 0 {
		title += "  " + theme.HelpStyle.Render("A mark all read")
	}

	parts := []string{title, m.viewport.View()}
	if footer := Footer(len(m.snap.Records)); footer != "" {
		parts = append(parts, theme.MutedStyle.Render(footer))
	}

	return theme.PanelStyle.
		Width(max(m.width-2, 10)).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) visible() []model.Notification {
	if len(m.snap.Records) > MaxVisible {
		return m.snap.Records[:MaxVisible]
	}
	return m.snap.Records
}

func (m *Model) clampCursor() {
	n := len(m.visible())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// syncViewport re-renders the rows and scrolls the selected one into view.
func (m *Model) syncViewport() {
	rows := m.visible()
	if len(rows) == 0 {
		m.viewport.SetContent(theme.MutedStyle.Render("No notifications"))
		m.viewport.SetYOffset(0)
		return
	}

	now := m.now()
	var b strings.Builder
	top, bottom := 0, 0
	line := 0
	for i, n := range rows {
		r := m.renderRow(n, i == m.cursor, now)
		h := lipgloss.Height(r)
		if i == m.cursor {
			top, bottom = line, line+h
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r)
		line += h
	}
	m.viewport.SetContent(b.String())

	switch {
	case top < m.viewport.YOffset:
		m.viewport.SetYOffset(top)
	case bottom > m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(bottom - m.viewport.Height)
	}
}

func (m Model) renderRow(n model.Notification, selected bool, now time.Time) string {
	width := m.viewport.Width

	title := theme.TitleStyle.Bold(!n.Read).Render(n.Title)
	head := Icon(n.Type.Kind()) + " " + title + "  " + theme.MutedStyle.Render(FormatTime(n.CreatedAt, now))
	if !n.Read {
		head += " " + theme.UnreadDotStyle.Render("●")
	}

	lines := []string{head}
	if n.Message != "" {
		lines = append(lines, n.Message)
	}
	if n.Sender != nil && n.Sender.Username != "" {
		lines = append(lines, theme.MutedStyle.Render("From: "+n.Sender.Username))
	}

	style := theme.RowStyle
	switch {
	case selected:
		style = theme.SelectedRowStyle
	case !n.Read:
		style = theme.UnreadRowStyle
	}
	return style.Width(width).Render(strings.Join(lines, "\n"))
}
