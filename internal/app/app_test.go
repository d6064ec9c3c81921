package app

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfatnasii277/portalbell/internal/api"
	"github.com/medfatnasii277/portalbell/internal/logger"
	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
	appsync "github.com/medfatnasii277/portalbell/internal/sync"
	"github.com/medfatnasii277/portalbell/internal/transport"
)

type stubTransport struct{}

func (stubTransport) Connect(string, transport.Handler) {}
func (stubTransport) Disconnect()                       {}
func (stubTransport) State() transport.State            { return transport.Connected }

type stubAPI struct {
	list []model.Notification
	err  error
}

func (s stubAPI) ListNotifications(context.Context) ([]model.Notification, error) {
	return s.list, s.err
}

func (s stubAPI) UnreadCount(context.Context) (int, error) {
	n := 0
	for _, r := range s.list {
		if !r.Read {
			n++
		}
	}
	return n, s.err
}

func (stubAPI) MarkRead(context.Context, int64) error { return nil }
func (stubAPI) MarkAllRead(context.Context) error      { return nil }

func newTestSession(t *testing.T, a stubAPI) *Session {
	t.Helper()
	engine := appsync.NewEngine(store.NewNotificationStore(), stubTransport{}, a)
	return &Session{
		Identity: "alice",
		Engine:   engine,
		Poller:   appsync.NewPoller(engine, time.Hour),
		States:   make(chan transport.State),
		log:      logger.Get(),
	}
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func TestModel_ShowsBadgeAfterStoreChange(t *testing.T) {
	s := newTestSession(t, stubAPI{list: []model.Notification{
		{ID: 1, Type: model.TypeSystemMessage, Title: "Maintenance", CreatedAt: time.Now()},
	}})
	m := sized(t, New(s))
	t.Cleanup(m.shutdown)

	require.NoError(t, s.Engine.Initialize(context.Background(), "alice"))

	next, _ := m.Update(storeChangedMsg{})
	m = next.(Model)
	next, _ = m.Update(initDoneMsg{})
	m = next.(Model)

	assert.Contains(t, m.panel.BellView(), "1")
	assert.False(t, m.panel.Loading())

	view := m.View()
	assert.Contains(t, view, "portalbell")
	assert.Contains(t, view, "connected")
}

func TestModel_AuthErrorShownInStatusBar(t *testing.T) {
	s := newTestSession(t, stubAPI{})
	m := sized(t, New(s))
	t.Cleanup(m.shutdown)

	next, _ := m.Update(initDoneMsg{err: &api.AuthError{StatusCode: 401}})
	m = next.(Model)

	assert.Contains(t, m.View(), "token rejected, run `portalbell token set`")

	// A clean refresh clears it.
	next, _ = m.Update(appsync.RefreshResultMsg{})
	m = next.(Model)
	assert.NotContains(t, m.View(), "token rejected")
}

func TestModel_HelpToggle(t *testing.T) {
	s := newTestSession(t, stubAPI{})
	m := sized(t, New(s))
	t.Cleanup(m.shutdown)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	m = next.(Model)
	assert.Equal(t, ViewHelp, m.currentView)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.Equal(t, ViewPanel, m.currentView)
}

func TestModel_QuitClosesSession(t *testing.T) {
	s := newTestSession(t, stubAPI{})
	m := sized(t, New(s))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, "", s.Engine.Identity())
}

func TestModel_SpinnerTicksWhileHelpIsOpen(t *testing.T) {
	s := newTestSession(t, stubAPI{})
	m := sized(t, New(s))
	t.Cleanup(m.shutdown)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	m = next.(Model)
	require.Equal(t, ViewHelp, m.currentView)

	tick := m.panel.Init()()
	_, cmd := m.Update(tick)
	assert.NotNil(t, cmd, "the next tick must be scheduled")
}
