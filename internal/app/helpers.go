package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	appsync "github.com/medfatnasii277/portalbell/internal/sync"
	"github.com/medfatnasii277/portalbell/internal/transport"
)

// storeChangedMsg is sent when the notification store was mutated.
type storeChangedMsg struct{}

// connStateMsg carries a transport state transition.
type connStateMsg struct {
	state transport.State
}

// initDoneMsg is sent once the first load for the identity finished.
type initDoneMsg struct {
	err error
}

// actionDoneMsg is sent when a mark-read request returned.
type actionDoneMsg struct {
	err error
}

// waitForChange returns a tea.Cmd that blocks until the store signals a
// change. Re-issue it after every storeChangedMsg.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

// waitForState returns a tea.Cmd that blocks until the next connection
// state change.
func waitForState(states <-chan transport.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-states
		if !ok {
			return nil
		}
		return connStateMsg{state: s}
	}
}

func initialize(e *appsync.Engine, identity string) tea.Cmd {
	return func() tea.Msg {
		return initDoneMsg{err: e.Initialize(context.Background(), identity)}
	}
}

func markRead(e *appsync.Engine, id int64) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: e.MarkRead(context.Background(), id)}
	}
}

func markAllRead(e *appsync.Engine) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: e.MarkAllRead(context.Background())}
	}
}
