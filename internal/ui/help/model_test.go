package help

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medfatnasii277/portalbell/internal/keys"
)

func TestView_ListsKeysAndLegend(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 30)
	m.SetAccount("alice", "http://portal.local/api")

	view := m.View()
	assert.Contains(t, view, "Keyboard Shortcuts")
	assert.Contains(t, view, "mark all read")
	assert.Contains(t, view, "document shared")
	assert.Contains(t, view, "Signed in as alice on http://portal.local/api")
}

func TestView_NoUser(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 30)
	assert.Contains(t, m.View(), "No user configured")
}
