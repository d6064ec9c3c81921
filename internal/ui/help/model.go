// Package help renders the keyboard and legend overlay.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/medfatnasii277/portalbell/internal/keys"
	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/theme"
	"github.com/medfatnasii277/portalbell/internal/ui/notifications"
)

var headingStyle = theme.TitleStyle.Bold(true)

var legendKinds = []struct {
	typ   model.Type
	label string
}{
	{model.TypeDocumentShared, "document shared"},
	{model.TypeDocumentAccessed, "document accessed"},
	{model.TypeSystemMessage, "system message"},
	{"", "other"},
}

// Model is the help overlay: key bindings, icon legend and the account the
// session runs as.
type Model struct {
	keys     *keys.KeyMap
	help     help.Model
	identity string
	server   string
	width    int
	height   int
}

// New creates a help overlay sized width x height.
func New(k *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	m := Model{keys: k, help: h}
	m.SetSize(width, height)
	return m
}

// SetAccount sets the identity and server shown at the bottom.
func (m *Model) SetAccount(identity, server string) {
	m.identity = identity
	m.server = server
}

func (m Model) Init() tea.Cmd { return nil }

// Update is a no-op; the root model closes the overlay.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

func (m Model) View() string {
	sections := []string{
		headingStyle.MarginBottom(1).Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		headingStyle.Render("Icons"),
		m.legend(),
		"",
		theme.MutedStyle.Render("The bell counts unread notifications and caps at 99+."),
	}
	if acct := m.account(); acct != "" {
		sections = append(sections, theme.MutedStyle.Render(acct))
	}

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) legend() string {
	parts := make([]string, 0, len(legendKinds)+1)
	for _, k := range legendKinds {
		parts = append(parts, notifications.Icon(k.typ.Kind())+" "+k.label)
	}
	parts = append(parts, theme.UnreadDotStyle.Render("●")+" unread")
	return strings.Join(parts, "  ")
}

func (m Model) account() string {
	switch {
	case m.identity == "":
		return "No user configured. Set user.username in the config file."
	case m.server == "":
		return "Signed in as " + m.identity
	default:
		return fmt.Sprintf("Signed in as %s on %s", m.identity, m.server)
	}
}

// SetSize updates the overlay dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = max(width-4, 0)
}
