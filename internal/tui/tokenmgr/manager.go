// Package tokenmgr is an interactive picker for API token scopes.
package tokenmgr

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/channelgw/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

type model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ": // Space to toggle
			i, ok := m.list.SelectedItem().(item)
			if ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			var selected []string
			for _, li := range m.list.Items() {
				if it, ok := li.(item); ok && it.selected {
					selected = append(selected, it.scope)
				}
			}
			m.scopes = selected
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected scopes: %s", strings.Join(m.scopes, ", ")))
	}
	return "\n" + m.list.View()
}

// Scope is a selectable token scope.
type Scope struct {
	Name        string
	Description string
}

// Scopes lists every scope a gateway token can carry.
var Scopes = []Scope{
	{auth.ScopeAll, "Full administrative access (all scopes)"},
	{auth.ScopeEventsRead, "Real-time lifecycle event stream (SSE)"},
	{auth.ScopeBroadcast, "Publish broadcasts to any topic"},
	{auth.ScopeSocketsRead, "List live connections and session history"},
	{auth.ScopeSockets, "Disconnect sockets by id"},
	{auth.ScopeRoomsRead, "Join chat rooms and read history"},
	{auth.ScopeRoomsWrite, "Post messages to chat rooms"},
}

// New returns a picker over scopes, with preselected ones checked.
func New(scopes []Scope, preselected ...string) *model {
	checked := make(map[string]bool, len(preselected))
	for _, s := range preselected {
		checked[s] = true
	}

	items := make([]list.Item, 0, len(scopes))
	for _, s := range scopes {
		items = append(items, item{scope: s.Name, desc: s.Description, selected: checked[s.Name]})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Scopes (Space to toggle, Enter to confirm)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &model{list: l}
}

// Run shows the picker and returns the chosen scopes. ok is false when the
// user cancelled.
func Run(scopes []Scope, preselected ...string) (selected []string, ok bool, err error) {
	final, err := tea.NewProgram(*New(scopes, preselected...)).Run()
	if err != nil {
		return nil, false, err
	}
	m, isModel := final.(model)
	if !isModel || !m.done {
		return nil, false, nil
	}
	return m.scopes, true, nil
}

func (m model) SelectedScopes() []string {
	return m.scopes
}
