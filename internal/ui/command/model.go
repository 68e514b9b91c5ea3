// Package command implements the ":" command palette.
package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/theme"
)

// Name identifies a palette command.
type Name string

const (
	Refresh       Name = "refresh"
	Reconnect     Name = "reconnect"
	Tickets       Name = "tickets"
	Notifications Name = "notifications"
	NewTicket     Name = "new"
	Admin         Name = "admin"
	Settings      Name = "settings"
	ReadAll       Name = "read-all"
	ClearAll      Name = "clear-notifications"
	Logout        Name = "logout"
	Help          Name = "help"
	Quit          Name = "quit"
)

// Commands lists every palette command with a short description.
var Commands = []struct {
	Name Name
	Desc string
}{
	{Refresh, "refetch tickets and notifications"},
	{Reconnect, "reconnect the push channel"},
	{Tickets, "show ticket lists"},
	{Notifications, "show notifications"},
	{NewTicket, "raise a ticket"},
	{Admin, "open the admin console"},
	{Settings, "edit settings"},
	{ReadAll, "mark every notification read"},
	{ClearAll, "delete every notification"},
	{Logout, "sign out"},
	{Help, "show keybindings"},
	{Quit, "exit ticketdesk"},
}

// CommandMsg is emitted when the user executes a known command.
type CommandMsg struct {
	Name Name
	Args []string
}

// CancelMsg is emitted when the palette is dismissed.
type CancelMsg struct{}

// Parse splits line into a known command and its arguments.
func Parse(line string) (CommandMsg, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandMsg{}, fmt.Errorf("empty command")
	}
	name := Name(strings.ToLower(fields[0]))
	if name == "q" {
		name = Quit
	}
	for _, c := range Commands {
		if c.Name == name {
			return CommandMsg{Name: name, Args: fields[1:]}, nil
		}
	}
	return CommandMsg{}, fmt.Errorf("unknown command %q", fields[0])
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    error
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	suggestions := make([]string, len(Commands))
	for i, c := range Commands {
		suggestions[i] = string(c.Name)
	}
	ti.SetSuggestions(suggestions)
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "esc":
			m.input.Reset()
			m.err = nil
			return m, func() tea.Msg { return CancelMsg{} }
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			cmd, err := Parse(line)
			if err != nil {
				m.err = err
				return m, nil
			}
			m.input.Reset()
			m.err = nil
			return m, func() tea.Msg { return cmd }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Command Palette"), m.input.View()}
	if m.err != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.err.Error()))
	}

	desc := lipgloss.NewStyle().Foreground(theme.ColorGray)
	var b strings.Builder
	for _, c := range Commands {
		fmt.Fprintf(&b, "%-22s%s\n", c.Name, desc.Render(c.Desc))
	}
	parts = append(parts, "", strings.TrimRight(b.String(), "\n"))

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.err = nil
	return m.input.Focus()
}

// Blur removes keyboard focus.
func (m *Model) Blur() {
	m.input.Blur()
}
