package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/theme"
)

// legend explains each connection indicator shown in the header.
var legend = []struct {
	status realtime.Status
	text   string
}{
	{realtime.StatusConnected, "live updates are flowing"},
	{realtime.StatusConnecting, "opening the push channel"},
	{realtime.StatusBackoff, "connection dropped, retrying with backoff"},
	{realtime.StatusFailed, "gave up retrying; press R to reconnect"},
	{realtime.StatusDisconnected, "not signed in or shutting down"},
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	m.help.Width = m.width - 4
	m.help.ShowAll = true

	rows := []string{titleStyle.Render("Keyboard Shortcuts"), m.help.View(m.keys), ""}
	rows = append(rows, titleStyle.Render("Connection"))
	for _, l := range legend {
		name := l.status.String()
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			theme.ConnectionStyle(name).Width(15).Render(name),
			theme.HelpStyle.Render(l.text),
		))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
