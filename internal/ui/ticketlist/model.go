package ticketlist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/tickets"
)

// SelectedTicketMsg is sent when a user selects a ticket to view details.
type SelectedTicketMsg struct {
	TicketID string
}

// Tab selects which collection the list shows.
type Tab int

const (
	TabRaised Tab = iota
	TabAssigned
)

func (t Tab) String() string {
	if t == TabAssigned {
		return "Assigned to me"
	}
	return "Raised by me"
}

// Source is the read side of the ticket cache the list renders.
type Source interface {
	Raised(f tickets.Filter) []model.Ticket
	Assigned(f tickets.Filter) []model.Ticket
	State() tickets.State
}

// Model is the raised/assigned ticket list view.
type Model struct {
	list   list.Model
	source Source
	keys   *keys.KeyMap
	tab    Tab
	filter tickets.Filter
	width  int
	height int
}

// New creates a new ticket list model.
func New(src Source, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	// The root model owns quitting.
	l.KeyMap.Quit.SetEnabled(false)
	l.SetStatusBarItemName("ticket", "tickets")

	return Model{
		list:   l,
		source: src,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return m.Reload()
}

// Reload re-reads the current tab from the cache.
func (m *Model) Reload() tea.Cmd {
	var ts []model.Ticket
	if m.tab == TabAssigned {
		ts = m.source.Assigned(m.filter)
	} else {
		ts = m.source.Raised(m.filter)
	}

	items := make([]list.Item, len(ts))
	for i, t := range ts {
		items[i] = TicketItem{Ticket: t}
	}
	m.list.SetDelegate(ItemDelegate{Assigned: m.tab == TabAssigned})
	return m.list.SetItems(items)
}

// Update handles messages for the ticket list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Select):
			item, ok := m.list.SelectedItem().(TicketItem)
			if !ok || item.Ticket.Pending {
				return m, nil
			}
			id := item.Ticket.ID
			return m, func() tea.Msg {
				return SelectedTicketMsg{TicketID: id}
			}

		case key.Matches(msg, m.keys.SwitchTab):
			m.tab = 1 - m.tab
			m.list.ResetSelected()
			cmd := m.Reload()
			return m, cmd

		case key.Matches(msg, m.keys.CyclePriority):
			m.filter.Priority = cycle(model.Priorities, m.filter.Priority)
			cmd := m.Reload()
			return m, cmd

		case key.Matches(msg, m.keys.CycleStatus):
			m.filter.Status = cycle(model.Statuses, m.filter.Status)
			cmd := m.Reload()
			return m, cmd

		case key.Matches(msg, m.keys.ClearFilters):
			m.filter = tickets.Filter{}
			cmd := m.Reload()
			return m, cmd
		}
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// cycle advances cur through "", values[0], ..., values[n-1], "".
func cycle[T comparable](values []T, cur T) T {
	var zero T
	if cur == zero {
		return values[0]
	}
	for i, v := range values {
		if v == cur && i+1 < len(values) {
			return values[i+1]
		}
	}
	return zero
}

// View renders the tab strip and the list.
func (m Model) View() string {
	tabs := make([]string, 0, 2)
	for _, t := range []Tab{TabRaised, TabAssigned} {
		style := theme.TabStyle
		if t == m.tab {
			style = theme.ActiveTabStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}
	strip := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = m.renderEmptyState()
	}
	return lipgloss.JoinVertical(lipgloss.Left, strip, "", body)
}

// renderEmptyState shows guidance text when the tab is empty.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-2).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.source.State().Loading:
		return style.Render("Loading tickets...")
	case !m.filter.IsZero():
		return style.Render("No matching tickets.\nPress 0 to clear filters.")
	case m.tab == TabAssigned:
		return style.Render("Nothing is assigned to you.")
	default:
		return style.Render("You have not raised any tickets.\n\nPress n to raise one.")
	}
}

// FilterSummary describes the active filters, or "" when none are set.
func (m Model) FilterSummary() string {
	if m.filter.IsZero() {
		return ""
	}
	s := "filter:"
	if m.filter.Priority != "" {
		s += " priority=" + string(m.filter.Priority)
	}
	if m.filter.Status != "" {
		s += " status=" + string(m.filter.Status)
	}
	return s
}

// Tab returns the visible collection.
func (m Model) Tab() Tab { return m.tab }

// Filter returns the active filter.
func (m Model) Filter() tickets.Filter { return m.filter }

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
