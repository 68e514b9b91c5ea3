// Package notifications renders the notification center.
package notifications

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

// OpenTicketMsg asks the parent to show the ticket a notification refers to.
type OpenTicketMsg struct {
	TicketID string
	// Ticket is the embedded snapshot, when the notification carried one.
	Ticket *model.Ticket
}

// ActionDoneMsg reports the outcome of a mark/delete action.
type ActionDoneMsg struct {
	Action string
	Err    error
}

// Store is the part of the notification store this view drives.
type Store interface {
	List() []model.Notification
	UnreadCount() int
	State() notify.State
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

type item struct {
	n model.Notification
}

func (i item) FilterValue() string { return i.n.Title }

type delegate struct{}

func (delegate) Height() int                         { return 1 }
func (delegate) Spacing() int                        { return 0 }
func (delegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (delegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	n := it.n

	dot := lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("●")
	if n.Read {
		dot = " "
	}
	line := fmt.Sprintf("%s %s  %s", dot, n.Title,
		lipgloss.NewStyle().Foreground(theme.ColorGray).Render(ticketlist.RelativeTime(n.CreatedAt)))
	if n.Ticket.Embedded() {
		line += lipgloss.NewStyle().Foreground(theme.ColorMagenta).Render("  #" + n.Ticket.Ticket.Title)
	}
	if n.Read {
		line = theme.DimmedStyle.Render(line)
	}

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}
	fmt.Fprint(w, line)
}

// Model is the notification center view.
type Model struct {
	list   list.Model
	store  Store
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates the notification center.
func New(s Store, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, delegate{}, width, height-2)
	l.Title = "Notifications"
	l.Styles.Title = theme.HeaderStyle
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	// The root model owns quitting.
	l.KeyMap.Quit.SetEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")
	return Model{list: l, store: s, keys: k, width: width, height: height}
}

// Reload re-reads the store.
func (m *Model) Reload() tea.Cmd {
	ns := m.store.List()
	items := make([]list.Item, len(ns))
	for i, n := range ns {
		items[i] = item{n: n}
	}
	m.list.Title = fmt.Sprintf("Notifications (%d unread)", m.store.UnreadCount())
	return m.list.SetItems(items)
}

func (m Model) selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(item)
	return it.n, ok
}

// Update handles keys for the notification center.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	s := m.store
	switch {
	case key.Matches(km, m.keys.Select):
		n, ok := m.selected()
		if !ok {
			return m, nil
		}
		cmds := []tea.Cmd{}
		if !n.Read {
			cmds = append(cmds, run("mark read", func(ctx context.Context) error {
				return s.MarkAsRead(ctx, n.ID)
			}))
		}
		if id := n.TicketID(); id != "" {
			open := OpenTicketMsg{TicketID: id}
			if n.Ticket.Embedded() {
				t := n.Ticket.Ticket.Clone()
				open.Ticket = &t
			}
			cmds = append(cmds, func() tea.Msg { return open })
		}
		return m, tea.Batch(cmds...)

	case key.Matches(km, m.keys.MarkRead):
		if n, ok := m.selected(); ok && !n.Read {
			return m, run("mark read", func(ctx context.Context) error {
				return s.MarkAsRead(ctx, n.ID)
			})
		}
		return m, nil

	case key.Matches(km, m.keys.MarkAllRead):
		return m, run("mark all read", s.MarkAllAsRead)

	case key.Matches(km, m.keys.Delete):
		if n, ok := m.selected(); ok {
			return m, run("delete", func(ctx context.Context) error {
				return s.Delete(ctx, n.ID)
			})
		}
		return m, nil

	case key.Matches(km, m.keys.ClearAll):
		return m, run("clear all", s.ClearAll)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// run wraps a store action in a tea.Cmd reporting ActionDoneMsg.
func run(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: action, Err: fn(context.Background())}
	}
}

// View renders the list or a placeholder.
func (m Model) View() string {
	if len(m.list.Items()) > 0 {
		return m.list.View()
	}

	text := "No notifications."
	st := m.store.State()
	switch {
	case st.Loading:
		text = "Loading notifications..."
	case st.Err != nil:
		text = "Could not load notifications.\nPress r to retry."
	}
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
