// Package admin renders the administrator dashboard: every ticket, the
// user roster with filters, and the summary report.
package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

// Section is one page of the dashboard.
type Section int

const (
	SectionTickets Section = iota
	SectionUsers
	SectionReports
)

func (s Section) String() string {
	switch s {
	case SectionTickets:
		return "All tickets"
	case SectionUsers:
		return "Users"
	case SectionReports:
		return "Reports"
	default:
		return fmt.Sprintf("Section(%d)", int(s))
	}
}

// Source is the admin part of the API client.
type Source interface {
	AdminTickets(ctx context.Context) ([]model.Ticket, error)
	AdminUsers(ctx context.Context, f api.UserFilter) ([]api.UserStats, error)
	AdminReports(ctx context.Context) (*api.Report, error)
}

// LoadedMsg carries the result of loading one section.
type LoadedMsg struct {
	Section Section
	Tickets []model.Ticket
	Users   []api.UserStats
	Report  *api.Report
	Err     error
}

var roles = []string{string(model.RoleEmployee), string(model.RoleDeveloper), string(model.RoleAdmin)}

// Model is the admin dashboard view.
type Model struct {
	source  Source
	keys    *keys.KeyMap
	section Section
	table   table.Model
	filter  api.UserFilter
	report  *api.Report
	loading bool
	err     error
	width   int
	height  int
}

// New creates the dashboard.
func New(src Source, k *keys.KeyMap, width, height int) Model {
	t := table.New(table.WithFocused(true), table.WithHeight(max(height-4, 3)))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(theme.ColorWhite).
		Background(theme.ColorBlue).
		Bold(false)
	t.SetStyles(styles)

	return Model{source: src, keys: k, table: t, width: width, height: height}
}

// Section returns the visible page.
func (m Model) Section() Section {
	return m.section
}

// Filter returns the user roster filter.
func (m Model) Filter() api.UserFilter {
	return m.filter
}

// Load fetches the visible section.
func (m *Model) Load() tea.Cmd {
	m.loading = true
	src, section, filter := m.source, m.section, m.filter
	return func() tea.Msg {
		ctx := context.Background()
		msg := LoadedMsg{Section: section}
		switch section {
		case SectionTickets:
			msg.Tickets, msg.Err = src.AdminTickets(ctx)
		case SectionUsers:
			msg.Users, msg.Err = src.AdminUsers(ctx, filter)
		case SectionReports:
			msg.Report, msg.Err = src.AdminReports(ctx)
		}
		return msg
	}
}

// Update handles messages for the dashboard.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.Section != m.section {
			return m, nil
		}
		m.loading = false
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.apply(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.SwitchTab):
			m.section = (m.section + 1) % 3
			m.table.SetRows(nil)
			m.report = nil
			cmd := m.Load()
			return m, cmd

		case key.Matches(msg, m.keys.Refresh):
			cmd := m.Load()
			return m, cmd

		case m.section == SectionUsers && key.Matches(msg, m.keys.CycleRole):
			m.filter.Role = next(roles, m.filter.Role)
			cmd := m.Load()
			return m, cmd

		case m.section == SectionUsers && key.Matches(msg, m.keys.CyclePriority):
			m.filter.Priority = next(model.Priorities, m.filter.Priority)
			cmd := m.Load()
			return m, cmd

		case m.section == SectionUsers && key.Matches(msg, m.keys.ClearFilters):
			m.filter = api.UserFilter{}
			cmd := m.Load()
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) apply(msg LoadedMsg) {
	switch msg.Section {
	case SectionTickets:
		rows := make([]table.Row, len(msg.Tickets))
		for i, t := range msg.Tickets {
			rows[i] = table.Row{
				t.Title,
				ticketlist.StatusLabel(t.Status),
				ticketlist.PriorityLabel(t.Priority),
				t.CreatedBy.DisplayName(),
				t.AssignedTo.DisplayName(),
				ticketlist.RelativeTime(t.UpdatedAt),
			}
		}
		m.table.SetRows(nil)
		m.table.SetColumns(m.columns("Title", "Status", "Priority", "Raised by", "Assignee", "Updated"))
		m.table.SetRows(rows)

	case SectionUsers:
		rows := make([]table.Row, len(msg.Users))
		for i, u := range msg.Users {
			rows[i] = table.Row{
				u.Name,
				u.Email,
				u.Role,
				strconv.Itoa(u.TicketsRaised),
				strconv.Itoa(u.TicketsResolved),
			}
		}
		m.table.SetRows(nil)
		m.table.SetColumns(m.columns("Name", "Email", "Role", "Raised", "Resolved"))
		m.table.SetRows(rows)

	case SectionReports:
		m.report = msg.Report
	}
	m.table.GotoTop()
}

// columns spreads the available width evenly over titles.
func (m Model) columns(titles ...string) []table.Column {
	w := max((m.width-2*len(titles))/len(titles), 8)
	cols := make([]table.Column, len(titles))
	for i, t := range titles {
		cols[i] = table.Column{Title: t, Width: w}
	}
	return cols
}

// View renders the section tabs and the active page.
func (m Model) View() string {
	tabs := make([]string, 0, 3)
	for _, s := range []Section{SectionTickets, SectionUsers, SectionReports} {
		style := theme.TabStyle
		if s == m.section {
			style = theme.ActiveTabStyle
		}
		tabs = append(tabs, style.Render(s.String()))
	}
	strip := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	var body string
	switch {
	case m.err != nil:
		body = lipgloss.NewStyle().Foreground(theme.ColorRed).Render("Could not load: " + m.err.Error())
	case m.loading && len(m.table.Rows()) == 0 && m.report == nil:
		body = lipgloss.NewStyle().Foreground(theme.ColorGray).Render("Loading...")
	case m.section == SectionReports:
		body = m.renderReport()
	default:
		body = m.table.View()
	}

	rows := []string{strip}
	if m.section == SectionUsers {
		rows = append(rows, theme.HelpStyle.Render(m.filterSummary()))
	} else {
		rows = append(rows, "")
	}
	rows = append(rows, body)
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) filterSummary() string {
	role, pri := "any", "any"
	if m.filter.Role != "" {
		role = m.filter.Role
	}
	if m.filter.Priority != "" {
		pri = string(m.filter.Priority)
	}
	return fmt.Sprintf("role: %s  priority: %s  (o/p to cycle, 0 to clear)", role, pri)
}

func (m Model) renderReport() string {
	if m.report == nil {
		return ""
	}
	r := m.report
	label := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(16)
	value := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	line := func(name string, n int, style lipgloss.Style) string {
		return label.Render(name) + style.Inherit(value).Render(strconv.Itoa(n))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		line("Total tickets", r.TotalTickets, lipgloss.NewStyle()),
		line("Open", r.Open, theme.StatusStyle(model.StatusOpen).UnsetPadding()),
		line("Resolved", r.Resolved, theme.StatusStyle(model.StatusResolved).UnsetPadding()),
		"",
		line("High", r.High, theme.PriorityStyle(model.PriorityHigh)),
		line("Medium", r.Medium, theme.PriorityStyle(model.PriorityMedium)),
		line("Low", r.Low, theme.PriorityStyle(model.PriorityLow)),
	)
}

// SetSize updates the dashboard dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.table.SetWidth(width)
	m.table.SetHeight(max(height-4, 3))
	if cols := m.table.Columns(); len(cols) > 0 {
		titles := make([]string, len(cols))
		for i, c := range cols {
			titles[i] = c.Title
		}
		m.table.SetColumns(m.columns(titles...))
	}
}

// next returns the value after cur, wrapping to the zero value after the
// last one.
func next[T comparable](values []T, cur T) T {
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
