package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

// BackMsg signals the parent to navigate back to the previous view.
type BackMsg struct{}

// ClosedMsg is sent when the displayed ticket disappears from the cache.
type ClosedMsg struct {
	TicketID string
}

// CommentSubmitMsg asks the parent to post a comment and/or status change.
type CommentSubmitMsg struct {
	TicketID string
	Request  api.CommentRequest
}

// commentBindings lives on the heap so huh's value pointers survive
// model copies.
type commentBindings struct {
	text   string
	status model.Status
}

// Model is the ticket detail view.
type Model struct {
	ticket   *model.Ticket
	viewport viewport.Model
	keys     *keys.KeyMap
	form     *huh.Form
	fb       *commentBindings
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		fb:       &commentBindings{},
		width:    width,
		height:   height,
	}
}

// Show displays t from the top.
func (m *Model) Show(t model.Ticket) {
	m.ticket = &t
	m.form = nil
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// TicketID returns the displayed ticket's ID, or "".
func (m Model) TicketID() string {
	if m.ticket == nil {
		return ""
	}
	return m.ticket.ID
}

// Editing reports whether the comment form is open.
func (m Model) Editing() bool {
	return m.form != nil
}

// Refresh replaces the displayed ticket with the cache's latest copy.
// ok=false means the ticket was deleted; the view then asks to close.
func (m *Model) Refresh(t model.Ticket, ok bool) tea.Cmd {
	if m.ticket == nil {
		return nil
	}
	if !ok {
		id := m.ticket.ID
		m.ticket = nil
		m.form = nil
		return func() tea.Msg { return ClosedMsg{TicketID: id} }
	}
	m.ticket = &t
	m.viewport.SetContent(m.renderContent())
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form != nil {
		return m.updateForm(msg)
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(km, m.keys.Comment):
			if m.ticket != nil && !m.ticket.Pending {
				cmd := m.startComment()
				return m, cmd
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) startComment() tea.Cmd {
	m.fb.text = ""
	m.fb.status = m.ticket.Status

	opts := make([]huh.Option[model.Status], len(model.Statuses))
	for i, s := range model.Statuses {
		opts[i] = huh.NewOption(ticketlist.StatusLabel(s), s)
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[model.Status]().
				Title("Status").
				Options(opts...).
				Value(&m.fb.status),
			huh.NewText().
				Title("Comment").
				Placeholder("Leave empty to only change the status").
				Value(&m.fb.text),
		),
	).WithWidth(min(max(m.width-4, 40), 100))
	return m.form.Init()
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateAborted:
		m.form = nil
		return m, nil
	case huh.StateCompleted:
		m.form = nil
		req := api.CommentRequest{Text: strings.TrimSpace(m.fb.text)}
		if m.fb.status != m.ticket.Status {
			req.Status = m.fb.status
		}
		if req.Text == "" && req.Status == "" {
			return m, nil
		}
		id := m.ticket.ID
		return m, func() tea.Msg { return CommentSubmitMsg{TicketID: id, Request: req} }
	}
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.ticket == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No ticket selected")
	}
	if m.form != nil {
		title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1).
			Render("Update " + m.ticket.Title)
		return lipgloss.NewStyle().Padding(1, 2).Render(title + "\n" + m.form.View())
	}
	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.ticket == nil {
		return ""
	}

	t := m.ticket
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	title := t.Title
	if t.Pending {
		title += theme.PendingStyle.Render("  (sending)")
	}
	sections = append(sections, titleStyle.Render(title))

	badgeLine := lipgloss.JoinHorizontal(
		lipgloss.Top,
		theme.StatusStyle(t.Status).Render(ticketlist.StatusLabel(t.Status)), "  ",
		theme.PriorityStyle(t.Priority).Render(ticketlist.PriorityLabel(t.Priority)),
	)
	sections = append(sections, badgeLine, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(10)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	meta := func(label, value string) {
		if value != "" {
			sections = append(sections, metaStyle.Render(label)+valStyle.Render(value))
		}
	}
	meta("Category:", t.Category)
	meta("Raised by:", t.CreatedBy.DisplayName())
	meta("Assignee:", t.AssignedTo.DisplayName())
	if !t.CreatedAt.IsZero() {
		meta("Created:", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if !t.UpdatedAt.IsZero() {
		meta("Updated:", t.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}

	separator := lipgloss.NewStyle().Foreground(theme.ColorSubtle).
		Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	sections = append(sections, lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).
		MarginBottom(1).Render("Description"))
	body := t.Description
	if body == "" {
		body = lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true).Render("No description")
	}
	sections = append(sections, body)

	if len(t.Comments) > 0 {
		sections = append(sections, "", separator, "")
		sections = append(sections, lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).
			Render(fmt.Sprintf("Comments (%d)", len(t.Comments))), "")

		authorStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)
		timeStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
		for _, c := range t.Comments {
			author := c.AddedBy.DisplayName()
			if author == "" {
				author = "unknown"
			}
			sections = append(sections,
				authorStyle.Render(author)+"  "+timeStyle.Render(ticketlist.RelativeTime(c.CreatedAt)),
				c.Text,
				"",
			)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.ticket != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
