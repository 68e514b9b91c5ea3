// Package ticketform is the raise-a-ticket form.
package ticketform

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

// SubmitMsg is dispatched when the form is completed.
type SubmitMsg struct {
	Request api.CreateTicketRequest
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	title       string
	description string
	priority    model.Priority
	category    string
	assignee    string
}

// Model is the Bubble Tea model for the ticket form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	users  []model.User
	self   string
	width  int
	height int
}

// New creates a new ticket form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{priority: model.PriorityMedium},
		width:  width,
		height: height,
	}
}

// SetAssignees sets the users offered in the assignee picker. selfID is
// left out of the options.
func (m *Model) SetAssignees(users []model.User, selfID string) {
	m.users = users
	m.self = selfID
}

// Start resets the fields and builds a fresh form.
func (m *Model) Start() tea.Cmd {
	*m.fb = formBindings{priority: model.PriorityMedium, category: model.DefaultCategory}
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the ticket form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the ticket form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(titleStyle.Render("Raise a ticket") + "\n" + m.form.View())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	priorities := make([]huh.Option[model.Priority], len(model.Priorities))
	for i, p := range model.Priorities {
		priorities[i] = huh.NewOption(ticketlist.PriorityLabel(p), p)
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Title").
			Placeholder("Short summary of the problem").
			Value(&m.fb.title).
			Validate(validateRequired("Title")),
		huh.NewText().
			Title("Description").
			Placeholder("What happened? What did you expect?").
			Value(&m.fb.description).
			Validate(validateRequired("Description")),
		huh.NewSelect[model.Priority]().
			Title("Priority").
			Options(priorities...).
			Value(&m.fb.priority),
		huh.NewInput().
			Title("Category").
			Placeholder(model.DefaultCategory).
			Value(&m.fb.category),
	}
	if opts := m.assigneeOptions(); len(opts) > 1 {
		fields = append(fields, huh.NewSelect[string]().
			Title("Assign to").
			Options(opts...).
			Value(&m.fb.assignee))
	}

	return huh.NewForm(
		huh.NewGroup(fields...),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m *Model) assigneeOptions() []huh.Option[string] {
	opts := []huh.Option[string]{huh.NewOption("Unassigned", "")}
	for _, u := range m.users {
		if u.ID == m.self {
			continue
		}
		label := u.DisplayName()
		if u.Role != "" {
			label = fmt.Sprintf("%s (%s)", label, u.Role)
		}
		opts = append(opts, huh.NewOption(label, u.ID))
	}
	return opts
}

func (m Model) handleSubmit() tea.Cmd {
	req := api.CreateTicketRequest{
		Title:       strings.TrimSpace(m.fb.title),
		Description: strings.TrimSpace(m.fb.description),
		Priority:    m.fb.priority,
		Category:    strings.TrimSpace(m.fb.category),
		AssignedTo:  m.fb.assignee,
	}
	if req.Category == "" {
		req.Category = model.DefaultCategory
	}
	return func() tea.Msg { return SubmitMsg{Request: req} }
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func (m Model) formHeight() int {
	return max(m.height-4, 10)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
