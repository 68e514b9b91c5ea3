// Package auth renders the sign-in and registration forms.
package auth

import (
	"fmt"
	"net/mail"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
)

// Mode selects which form is shown.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
)

// LoginMsg is dispatched when the sign-in form is completed.
type LoginMsg struct {
	Request api.LoginRequest
}

// RegisterMsg is dispatched when the registration form is completed.
type RegisterMsg struct {
	Request api.RegisterRequest
}

// QuitMsg is dispatched when the user aborts the form.
type QuitMsg struct{}

type formBindings struct {
	name     string
	email    string
	password string
	role     model.Role
}

// Model holds whichever auth form is active.
type Model struct {
	mode   Mode
	form   *huh.Form
	fb     *formBindings
	err    string
	width  int
	height int
}

// New creates the auth view in sign-in mode.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{role: model.RoleEmployee},
		width:  width,
		height: height,
	}
}

// Mode returns the active form.
func (m Model) Mode() Mode {
	return m.mode
}

// Start builds a fresh form for mode, keeping the email typed so far.
func (m *Model) Start(mode Mode) tea.Cmd {
	m.mode = mode
	m.fb.password = ""
	if mode == ModeLogin {
		m.form = m.loginForm()
	} else {
		m.form = m.registerForm()
	}
	return m.form.Init()
}

// Fail shows err and reopens the current form.
func (m *Model) Fail(err error) tea.Cmd {
	m.err = err.Error()
	return m.Start(m.mode)
}

// Update handles messages for the auth view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "ctrl+r" {
		m.err = ""
		if m.mode == ModeLogin {
			cmd := m.Start(ModeRegister)
			return m, cmd
		}
		cmd := m.Start(ModeLogin)
		return m, cmd
	}
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateAborted:
		return m, func() tea.Msg { return QuitMsg{} }
	case huh.StateCompleted:
		m.err = ""
		return m, m.submit()
	}
	return m, cmd
}

func (m Model) submit() tea.Cmd {
	email := strings.TrimSpace(m.fb.email)
	if m.mode == ModeLogin {
		req := api.LoginRequest{Email: email, Password: m.fb.password}
		return func() tea.Msg { return LoginMsg{Request: req} }
	}
	req := api.RegisterRequest{
		Name:     strings.TrimSpace(m.fb.name),
		Email:    email,
		Password: m.fb.password,
		Role:     m.fb.role,
	}
	return func() tea.Msg { return RegisterMsg{Request: req} }
}

// View renders the active form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	title, hint := "Sign in", "ctrl+r: create an account"
	if m.mode == ModeRegister {
		title, hint = "Create an account", "ctrl+r: back to sign in"
	}

	rows := []string{
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1).Render(title),
	}
	if m.err != "" {
		rows = append(rows, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.err), "")
	}
	rows = append(rows, m.form.View(), theme.HelpStyle.Render(hint))

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) emailField() huh.Field {
	return huh.NewInput().
		Title("Email").
		Value(&m.fb.email).
		Validate(validateEmail)
}

func (m *Model) passwordField(minLen int) huh.Field {
	return huh.NewInput().
		Title("Password").
		EchoMode(huh.EchoModePassword).
		Value(&m.fb.password).
		Validate(func(s string) error {
			if len(s) < minLen {
				if minLen <= 1 {
					return fmt.Errorf("password is required")
				}
				return fmt.Errorf("password needs at least %d characters", minLen)
			}
			return nil
		})
}

func (m *Model) loginForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(m.emailField(), m.passwordField(1)),
	).WithWidth(m.formWidth())
}

func (m *Model) registerForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Value(&m.fb.name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),
			m.emailField(),
			m.passwordField(6),
			huh.NewSelect[model.Role]().
				Title("Role").
				Options(
					huh.NewOption("Employee", model.RoleEmployee),
					huh.NewOption("Developer", model.RoleDeveloper),
				).
				Value(&m.fb.role),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 70)
}

func validateEmail(s string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("enter a valid email address")
	}
	return nil
}
