// Package config is the settings view. Changes are written back to the
// YAML config file and take effect on the next start.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
)

// ConfigMode represents the current state of the settings view.
type ConfigMode int

const (
	ModeSummary ConfigMode = iota // Show current settings
	ModeForm                      // Editing
	ModeSaving                    // Writing the file
)

// ConfigDoneMsg signals the settings view should close.
type ConfigDoneMsg struct{}

// SavedMsg reports the outcome of writing the config file.
type SavedMsg struct {
	Config model.AppConfig
	Err    error
}

// saveFunc writes cfg to path. Replaced in tests.
type saveFunc func(path string, cfg *model.AppConfig) error

// settingsBindings holds form values on the heap so huh's pointers stay
// valid across model copies.
type settingsBindings struct {
	baseURL          string
	socketURL        string
	resyncSec        string
	maxRetries       string
	exclusiveRouting bool
	cacheEnabled     bool
	logLevel         string
}

// Model is the Bubble Tea model for the settings view.
type Model struct {
	mode      ConfigMode
	cfg       model.AppConfig
	path      string
	save      saveFunc
	form      *huh.Form
	fb        *settingsBindings
	spinner   spinner.Model
	statusMsg string
	saveErr   error

	keys          *keys.KeyMap
	width, height int
}

// New creates a settings view over cfg, saving to path.
func New(cfg model.AppConfig, path string, k *keys.KeyMap, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		mode:    ModeSummary,
		cfg:     cfg,
		path:    path,
		save:    model.SaveConfig,
		fb:      &settingsBindings{},
		spinner: sp,
		keys:    k,
		width:   width,
		height:  height,
	}
}

// Mode returns the current state.
func (m Model) Mode() ConfigMode {
	return m.mode
}

// Editing reports whether the form has keyboard focus.
func (m Model) Editing() bool {
	return m.mode == ModeForm
}

// Update handles messages for the settings view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SavedMsg:
		m.mode = ModeSummary
		m.saveErr = msg.Err
		if msg.Err == nil {
			m.cfg = msg.Config
			m.statusMsg = "Saved. Restart ticketdesk to apply."
		}
		return m, nil

	case spinner.TickMsg:
		if m.mode != ModeSaving {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	switch m.mode {
	case ModeForm:
		return m.updateForm(msg)
	case ModeSummary:
		if km, ok := msg.(tea.KeyMsg); ok {
			switch {
			case key.Matches(km, m.keys.Back):
				return m, func() tea.Msg { return ConfigDoneMsg{} }
			case key.Matches(km, m.keys.Select), km.String() == "e":
				cmd := m.startForm()
				return m, cmd
			}
		}
	}
	return m, nil
}

func (m *Model) startForm() tea.Cmd {
	c := m.cfg
	*m.fb = settingsBindings{
		baseURL:          c.API.BaseURL,
		socketURL:        c.API.SocketURL,
		resyncSec:        strconv.Itoa(c.Realtime.ResyncIntervalSec),
		maxRetries:       strconv.Itoa(c.Realtime.MaxRetries),
		exclusiveRouting: c.Tickets.ExclusiveRouting,
		cacheEnabled:     c.Cache.Enabled,
		logLevel:         c.Log.Level,
	}
	m.statusMsg = ""
	m.saveErr = nil
	m.mode = ModeForm
	m.form = m.buildForm()
	return m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Placeholder("https://tickets.example.com/api").
				Value(&m.fb.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Push URL").
				Description("Leave empty to derive it from the API URL").
				Value(&m.fb.socketURL).
				Validate(validateOptionalURL),
			huh.NewInput().
				Title("Resync interval (seconds)").
				Value(&m.fb.resyncSec).
				Validate(validateNumber),
			huh.NewInput().
				Title("Reconnect attempts").
				Description("0 retries forever").
				Value(&m.fb.maxRetries).
				Validate(validateNumber),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Self-assigned tickets only under Raised").
				Value(&m.fb.exclusiveRouting),
			huh.NewConfirm().
				Title("Cache lists on disk").
				Value(&m.fb.cacheEnabled),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.fb.logLevel),
		),
	).WithWidth(m.formWidth())
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateAborted:
		m.mode = ModeSummary
		return m, nil
	case huh.StateCompleted:
		m.mode = ModeSaving
		return m, tea.Batch(m.spinner.Tick, m.saveSettings(m.apply()))
	}
	return m, cmd
}

// apply returns the current config with the form values applied.
func (m Model) apply() model.AppConfig {
	c := m.cfg
	c.API.BaseURL = strings.TrimSpace(m.fb.baseURL)
	c.API.SocketURL = strings.TrimSpace(m.fb.socketURL)
	c.Realtime.ResyncIntervalSec, _ = strconv.Atoi(strings.TrimSpace(m.fb.resyncSec))
	c.Realtime.MaxRetries, _ = strconv.Atoi(strings.TrimSpace(m.fb.maxRetries))
	c.Tickets.ExclusiveRouting = m.fb.exclusiveRouting
	c.Cache.Enabled = m.fb.cacheEnabled
	c.Log.Level = m.fb.logLevel
	return c
}

func (m Model) saveSettings(c model.AppConfig) tea.Cmd {
	save, path := m.save, m.path
	return func() tea.Msg {
		return SavedMsg{Config: c, Err: save(path, &c)}
	}
}

// --- View ---

// View renders the settings UI based on the current mode.
func (m Model) View() string {
	switch m.mode {
	case ModeForm:
		return lipgloss.NewStyle().Padding(1, 2).Width(m.width).Height(m.height).Render(m.form.View())
	case ModeSaving:
		return lipgloss.NewStyle().Padding(1, 2).Render(m.spinner.View() + " Saving settings...")
	default:
		return m.viewSummary()
	}
}

func (m Model) viewSummary() string {
	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)
	b.WriteString(titleStyle.Render("Settings"))
	b.WriteString("\n\n")

	label := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(22)
	value := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	c := m.cfg
	socket := c.API.SocketURL
	if socket == "" {
		socket = c.API.SocketEndpoint() + " (derived)"
	}
	for _, row := range [][2]string{
		{"API base URL", c.API.BaseURL},
		{"Push URL", socket},
		{"Resync interval", fmt.Sprintf("%ds", c.Realtime.ResyncIntervalSec)},
		{"Reconnect attempts", retriesLabel(c.Realtime.MaxRetries)},
		{"Exclusive routing", strconv.FormatBool(c.Tickets.ExclusiveRouting)},
		{"Disk cache", strconv.FormatBool(c.Cache.Enabled)},
		{"Log level", c.Log.Level},
		{"Config file", m.path},
	} {
		b.WriteString(label.Render(row[0]) + value.Render(row[1]) + "\n")
	}

	if m.saveErr != nil {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(theme.ColorRed).Render("Save failed: "+m.saveErr.Error()))
	} else if m.statusMsg != "" {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(theme.ColorYellow).Italic(true).Render(m.statusMsg))
	}

	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorGray).Render("e edit | esc back"))

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(b.String())
}

func retriesLabel(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

// --- Helpers ---

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validateOptionalURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return validateURL(s)
}

func validateNumber(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("a number is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("must be a whole number")
		}
	}
	return nil
}
