package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/store"
	appsync "github.com/nhle/ticketdesk/internal/sync"
	"github.com/nhle/ticketdesk/internal/theme"
	"github.com/nhle/ticketdesk/internal/tickets"
	"github.com/nhle/ticketdesk/internal/ui"
	"github.com/nhle/ticketdesk/internal/ui/admin"
	"github.com/nhle/ticketdesk/internal/ui/auth"
	"github.com/nhle/ticketdesk/internal/ui/command"
	configview "github.com/nhle/ticketdesk/internal/ui/config"
	"github.com/nhle/ticketdesk/internal/ui/detail"
	helpview "github.com/nhle/ticketdesk/internal/ui/help"
	"github.com/nhle/ticketdesk/internal/ui/notifications"
	"github.com/nhle/ticketdesk/internal/ui/ticketform"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewTickets
	ViewNotifications
	ViewDetail
	ViewTicketForm
	ViewAdmin
	ViewSettings
	ViewCommand
	ViewHelp
)

// Result messages of the commands the root model issues.
type (
	resumedMsg struct {
		session model.Session
		err     error
	}
	signedInMsg struct {
		session model.Session
		err     error
	}
	signedOutMsg struct {
		err     error
		expired bool
	}
	assigneesMsg struct {
		users []model.User
		err   error
	}
	cacheSummaryMsg struct {
		summary store.Summary
		err     error
	}
	ticketCreatedMsg struct{ err error }
	commentedMsg     struct{ err error }
	refreshedMsg     struct{ err error }
	lookupMsg        struct {
		ticket *model.Ticket
		err    error
	}
)

// Model is the root Bubble Tea model. It routes between views and
// bridges the sync coordinator's messages into them.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	coord        *appsync.Coordinator
	logger       *slog.Logger
	keys         *keys.KeyMap

	authView      auth.Model
	ticketList    ticketlist.Model
	notifications notifications.Model
	detail        detail.Model
	ticketForm    ticketform.Model
	adminView     admin.Model
	settingsView  configview.Model
	commandView   command.Model
	helpView      helpview.Model

	// hasSettings is false until WithSettings supplies a config file.
	hasSettings bool

	session model.Session
	status  realtime.Status
	unread  int
	errMsg  string

	// lastSynced is when the lists were last persisted, shown while
	// the push connection is offline.
	lastSynced time.Time
	ready   bool

	// detailTracked records whether the open ticket was in the cache
	// when it was opened; only tracked tickets close on disappearance.
	detailTracked bool
}

// New creates the root model driving coord.
func New(coord *appsync.Coordinator, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	k := keys.DefaultKeyMap()
	return Model{
		currentView:   ViewLogin,
		coord:         coord,
		logger:        logger.With("component", "app"),
		keys:          k,
		authView:      auth.New(80, 24),
		ticketList:    ticketlist.New(coord.Tickets(), k, 80, 24),
		notifications: notifications.New(coord.Notes(), k, 80, 24),
		detail:        detail.New(k, 80, 24),
		ticketForm:    ticketform.New(80, 24),
		adminView:     admin.New(coord.Client(), k, 80, 24),
		commandView:   command.New(80, 24),
		helpView:      helpview.New(k, 80, 24),
	}
}

// WithSettings enables the settings view, editing cfg and saving it to
// path.
func (m Model) WithSettings(cfg model.AppConfig, path string) Model {
	m.settingsView = configview.New(cfg, path, m.keys, 80, 24)
	m.hasSettings = true
	return m
}

// Init resumes the persisted session and starts listening for sync
// messages.
func (m Model) Init() tea.Cmd {
	coord := m.coord
	return tea.Batch(
		func() tea.Msg {
			s, err := coord.Resume(context.Background())
			return resumedMsg{session: s, err: err}
		},
		coord.WaitForNext(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.authView.SetSize(w, h)
		m.ticketList.SetSize(w, h)
		m.notifications.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.ticketForm.SetSize(w, h)
		m.adminView.SetSize(w, h)
		m.settingsView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	// Sync bridge. Every handler re-arms WaitForNext.
	case appsync.NotificationsMsg:
		m.unread = m.coord.Notes().UnreadCount()
		cmd := tea.Batch(m.notifications.Reload(), m.coord.WaitForNext())
		return m, cmd

	case appsync.TicketsMsg:
		cmd := tea.Batch(m.ticketList.Reload(), m.refreshDetail(msg.Event), m.coord.WaitForNext())
		return m, cmd

	case appsync.ConnStatusMsg:
		m.status = msg.Status
		if msg.Status == realtime.StatusFailed {
			return m, tea.Batch(m.loadCacheSummary(), m.coord.WaitForNext())
		}
		return m, m.coord.WaitForNext()

	case cacheSummaryMsg:
		if msg.err != nil {
			m.logger.Warn("reading cache summary", "error", msg.err)
		}
		m.lastSynced = msg.summary.LastSaved()
		return m, nil

	case appsync.SessionMsg:
		m.session = msg.Session
		if !msg.Session.Active() {
			m.status = realtime.StatusDisconnected
			m.unread = 0
			m.lastSynced = time.Time{}
		}
		return m, m.coord.WaitForNext()

	case appsync.AuthExpiredMsg:
		m.logger.Warn("session rejected by server", "error", msg.Err)
		return m, tea.Batch(m.signOut(true), m.coord.WaitForNext())

	// Session lifecycle.
	case resumedMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, credential.ErrNoSession) {
				m.errMsg = "Could not restore session: " + msg.err.Error()
			}
			cmd := m.showLogin(auth.ModeLogin)
			return m, cmd
		}
		return m.enter(msg.session)

	case signedInMsg:
		if msg.err != nil {
			cmd := m.authView.Fail(friendly(msg.err))
			return m, cmd
		}
		if !msg.session.Active() {
			// Registered without being signed in.
			m.errMsg = "Account created, sign in to continue"
			cmd := m.showLogin(auth.ModeLogin)
			return m, cmd
		}
		return m.enter(msg.session)

	case signedOutMsg:
		m.session = model.Session{}
		m.errMsg = ""
		if msg.err != nil {
			m.errMsg = "Signed out with errors: " + msg.err.Error()
		}
		if msg.expired {
			m.errMsg = "Your session expired, sign in again"
		}
		cmd := m.showLogin(auth.ModeLogin)
		return m, cmd

	case auth.LoginMsg:
		coord := m.coord
		return m, func() tea.Msg {
			s, err := coord.Login(context.Background(), msg.Request)
			return signedInMsg{session: s, err: err}
		}

	case auth.RegisterMsg:
		coord := m.coord
		return m, func() tea.Msg {
			s, err := coord.Register(context.Background(), msg.Request)
			return signedInMsg{session: s, err: err}
		}

	case auth.QuitMsg:
		return m, tea.Quit

	// Tickets.
	case ticketlist.SelectedTicketMsg:
		t, ok := m.coord.Tickets().Get(msg.TicketID)
		if !ok {
			return m, nil
		}
		m.openDetail(t, true)
		return m, nil

	case notifications.OpenTicketMsg:
		if t, ok := m.coord.Tickets().Get(msg.TicketID); ok {
			m.openDetail(t, true)
			return m, nil
		}
		if msg.Ticket != nil {
			m.openDetail(*msg.Ticket, false)
		}
		cache := m.coord.Tickets()
		id := msg.TicketID
		return m, func() tea.Msg {
			t, err := cache.Lookup(context.Background(), id)
			return lookupMsg{ticket: t, err: err}
		}

	case lookupMsg:
		if msg.err != nil {
			m.errMsg = "Could not open ticket: " + friendly(msg.err).Error()
			return m, nil
		}
		_, tracked := m.coord.Tickets().Get(msg.ticket.ID)
		if m.currentView == ViewDetail && m.detail.TicketID() == msg.ticket.ID {
			m.detailTracked = tracked
			cmd := m.detail.Refresh(*msg.ticket, true)
			return m, cmd
		}
		m.openDetail(*msg.ticket, tracked)
		return m, nil

	case detail.BackMsg:
		m.currentView = m.previousView
		return m, nil

	case detail.ClosedMsg:
		m.errMsg = "The ticket was deleted"
		m.currentView = ViewTickets
		return m, nil

	case detail.CommentSubmitMsg:
		cache := m.coord.Tickets()
		return m, func() tea.Msg {
			_, err := cache.Comment(context.Background(), msg.TicketID, msg.Request)
			return commentedMsg{err: err}
		}

	case commentedMsg:
		if msg.err != nil {
			m.errMsg = "Could not update ticket: " + friendly(msg.err).Error()
		}
		return m, nil

	case assigneesMsg:
		if m.currentView != ViewTicketForm {
			return m, nil
		}
		if msg.err != nil {
			// The form still works without the picker.
			m.logger.Warn("loading assignees failed", "error", msg.err)
		}
		m.ticketForm.SetAssignees(msg.users, m.session.UserID())
		cmd := m.ticketForm.Start()
		return m, cmd

	case ticketform.SubmitMsg:
		m.currentView = ViewTickets
		coord := m.coord
		return m, func() tea.Msg {
			_, err := coord.CreateTicket(context.Background(), msg.Request)
			return ticketCreatedMsg{err: err}
		}

	case ticketform.CancelMsg:
		m.currentView = ViewTickets
		return m, nil

	case ticketCreatedMsg:
		if msg.err != nil {
			m.errMsg = "Could not raise ticket: " + friendly(msg.err).Error()
		}
		return m, nil

	// Notifications.
	case notifications.ActionDoneMsg:
		if msg.Err != nil {
			m.errMsg = fmt.Sprintf("Could not %s: %v", msg.Action, friendly(msg.Err))
		}
		return m, nil

	// Palette and settings.
	case command.CommandMsg:
		return m.executeCommand(msg)

	case command.CancelMsg:
		m.commandView.Blur()
		m.currentView = m.previousView
		return m, nil

	case configview.ConfigDoneMsg:
		m.currentView = ViewTickets
		return m, nil

	case configview.SavedMsg:
		if msg.Err != nil {
			m.logger.Error("saving settings failed", "error", msg.Err)
		}
		m.settingsView, _ = m.settingsView.Update(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.settingsView, cmd = m.settingsView.Update(msg)
		return m, cmd

	case refreshedMsg:
		if msg.err != nil {
			m.errMsg = "Refresh failed: " + friendly(msg.err).Error()
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.capturesInput() {
			break
		}
		m.errMsg = ""
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKey handles keys that work across views.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.currentView == ViewTickets {
			return tea.Quit, true
		}

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.navigate(ViewHelp)
		return nil, true

	case key.Matches(msg, m.keys.Back):
		switch m.currentView {
		case ViewHelp, ViewNotifications, ViewAdmin:
			m.currentView = ViewTickets
			return nil, true
		}

	case key.Matches(msg, m.keys.Notifications):
		if m.currentView != ViewNotifications {
			m.navigate(ViewNotifications)
			return m.notifications.Reload(), true
		}

	case key.Matches(msg, m.keys.NewTicket):
		if m.currentView == ViewTickets {
			return m.startNewTicket()
		}

	case key.Matches(msg, m.keys.Admin):
		if m.currentView == ViewTickets {
			return m.openAdmin()
		}

	case key.Matches(msg, m.keys.Settings):
		if m.hasSettings && m.currentView != ViewSettings {
			m.navigate(ViewSettings)
			return nil, true
		}

	case key.Matches(msg, m.keys.Command):
		m.navigate(ViewCommand)
		return m.commandView.Focus(), true

	case key.Matches(msg, m.keys.Logout):
		return m.signOut(false), true

	case key.Matches(msg, m.keys.Reconnect):
		m.coord.Retry()
		return nil, true

	case key.Matches(msg, m.keys.Refresh):
		if m.currentView == ViewAdmin {
			return nil, false
		}
		return m.refresh(), true
	}
	return nil, false
}

func (m *Model) startNewTicket() (tea.Cmd, bool) {
	if m.session.User == nil || !m.session.User.Role.CanRaiseTickets() {
		return nil, false
	}
	m.navigate(ViewTicketForm)
	client := m.coord.Client()
	return func() tea.Msg {
		users, err := client.ListUsers(context.Background())
		return assigneesMsg{users: users, err: err}
	}, true
}

func (m *Model) openAdmin() (tea.Cmd, bool) {
	if m.session.User == nil || !m.session.User.Role.IsAdmin() {
		return nil, false
	}
	m.navigate(ViewAdmin)
	return m.adminView.Load(), true
}

func (m Model) loadCacheSummary() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		sum, err := coord.CacheSummary(context.Background())
		return cacheSummaryMsg{summary: sum, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		return refreshedMsg{err: coord.Refresh(context.Background())}
	}
}

// executeCommand runs a palette command from the view the palette was
// opened over.
func (m Model) executeCommand(c command.CommandMsg) (tea.Model, tea.Cmd) {
	m.commandView.Blur()
	m.currentView = m.previousView
	if !m.session.Active() && c.Name != command.Quit {
		m.errMsg = "Sign in first"
		return m, nil
	}

	switch c.Name {
	case command.Refresh:
		return m, m.refresh()
	case command.Reconnect:
		m.coord.Retry()
	case command.Tickets:
		m.currentView = ViewTickets
	case command.Notifications:
		m.navigate(ViewNotifications)
		cmd := m.notifications.Reload()
		return m, cmd
	case command.NewTicket:
		if cmd, ok := m.startNewTicket(); ok {
			return m, cmd
		}
		m.errMsg = "Your role cannot raise tickets"
	case command.Admin:
		if cmd, ok := m.openAdmin(); ok {
			return m, cmd
		}
		m.errMsg = "The admin console is for admins only"
	case command.Settings:
		if !m.hasSettings {
			m.errMsg = "No config file to edit"
			return m, nil
		}
		m.navigate(ViewSettings)
	case command.ReadAll:
		notes := m.coord.Notes()
		return m, func() tea.Msg {
			return notifications.ActionDoneMsg{Action: "mark all read", Err: notes.MarkAllAsRead(context.Background())}
		}
	case command.ClearAll:
		notes := m.coord.Notes()
		return m, func() tea.Msg {
			return notifications.ActionDoneMsg{Action: "clear notifications", Err: notes.ClearAll(context.Background())}
		}
	case command.Logout:
		return m, m.signOut(false)
	case command.Help:
		m.navigate(ViewHelp)
	case command.Quit:
		return m, tea.Quit
	}
	return m, nil
}

// capturesInput reports whether the active view is a form that needs
// every key.
func (m Model) capturesInput() bool {
	switch m.currentView {
	case ViewLogin, ViewTicketForm, ViewCommand:
		return true
	case ViewDetail:
		return m.detail.Editing()
	case ViewSettings:
		return m.settingsView.Editing()
	}
	return false
}

func (m *Model) navigate(v ViewState) {
	m.previousView = m.currentView
	m.currentView = v
}

func (m *Model) openDetail(t model.Ticket, tracked bool) {
	if m.currentView != ViewDetail {
		m.navigate(ViewDetail)
	}
	m.detailTracked = tracked
	m.detail.Show(t)
}

// refreshDetail keeps the open ticket in step with the cache.
func (m *Model) refreshDetail(ev tickets.Event) tea.Cmd {
	id := m.detail.TicketID()
	if m.currentView != ViewDetail || id == "" {
		return nil
	}
	if t, ok := m.coord.Tickets().Get(id); ok {
		m.detailTracked = true
		return m.detail.Refresh(t, true)
	}
	gone := ev.Kind == tickets.EventReset ||
		(ev.Kind == tickets.EventDeleted && ev.ID == id) ||
		(ev.Kind == tickets.EventReplaced && m.detailTracked)
	if gone {
		return m.detail.Refresh(model.Ticket{}, false)
	}
	return nil
}

func (m *Model) enter(s model.Session) (tea.Model, tea.Cmd) {
	m.session = s
	m.errMsg = ""
	m.currentView = ViewTickets
	m.previousView = ViewTickets
	m.unread = m.coord.Notes().UnreadCount()
	cmd := tea.Batch(m.ticketList.Reload(), m.notifications.Reload())
	return *m, cmd
}

func (m *Model) showLogin(mode auth.Mode) tea.Cmd {
	m.currentView = ViewLogin
	return m.authView.Start(mode)
}

func (m Model) signOut(expired bool) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		return signedOutMsg{err: coord.Logout(context.Background()), expired: expired}
	}
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.authView, cmd = m.authView.Update(msg)
	case ViewTickets:
		m.ticketList, cmd = m.ticketList.Update(msg)
	case ViewNotifications:
		m.notifications, cmd = m.notifications.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewTicketForm:
		m.ticketForm, cmd = m.ticketForm.Update(msg)
	case ViewAdmin:
		m.adminView, cmd = m.adminView.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(" Ticket Desk ", m.headerSegments()...)
	statusBar := m.layout.RenderStatusBar(" "+m.keyHints(), m.statusError())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

func (m Model) headerSegments() []string {
	if !m.session.Active() {
		return nil
	}
	var segs []string
	if m.unread > 0 {
		segs = append(segs, theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d new", m.unread)))
	}
	name := m.status.String()
	segs = append(segs,
		theme.ConnectionStyle(name).Render("● "+name),
	)
	if m.status == realtime.StatusFailed && !m.lastSynced.IsZero() {
		segs = append(segs, theme.DimmedStyle.Render("synced "+m.lastSynced.Local().Format("Jan 2 15:04")))
	}
	segs = append(segs, theme.HeaderStyle.Render(m.session.User.DisplayName()))
	return segs
}

// statusError is shown instead of the key hints while set.
func (m Model) statusError() string {
	if m.errMsg == "" || m.currentView == ViewLogin {
		return ""
	}
	return " " + m.errMsg
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.authView.View()
	case ViewTickets:
		return m.ticketList.View()
	case ViewNotifications:
		return m.notifications.View()
	case ViewDetail:
		return m.detail.View()
	case ViewTicketForm:
		return m.ticketForm.View()
	case ViewAdmin:
		return m.adminView.View()
	case ViewSettings:
		return m.settingsView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		if m.errMsg != "" {
			return m.errMsg
		}
		return "enter submit | ctrl+r switch form | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewNotifications:
		return "enter open | m read | M read all | d delete | D clear all | esc back"
	case ViewDetail:
		if m.detail.Editing() {
			return "enter submit | esc cancel"
		}
		return "esc back | c comment/status | j/k scroll"
	case ViewTicketForm:
		return "enter submit | esc cancel"
	case ViewAdmin:
		return "tab section | o role | p priority | 0 clear | r reload | esc back"
	case ViewSettings:
		if m.settingsView.Editing() {
			return "enter next | esc cancel"
		}
		return "e edit | esc back"
	case ViewCommand:
		return "enter run | tab complete | esc cancel"
	default:
		hints := "q quit | ? help | : command | tab raised/assigned | i notifications | p/s filter"
		if m.session.User != nil && m.session.User.Role.CanRaiseTickets() {
			hints += " | n new"
		}
		if m.session.User != nil && m.session.User.Role.IsAdmin() {
			hints += " | a admin"
		}
		if m.status == realtime.StatusFailed {
			hints += " | R reconnect"
		}
		if f := m.ticketList.FilterSummary(); f != "" {
			hints = f + " | 0 clear | " + hints
		}
		return hints
	}
}

// friendly maps API errors to short user-facing text.
func friendly(err error) error {
	var he *api.HTTPError
	switch {
	case api.IsAuthError(err):
		return errors.New("not authorized")
	case errors.As(err, &he) && he.Message != "":
		return errors.New(he.Message)
	default:
		return err
	}
}
