package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/store"
	appsync "github.com/nhle/ticketdesk/internal/sync"
	"github.com/nhle/ticketdesk/internal/tickets"
	"github.com/nhle/ticketdesk/internal/ui/command"
	configview "github.com/nhle/ticketdesk/internal/ui/config"
	"github.com/nhle/ticketdesk/internal/ui/detail"
	"github.com/nhle/ticketdesk/internal/ui/ticketlist"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := api.NewClient(model.APIConfig{BaseURL: srv.URL + "/api"}, "")
	notes := notify.New(client, nil, logger)
	tix := tickets.New(client, tickets.Options{}, logger)
	hub := realtime.NewHub(realtime.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}, notes, tix, logger)

	coord := appsync.NewCoordinator(appsync.Deps{
		Client:  client,
		Vault:   credential.NewVault(keyring.NewArrayKeyring(nil)),
		Notes:   notes,
		Tickets: tix,
		Hub:     hub,
		Logger:  logger,
	})
	t.Cleanup(coord.Close)

	m := New(coord, logger)
	return update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func press(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func session(role model.Role) model.Session {
	return model.Session{Token: "tok", User: &model.User{ID: "u1", Name: "Ann", Role: role}}
}

func TestResumeWithoutSessionShowsLogin(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{err: credential.ErrNoSession})

	if m.currentView != ViewLogin {
		t.Fatalf("view = %v, want login", m.currentView)
	}
	if m.errMsg != "" {
		t.Errorf("missing credentials reported as error: %q", m.errMsg)
	}
	if !strings.Contains(m.View(), "Sign in") {
		t.Error("login form not rendered")
	}
}

func TestNavigation(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})
	if m.currentView != ViewTickets {
		t.Fatalf("view = %v after resume, want tickets", m.currentView)
	}

	steps := []struct {
		key  string
		want ViewState
	}{
		{"i", ViewNotifications},
		{"esc", ViewTickets},
		{"?", ViewHelp},
		{"?", ViewTickets},
		{"a", ViewTickets}, // not an admin
		{"n", ViewTicketForm},
	}
	for _, s := range steps {
		m = update(t, m, press(s.key))
		if m.currentView != s.want {
			t.Fatalf("after %q view = %v, want %v", s.key, m.currentView, s.want)
		}
	}

	// Keys go to the form, not the global handler.
	m = update(t, m, press("q"))
	if m.currentView != ViewTicketForm {
		t.Errorf("q left the form: view = %v", m.currentView)
	}
}

func TestAdminOnlyForAdmins(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleAdmin)})
	m = update(t, m, press("a"))
	if m.currentView != ViewAdmin {
		t.Errorf("view = %v, want admin", m.currentView)
	}
	m = update(t, m, press("n"))
	if m.currentView != ViewAdmin {
		t.Errorf("admin opened the ticket form: view = %v", m.currentView)
	}
}

func TestHeaderShowsUnreadAndStatus(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})
	m.coord.Notes().Add(model.Notification{ID: "n1", Title: "hello"})
	m = update(t, m, appsync.NotificationsMsg{Event: notify.Event{Kind: notify.EventAdded, ID: "n1"}})
	m = update(t, m, appsync.ConnStatusMsg{Status: realtime.StatusBackoff})

	view := m.View()
	for _, want := range []string{"1 new", "reconnecting", "Ann"} {
		if !strings.Contains(view, want) {
			t.Errorf("header missing %q", want)
		}
	}
}

func TestHeaderShowsLastSyncWhileOffline(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})

	next, cmd := m.Update(appsync.ConnStatusMsg{Status: realtime.StatusFailed})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("going offline issued no command")
	}

	saved := time.Date(2026, 3, 4, 9, 30, 0, 0, time.Local)
	m = update(t, m, cacheSummaryMsg{summary: store.Summary{
		SyncState: store.SyncState{NotificationsAt: saved.Add(-time.Hour), TicketsAt: saved},
	}})
	if !strings.Contains(m.View(), "synced Mar 4 09:30") {
		t.Errorf("header missing last sync time:\n%s", m.View())
	}

	m = update(t, m, appsync.ConnStatusMsg{Status: realtime.StatusConnected})
	if strings.Contains(m.View(), "synced Mar 4") {
		t.Error("last sync time shown while connected")
	}
}

func TestSignedOutReturnsToLogin(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})
	m = update(t, m, signedOutMsg{expired: true})

	if m.currentView != ViewLogin {
		t.Fatalf("view = %v, want login", m.currentView)
	}
	if !strings.Contains(m.errMsg, "expired") {
		t.Errorf("errMsg = %q", m.errMsg)
	}
	if m.session.Active() {
		t.Error("session still active after sign-out")
	}
}

func TestDetailClosesWhenTicketDeleted(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})

	cache := m.coord.Tickets()
	cache.SetUser("u1")
	cache.Created(model.Ticket{ID: "t1", Title: "VPN down", Version: 1,
		CreatedBy: &model.UserRef{ID: "u1"}})

	m = update(t, m, ticketlist.SelectedTicketMsg{TicketID: "t1"})
	if m.currentView != ViewDetail || m.detail.TicketID() != "t1" {
		t.Fatalf("detail not opened: view=%v id=%q", m.currentView, m.detail.TicketID())
	}

	cache.Deleted("t1")
	cmd := m.refreshDetail(tickets.Event{Kind: tickets.EventDeleted, ID: "t1"})
	if cmd == nil {
		t.Fatal("deletion did not close the detail view")
	}
	closed, ok := cmd().(detail.ClosedMsg)
	if !ok || closed.TicketID != "t1" {
		t.Fatalf("got %+v, want ClosedMsg", closed)
	}

	m = update(t, m, closed)
	if m.currentView != ViewTickets {
		t.Errorf("view = %v after close, want tickets", m.currentView)
	}
}

func TestFriendlyErrors(t *testing.T) {
	if got := friendly(&api.HTTPError{StatusCode: 401, Message: "jwt expired"}); got.Error() != "not authorized" {
		t.Errorf("401 -> %q", got)
	}
	if got := friendly(&api.HTTPError{StatusCode: 400, Message: "title is required"}); got.Error() != "title is required" {
		t.Errorf("400 -> %q", got)
	}
}

func TestCommandPalette(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})

	m = update(t, m, press(":"))
	if m.currentView != ViewCommand {
		t.Fatalf("view = %v, want command", m.currentView)
	}
	// The palette owns the keyboard.
	m = update(t, m, press("q"))
	if m.currentView != ViewCommand {
		t.Fatalf("q left the palette: view = %v", m.currentView)
	}

	m = update(t, m, command.CommandMsg{Name: command.Notifications})
	if m.currentView != ViewNotifications {
		t.Errorf("view = %v, want notifications", m.currentView)
	}

	m = update(t, m, press(":"))
	m = update(t, m, command.CommandMsg{Name: command.Admin})
	if m.currentView != ViewNotifications || !strings.Contains(m.errMsg, "admins only") {
		t.Errorf("admin for employee: view = %v, err = %q", m.currentView, m.errMsg)
	}

	m = update(t, m, press(":"))
	m = update(t, m, command.CancelMsg{})
	if m.currentView != ViewNotifications {
		t.Errorf("cancel returned to %v", m.currentView)
	}
}

func TestSettingsView(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, resumedMsg{session: session(model.RoleEmployee)})

	m = update(t, m, press(","))
	if m.currentView != ViewTickets {
		t.Fatalf("settings opened without a config: view = %v", m.currentView)
	}

	cfg := model.AppConfig{API: model.APIConfig{BaseURL: "http://localhost:5000/api"}}
	m = m.WithSettings(cfg, t.TempDir()+"/config.yaml")
	m = update(t, m, press(","))
	if m.currentView != ViewSettings {
		t.Fatalf("view = %v, want settings", m.currentView)
	}
	if !strings.Contains(m.View(), "ws://localhost:5000/ws") {
		t.Errorf("derived push URL missing:\n%s", m.View())
	}
	m = update(t, m, configview.ConfigDoneMsg{})
	if m.currentView != ViewTickets {
		t.Errorf("view = %v after close", m.currentView)
	}
}
