package detail

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
)

func TestShowAndRefresh(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.Show(model.Ticket{ID: "t1", Title: "VPN down", Status: model.StatusOpen,
		Comments: []model.Comment{{Text: "looking", AddedBy: &model.UserRef{Name: "Dev"}}}})

	if !strings.Contains(m.View(), "VPN down") || !strings.Contains(m.View(), "Comments (1)") {
		t.Fatalf("view missing ticket content:\n%s", m.View())
	}

	if cmd := m.Refresh(model.Ticket{ID: "t1", Title: "VPN restored"}, true); cmd != nil {
		t.Error("refresh of a live ticket returned a command")
	}
	if !strings.Contains(m.View(), "VPN restored") {
		t.Error("refresh did not re-render")
	}

	cmd := m.Refresh(model.Ticket{}, false)
	if cmd == nil {
		t.Fatal("deleted ticket did not close the view")
	}
	closed, ok := cmd().(ClosedMsg)
	if !ok || closed.TicketID != "t1" {
		t.Errorf("got %+v, want ClosedMsg for t1", closed)
	}
	if m.TicketID() != "" {
		t.Error("ticket still displayed after deletion")
	}
}

func TestBack(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.Show(model.Ticket{ID: "t1"})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("esc produced no command")
	}
	if _, ok := cmd().(BackMsg); !ok {
		t.Error("esc did not emit BackMsg")
	}
}

func TestCommentSkippedForPending(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.Show(model.Ticket{ID: "pending-1", Pending: true})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if m.Editing() {
		t.Error("comment form opened for an unconfirmed ticket")
	}

	m.Show(model.Ticket{ID: "t1", Status: model.StatusOpen})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if !m.Editing() {
		t.Error("comment form did not open")
	}
}
