package notifications

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
)

type fakeStore struct {
	items []model.Notification
	calls []string
}

func (f *fakeStore) List() []model.Notification { return f.items }
func (f *fakeStore) State() notify.State        { return notify.State{} }

func (f *fakeStore) UnreadCount() int {
	n := 0
	for _, it := range f.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (f *fakeStore) MarkAsRead(_ context.Context, id string) error {
	f.calls = append(f.calls, "read:"+id)
	return nil
}

func (f *fakeStore) MarkAllAsRead(context.Context) error {
	f.calls = append(f.calls, "read-all")
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.calls = append(f.calls, "delete:"+id)
	return nil
}

func (f *fakeStore) ClearAll(context.Context) error {
	f.calls = append(f.calls, "clear")
	return nil
}

// collect runs cmd, expanding batches, and returns every message.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func newModel(items ...model.Notification) (Model, *fakeStore) {
	s := &fakeStore{items: items}
	m := New(s, keys.DefaultKeyMap(), 80, 20)
	m.Reload()
	return m, s
}

func TestSelectMarksReadAndOpensTicket(t *testing.T) {
	embedded := model.Ticket{ID: "t1", Title: "VPN"}
	m, s := newModel(
		model.Notification{ID: "n1", Title: "Assigned", Ticket: &model.TicketRef{ID: "t1", Ticket: &embedded}},
	)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	var open *OpenTicketMsg
	for _, msg := range collect(cmd) {
		if o, ok := msg.(OpenTicketMsg); ok {
			open = &o
		}
	}
	if len(s.calls) != 1 || s.calls[0] != "read:n1" {
		t.Errorf("store calls = %v, want [read:n1]", s.calls)
	}
	if open == nil || open.TicketID != "t1" || open.Ticket == nil || open.Ticket.Title != "VPN" {
		t.Fatalf("open msg = %+v", open)
	}
}

func TestSelectReadBareReference(t *testing.T) {
	m, s := newModel(
		model.Notification{ID: "n1", Title: "Resolved", Read: true, Ticket: &model.TicketRef{ID: "t9"}},
	)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msgs := collect(cmd)
	if len(s.calls) != 0 {
		t.Errorf("read notification marked again: %v", s.calls)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	open, ok := msgs[0].(OpenTicketMsg)
	if !ok || open.TicketID != "t9" || open.Ticket != nil {
		t.Errorf("open = %+v", msgs[0])
	}
}

func TestActions(t *testing.T) {
	m, s := newModel(
		model.Notification{ID: "n1", Title: "one"},
		model.Notification{ID: "n2", Title: "two"},
	)

	for _, r := range "mdMD" {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		for _, msg := range collect(cmd) {
			if done, ok := msg.(ActionDoneMsg); ok && done.Err != nil {
				t.Errorf("%s: %v", done.Action, done.Err)
			}
		}
	}

	want := []string{"read:n1", "delete:n1", "read-all", "clear"}
	if strings.Join(s.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", s.calls, want)
	}
}

func TestEmptyState(t *testing.T) {
	m, _ := newModel()
	if !strings.Contains(m.View(), "No notifications") {
		t.Errorf("empty view = %q", m.View())
	}
}
