package ticketlist

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/tickets"
)

type fakeSource struct {
	raised, assigned []model.Ticket
}

func (f fakeSource) Raised(flt tickets.Filter) []model.Ticket   { return flt.Apply(f.raised) }
func (f fakeSource) Assigned(flt tickets.Filter) []model.Ticket { return flt.Apply(f.assigned) }
func (f fakeSource) State() tickets.State                        { return tickets.State{} }

func keyMsg(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestList() Model {
	src := fakeSource{
		raised: []model.Ticket{
			{ID: "t1", Title: "VPN", Priority: model.PriorityHigh, Status: model.StatusOpen},
			{ID: "t2", Title: "Mouse", Priority: model.PriorityLow, Status: model.StatusResolved},
		},
		assigned: []model.Ticket{
			{ID: "t9", Title: "Badge", Priority: model.PriorityMedium, Status: model.StatusOpen},
		},
	}
	m := New(src, keys.DefaultKeyMap(), 80, 20)
	m.Reload()
	return m
}

func TestTabsAndFilters(t *testing.T) {
	m := newTestList()
	if n := len(m.list.Items()); n != 2 {
		t.Fatalf("raised items = %d, want 2", n)
	}

	m, _ = m.Update(keyMsg("tab"))
	if m.Tab() != TabAssigned || len(m.list.Items()) != 1 {
		t.Errorf("after tab: %s with %d items", m.Tab(), len(m.list.Items()))
	}

	m, _ = m.Update(keyMsg("tab"))
	m, _ = m.Update(keyMsg("p")) // low
	if m.Filter().Priority != model.PriorityLow || len(m.list.Items()) != 1 {
		t.Errorf("priority filter %q left %d items", m.Filter().Priority, len(m.list.Items()))
	}
	if m.FilterSummary() != "filter: priority=low" {
		t.Errorf("FilterSummary = %q", m.FilterSummary())
	}

	m, _ = m.Update(keyMsg("0"))
	if !m.Filter().IsZero() || len(m.list.Items()) != 2 {
		t.Error("clear filters did not restore the list")
	}
}

func TestSelectEmitsTicketID(t *testing.T) {
	m := newTestList()
	_, cmd := m.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("no command on select")
	}
	msg, ok := cmd().(SelectedTicketMsg)
	if !ok || msg.TicketID != "t1" {
		t.Errorf("select produced %#v", msg)
	}
}

func TestCycle(t *testing.T) {
	got := []model.Status{""}
	for range len(model.Statuses) + 1 {
		got = append(got, cycle(model.Statuses, got[len(got)-1]))
	}
	want := []model.Status{"", "open", "in-progress", "resolved", "closed", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle sequence = %v, want %v", got, want)
		}
	}
}
