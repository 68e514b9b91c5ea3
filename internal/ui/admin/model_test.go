package admin

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
)

type fakeSource struct {
	filters []api.UserFilter
	err     error
}

func (f *fakeSource) AdminTickets(context.Context) ([]model.Ticket, error) {
	return []model.Ticket{
		{ID: "t1", Title: "VPN down", Status: model.StatusOpen, Priority: model.PriorityHigh},
		{ID: "t2", Title: "Laptop", Status: model.StatusResolved, Priority: model.PriorityLow},
	}, f.err
}

func (f *fakeSource) AdminUsers(_ context.Context, filter api.UserFilter) ([]api.UserStats, error) {
	f.filters = append(f.filters, filter)
	return []api.UserStats{{ID: "u1", Name: "Ann", Role: "developer", TicketsRaised: 3}}, f.err
}

func (f *fakeSource) AdminReports(context.Context) (*api.Report, error) {
	return &api.Report{TotalTickets: 7, Open: 4, Resolved: 3, High: 2}, f.err
}

func press(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// drive runs cmd and feeds its message back into m.
func drive(m Model, cmd tea.Cmd) Model {
	if cmd == nil {
		return m
	}
	m, _ = m.Update(cmd())
	return m
}

func TestSectionsLoad(t *testing.T) {
	src := &fakeSource{}
	k := keys.DefaultKeyMap()
	m := New(src, k, 120, 30)

	m = drive(m, m.Load())
	if got := len(m.table.Rows()); got != 2 {
		t.Fatalf("tickets section has %d rows, want 2", got)
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = drive(m, cmd)
	if m.Section() != SectionUsers {
		t.Fatalf("section = %v, want users", m.Section())
	}
	if rows := m.table.Rows(); len(rows) != 1 || rows[0][0] != "Ann" {
		t.Errorf("user rows = %v", rows)
	}

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = drive(m, cmd)
	if m.Section() != SectionReports || m.report == nil || m.report.TotalTickets != 7 {
		t.Fatalf("report section not loaded: %v %+v", m.Section(), m.report)
	}
	if !strings.Contains(m.View(), "Total tickets") {
		t.Error("report view missing totals")
	}
}

func TestUserFilters(t *testing.T) {
	src := &fakeSource{}
	m := New(src, keys.DefaultKeyMap(), 120, 30)
	m.section = SectionUsers

	m, cmd := m.Update(press('o'))
	m = drive(m, cmd)
	m, cmd = m.Update(press('p'))
	m = drive(m, cmd)

	if m.Filter().Role != "employee" || m.Filter().Priority != model.PriorityLow {
		t.Fatalf("filter = %+v", m.Filter())
	}
	last := src.filters[len(src.filters)-1]
	if last.Role != "employee" || last.Priority != model.PriorityLow {
		t.Errorf("request filter = %+v", last)
	}

	m, cmd = m.Update(press('0'))
	drive(m, cmd)
	if last := src.filters[len(src.filters)-1]; last != (api.UserFilter{}) {
		t.Errorf("cleared filter = %+v", last)
	}
}

func TestLoadErrorShown(t *testing.T) {
	src := &fakeSource{err: errors.New("forbidden")}
	m := New(src, keys.DefaultKeyMap(), 120, 30)
	m = drive(m, m.Load())
	if !strings.Contains(m.View(), "forbidden") {
		t.Errorf("error not rendered:\n%s", m.View())
	}
}

func TestStaleSectionIgnored(t *testing.T) {
	m := New(&fakeSource{}, keys.DefaultKeyMap(), 120, 30)
	m.section = SectionReports
	m, _ = m.Update(LoadedMsg{Section: SectionTickets, Tickets: []model.Ticket{{ID: "x"}}})
	if len(m.table.Rows()) != 0 {
		t.Error("result for another section was applied")
	}
}
