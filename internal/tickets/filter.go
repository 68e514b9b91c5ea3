package tickets

import "github.com/nhle/ticketdesk/internal/model"

// Filter narrows a ticket list by priority and status. Zero fields
// match everything.
type Filter struct {
	Priority model.Priority
	Status   model.Status
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t *model.Ticket) bool {
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// Apply returns copies of the tickets in list that match. list is not
// modified.
func (f Filter) Apply(list []model.Ticket) []model.Ticket {
	out := make([]model.Ticket, 0, len(list))
	for i := range list {
		if f.Matches(&list[i]) {
			out = append(out, list[i].Clone())
		}
	}
	return out
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Priority == "" && f.Status == ""
}
