package model

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Priority is the urgency level of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Priorities lists every priority in display order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Statuses lists every status in workflow order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

// DefaultCategory is used when a ticket is raised without a category.
const DefaultCategory = "general"

// UserRef points at a user. The backend sends either a populated user
// object or a bare identifier; both decode into a UserRef.
type UserRef struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// UnmarshalJSON accepts a string identifier or a user object.
func (u *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = UserRef{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decoding user id: %w", err)
		}
		*u = UserRef{ID: id}
		return nil
	}

	type plain UserRef
	var p struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding user: %w", err)
	}
	*u = UserRef(p.plain)
	if u.ID == "" {
		u.ID = p.AltID
	}
	return nil
}

// DisplayName returns the name, falling back to the email address.
func (u *UserRef) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Comment is a single entry in a ticket's discussion thread.
type Comment struct {
	Text      string    `json:"text"`
	AddedBy   *UserRef  `json:"addedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ticket is a support ticket as consumed by the sync layer.
type Ticket struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Category    string    `json:"category,omitempty"`
	CreatedBy   *UserRef  `json:"createdBy,omitempty"`
	AssignedTo  *UserRef  `json:"assignedTo,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Version is the server-assigned revision counter. It increases on
	// every server-side write to the ticket.
	Version int64 `json:"version"`

	// Pending marks a locally inserted placeholder that has not been
	// confirmed by the server yet.
	Pending bool `json:"-"`
}

// UnmarshalJSON decodes a ticket, accepting "id" as an alias for "_id"
// and mongoose's "__v" when no explicit version is sent.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	type plain Ticket
	var p struct {
		plain
		AltID string `json:"id"`
		MV    *int64 `json:"__v"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding ticket: %w", err)
	}
	*t = Ticket(p.plain)
	if t.ID == "" {
		t.ID = p.AltID
	}
	if t.Version == 0 && p.MV != nil {
		t.Version = *p.MV
	}
	return nil
}

// CreatorID returns the creator's identifier or "" when unknown.
func (t *Ticket) CreatorID() string {
	if t.CreatedBy == nil {
		return ""
	}
	return t.CreatedBy.ID
}

// AssigneeID returns the assignee's identifier or "" when unassigned.
func (t *Ticket) AssigneeID() string {
	if t.AssignedTo == nil {
		return ""
	}
	return t.AssignedTo.ID
}

// Newer reports whether t is a strictly later revision than other.
// Versions are compared first; UpdatedAt breaks ties when both carry
// the same (or no) version.
func (t *Ticket) Newer(other *Ticket) bool {
	if t.Version != other.Version {
		return t.Version > other.Version
	}
	return t.UpdatedAt.After(other.UpdatedAt)
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (t Ticket) Clone() Ticket {
	c := t
	if t.CreatedBy != nil {
		u := *t.CreatedBy
		c.CreatedBy = &u
	}
	if t.AssignedTo != nil {
		u := *t.AssignedTo
		c.AssignedTo = &u
	}
	if t.Comments != nil {
		c.Comments = make([]Comment, len(t.Comments))
		copy(c.Comments, t.Comments)
	}
	return c
}

// TicketID is the payload of a deletion event.
type TicketID struct {
	ID string `json:"id"`
}

// UnmarshalJSON accepts {"id": ...}, {"_id": ...} or a bare string.
func (d *TicketID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &d.ID)
	}
	var p struct {
		ID    string `json:"id"`
		AltID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding ticket id: %w", err)
	}
	d.ID = p.ID
	if d.ID == "" {
		d.ID = p.AltID
	}
	return nil
}
