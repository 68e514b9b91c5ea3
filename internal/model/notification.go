package model

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Notification represents an alert pushed to the user about activity
// on a ticket.
type Notification struct {
	// ID is the server-assigned unique identifier.
	ID string `json:"_id"`

	// Title is the human-readable notification text.
	Title string `json:"title"`

	// Ticket references the ticket this notification is about, if any.
	Ticket *TicketRef `json:"ticket,omitempty"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when the server generated the notification.
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON accepts "id" as an alias for "_id".
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	var p struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding notification: %w", err)
	}
	*n = Notification(p.plain)
	if n.ID == "" {
		n.ID = p.AltID
	}
	return nil
}

// TicketID returns the referenced ticket identifier or "".
func (n *Notification) TicketID() string {
	if n.Ticket == nil {
		return ""
	}
	return n.Ticket.ID
}

// TicketRef is either a full embedded ticket snapshot or a bare
// identifier. ID is always populated; Ticket only for the embedded form.
type TicketRef struct {
	ID     string
	Ticket *Ticket
}

// UnmarshalJSON decodes both reference forms.
func (r *TicketRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = TicketRef{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decoding ticket reference: %w", err)
		}
		*r = TicketRef{ID: id}
		return nil
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*r = TicketRef{ID: t.ID, Ticket: &t}
	return nil
}

// MarshalJSON writes the embedded ticket when present, otherwise the id.
func (r TicketRef) MarshalJSON() ([]byte, error) {
	if r.Ticket != nil {
		return json.Marshal(r.Ticket)
	}
	return json.Marshal(r.ID)
}

// Embedded reports whether the reference carries a full ticket snapshot.
func (r *TicketRef) Embedded() bool {
	return r != nil && r.Ticket != nil
}
