package api

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	json "github.com/goccy/go-json"

	"github.com/nhle/ticketdesk/internal/model"
)

// CreateTicketRequest is the payload for POST /tickets.
type CreateTicketRequest struct {
	Title       string         `json:"title" validate:"required"`
	Description string         `json:"description" validate:"required"`
	Priority    model.Priority `json:"priority" validate:"required,oneof=low medium high"`
	Category    string         `json:"category,omitempty"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
}

// CommentRequest is the payload for POST /tickets/{id}/comments. Either
// field may be empty but not both.
type CommentRequest struct {
	Text   string       `json:"text" validate:"required_without=Status"`
	Status model.Status `json:"status,omitempty" validate:"omitempty,oneof=open in-progress resolved closed"`
}

// TicketSnapshot is the caller's view of GET /tickets.
type TicketSnapshot struct {
	Raised   []model.Ticket `json:"raised"`
	Assigned []model.Ticket `json:"assigned"`
}

// UnmarshalJSON accepts the split {raised, assigned} object as well as
// a bare array, which is treated as the raised-by-me list.
func (s *TicketSnapshot) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raised []model.Ticket
		if err := json.Unmarshal(data, &raised); err != nil {
			return fmt.Errorf("decoding ticket list: %w", err)
		}
		*s = TicketSnapshot{Raised: raised}
		return nil
	}
	type plain TicketSnapshot
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding ticket snapshot: %w", err)
	}
	*s = TicketSnapshot(p)
	return nil
}

// ListTickets fetches the raised-by-me and assigned-to-me collections.
func (c *Client) ListTickets(ctx context.Context) (*TicketSnapshot, error) {
	var snap TicketSnapshot
	if err := c.get(ctx, "/tickets", &snap); err != nil {
		return nil, fmt.Errorf("client.ListTickets: %w", err)
	}
	return &snap, nil
}

// GetTicket fetches a single ticket with its comment thread.
func (c *Client) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	if err := c.get(ctx, "/tickets/"+url.PathEscape(id), &t); err != nil {
		return nil, fmt.Errorf("client.GetTicket: %w", err)
	}
	return &t, nil
}

// CreateTicket raises a new ticket. Priority defaults to medium and
// category to general.
func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (*model.Ticket, error) {
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if req.Category == "" {
		req.Category = model.DefaultCategory
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("client.CreateTicket: %w", err)
	}
	var created model.Ticket
	if err := c.post(ctx, "/tickets", req, &created); err != nil {
		return nil, fmt.Errorf("client.CreateTicket: %w", err)
	}
	return &created, nil
}

// AddComment appends a comment and/or changes the status of a ticket,
// returning the updated ticket.
func (c *Client) AddComment(ctx context.Context, id string, req CommentRequest) (*model.Ticket, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("client.AddComment: %w", err)
	}
	var updated model.Ticket
	if err := c.post(ctx, "/tickets/"+url.PathEscape(id)+"/comments", req, &updated); err != nil {
		return nil, fmt.Errorf("client.AddComment: %w", err)
	}
	return &updated, nil
}
