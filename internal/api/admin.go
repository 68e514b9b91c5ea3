package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nhle/ticketdesk/internal/model"
)

// dateLayout is the format of the admin date filters.
const dateLayout = "2006-01-02"

// UserFilter narrows the admin user listing. Zero values are omitted.
type UserFilter struct {
	Role           string
	Priority       model.Priority
	AssignedAfter  time.Time
	ResolvedBefore time.Time
}

func (f UserFilter) query() string {
	params := url.Values{}
	if f.Role != "" {
		params.Set("role", f.Role)
	}
	if f.Priority != "" {
		params.Set("priority", string(f.Priority))
	}
	if !f.AssignedAfter.IsZero() {
		params.Set("assignedAfter", f.AssignedAfter.Format(dateLayout))
	}
	if !f.ResolvedBefore.IsZero() {
		params.Set("resolvedBefore", f.ResolvedBefore.Format(dateLayout))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// UserStats is a row of the admin user listing.
type UserStats struct {
	ID              string         `json:"_id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	Role            string         `json:"role"`
	Priority        model.Priority `json:"priority,omitempty"`
	TicketsRaised   int            `json:"ticketsRaised"`
	TicketsResolved int            `json:"ticketsResolved"`
}

// Report is the admin ticket summary.
type Report struct {
	TotalTickets int `json:"totalTickets"`
	Open         int `json:"open"`
	Resolved     int `json:"resolved"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
}

// AdminTickets lists every ticket in the system.
func (c *Client) AdminTickets(ctx context.Context) ([]model.Ticket, error) {
	var ts []model.Ticket
	if err := c.get(ctx, "/admin/tickets", &ts); err != nil {
		return nil, fmt.Errorf("client.AdminTickets: %w", err)
	}
	return ts, nil
}

// AdminUsers lists users with ticket statistics, filtered by f.
func (c *Client) AdminUsers(ctx context.Context, f UserFilter) ([]UserStats, error) {
	var users []UserStats
	if err := c.get(ctx, "/admin/users"+f.query(), &users); err != nil {
		return nil, fmt.Errorf("client.AdminUsers: %w", err)
	}
	return users, nil
}

// AdminReports returns ticket counts by status and priority.
func (c *Client) AdminReports(ctx context.Context) (*Report, error) {
	var r Report
	if err := c.get(ctx, "/admin/reports", &r); err != nil {
		return nil, fmt.Errorf("client.AdminReports: %w", err)
	}
	return &r, nil
}
