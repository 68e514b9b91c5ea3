// Package store persists the last known notification and ticket lists
// per user so the UI can render immediately on startup, before the
// first fetch completes.
package store

import (
	"context"
	"time"

	"github.com/nhle/ticketdesk/internal/model"
)

// Collection names a ticket list within a user's snapshot.
type Collection string

const (
	CollectionRaised   Collection = "raised"
	CollectionAssigned Collection = "assigned"
)

// SyncState records when each list was last persisted for a user.
// Zero times mean the list has never been saved.
type SyncState struct {
	UserID          string    `db:"user_id"`
	NotificationsAt time.Time `db:"notifications_at"`
	TicketsAt       time.Time `db:"tickets_at"`
}

// Store defines the persistence interface for cached snapshots.
type Store interface {
	// === Notifications ===

	SaveNotifications(ctx context.Context, userID string, items []model.Notification) error
	LoadNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	UnreadNotifications(ctx context.Context, userID string) (int, error)

	// === Tickets ===

	SaveTickets(ctx context.Context, userID string, raised, assigned []model.Ticket) error
	LoadTickets(ctx context.Context, userID string) (raised, assigned []model.Ticket, err error)
	CountTickets(ctx context.Context, userID string, c Collection, status model.Status) (int, error)

	// === Housekeeping ===

	SyncState(ctx context.Context, userID string) (SyncState, error)
	ClearUser(ctx context.Context, userID string) error
	Close() error
}
