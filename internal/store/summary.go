package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/ticketdesk/internal/model"
)

// Summary describes what is cached for one user.
type Summary struct {
	SyncState
	Unread       int
	OpenRaised   int
	OpenAssigned int
}

// LastSaved returns the later of the two save times, or the zero time
// when nothing was ever saved.
func (s Summary) LastSaved() time.Time {
	if s.TicketsAt.After(s.NotificationsAt) {
		return s.TicketsAt
	}
	return s.NotificationsAt
}

// Summarize reads userID's cached counts and save times from s.
func Summarize(ctx context.Context, s Store, userID string) (Summary, error) {
	state, err := s.SyncState(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{SyncState: state}

	var errs []error
	sum.Unread, err = s.UnreadNotifications(ctx, userID)
	errs = append(errs, err)
	sum.OpenRaised, err = s.CountTickets(ctx, userID, CollectionRaised, model.StatusOpen)
	errs = append(errs, err)
	sum.OpenAssigned, err = s.CountTickets(ctx, userID, CollectionAssigned, model.StatusOpen)
	errs = append(errs, err)
	return sum, errors.Join(errs...)
}
