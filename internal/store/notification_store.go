package store

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/nhle/ticketdesk/internal/model"
)

// SaveNotifications replaces userID's cached notification list, keeping
// its order.
func (s *SQLiteStore) SaveNotifications(
	ctx context.Context,
	userID string,
	items []model.Notification,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing notifications for %s: %w", userID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO notifications (user_id, position, id, read, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing notification insert: %w", err)
	}
	defer stmt.Close()

	for i, n := range items {
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshaling notification %s: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			userID, i, n.ID, boolToInt(n.Read), n.CreatedAt.UTC(), string(body),
		); err != nil {
			return fmt.Errorf("inserting notification %s: %w", n.ID, err)
		}
	}

	if err := touch(ctx, tx, userID, "notifications_at", s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadNotifications returns userID's cached notifications in saved order.
func (s *SQLiteStore) LoadNotifications(
	ctx context.Context,
	userID string,
) ([]model.Notification, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies,
		"SELECT body FROM notifications WHERE user_id = ? ORDER BY position", userID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications for %s: %w", userID, err)
	}

	items := make([]model.Notification, 0, len(bodies))
	for _, body := range bodies {
		var n model.Notification
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return nil, fmt.Errorf("unmarshaling cached notification: %w", err)
		}
		items = append(items, n)
	}
	return items, nil
}

// UnreadNotifications counts userID's cached unread notifications.
func (s *SQLiteStore) UnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}
