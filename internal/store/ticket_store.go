package store

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/nhle/ticketdesk/internal/model"
)

// ticketRow is the persisted form of one cached ticket.
type ticketRow struct {
	Collection Collection `db:"collection"`
	Body       string     `db:"body"`
}

// SaveTickets replaces userID's cached raised and assigned lists.
// Unconfirmed placeholders are not persisted.
func (s *SQLiteStore) SaveTickets(
	ctx context.Context,
	userID string,
	raised, assigned []model.Ticket,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tickets WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing tickets for %s: %w", userID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO tickets (
			user_id, collection, position, id,
			priority, status, version, updated_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing ticket insert: %w", err)
	}
	defer stmt.Close()

	for _, list := range []struct {
		c     Collection
		items []model.Ticket
	}{
		{CollectionRaised, raised},
		{CollectionAssigned, assigned},
	} {
		pos := 0
		for _, t := range list.items {
			if t.Pending {
				continue
			}
			body, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshaling ticket %s: %w", t.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				userID, string(list.c), pos, t.ID,
				string(t.Priority), string(t.Status), t.Version, t.UpdatedAt.UTC(), string(body),
			); err != nil {
				return fmt.Errorf("inserting ticket %s: %w", t.ID, err)
			}
			pos++
		}
	}

	if err := touch(ctx, tx, userID, "tickets_at", s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadTickets returns userID's cached ticket lists in saved order.
func (s *SQLiteStore) LoadTickets(
	ctx context.Context,
	userID string,
) (raised, assigned []model.Ticket, err error) {
	var rows []ticketRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT collection, body FROM tickets
		WHERE user_id = ?
		ORDER BY collection, position`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying tickets for %s: %w", userID, err)
	}

	for _, row := range rows {
		var t model.Ticket
		if err := json.Unmarshal([]byte(row.Body), &t); err != nil {
			return nil, nil, fmt.Errorf("unmarshaling cached ticket: %w", err)
		}
		switch row.Collection {
		case CollectionRaised:
			raised = append(raised, t)
		case CollectionAssigned:
			assigned = append(assigned, t)
		}
	}
	return raised, assigned, nil
}

// CountTickets counts cached tickets in collection c. An empty status
// counts every ticket.
func (s *SQLiteStore) CountTickets(
	ctx context.Context,
	userID string,
	c Collection,
	status model.Status,
) (int, error) {
	query := "SELECT COUNT(*) FROM tickets WHERE user_id = ? AND collection = ?"
	args := []any{userID, string(c)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("counting %s tickets: %w", c, err)
	}
	return n, nil
}
