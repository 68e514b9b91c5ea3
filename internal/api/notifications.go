package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nhle/ticketdesk/internal/model"
)

// ListNotifications fetches the caller's notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var ns []model.Notification
	if err := c.get(ctx, "/notifications", &ns); err != nil {
		return nil, fmt.Errorf("client.ListNotifications: %w", err)
	}
	return ns, nil
}

// MarkNotificationRead marks a single notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.put(ctx, "/notifications/"+url.PathEscape(id)+"/read", nil); err != nil {
		return fmt.Errorf("client.MarkNotificationRead: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.put(ctx, "/notifications/read-all", nil); err != nil {
		return fmt.Errorf("client.MarkAllNotificationsRead: %w", err)
	}
	return nil
}

// DeleteNotification removes a single notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if err := c.delete(ctx, "/notifications/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("client.DeleteNotification: %w", err)
	}
	return nil
}

// ClearNotifications removes every notification.
func (c *Client) ClearNotifications(ctx context.Context) error {
	if err := c.delete(ctx, "/notifications"); err != nil {
		return fmt.Errorf("client.ClearNotifications: %w", err)
	}
	return nil
}
