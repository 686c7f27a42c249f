package channel

import (
	"context"
	"encoding/json"

	"auction-client/internal/domain"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

const notificationPath = "/ws/notifications"

// NotificationEvent is one update from the user's notification stream.
type NotificationEvent struct {
	Type         string               `json:"type"`
	Notification *domain.Notification `json:"notification,omitempty"`
	UnreadCount  int                  `json:"unread_count,omitempty"`
	MarkedIDs    []string             `json:"marked_ids,omitempty"`
}

var notificationEventTypes = []string{
	domain.TypeNotification,
	domain.TypeUnreadCount,
	domain.TypeMarkReadAck,
}

// NotificationChannel streams per-user notifications.
type NotificationChannel struct {
	registry *ws.Registry
	sock     *ws.Socket
	log      logger.Logger
}

func OpenNotifications(registry *ws.Registry, log logger.Logger) *NotificationChannel {
	return &NotificationChannel{
		registry: registry,
		sock:     registry.GetOrCreate(notificationPath),
		log:      log,
	}
}

func (c *NotificationChannel) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx)
}

func (c *NotificationChannel) Close() {
	c.registry.Remove(notificationPath)
}

func (c *NotificationChannel) Socket() *ws.Socket {
	return c.sock
}

func (c *NotificationChannel) Subscribe(h func(NotificationEvent)) func() {
	return subscribeTypes(c.sock, notificationEventTypes, func(data []byte) {
		var ev NotificationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode notification event", "error", err)
			return
		}
		h(ev)
	})
}

// MarkRead acknowledges notifications; the updated unread count comes back
// through the subscribed stream.
func (c *NotificationChannel) MarkRead(ctx context.Context, ids []string) error {
	return c.sock.Send(ctx, map[string]any{
		"action": domain.ActionMarkRead,
		"ids":    ids,
	})
}
